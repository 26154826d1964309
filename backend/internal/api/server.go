package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/internal/media"
	"github.com/seimmuc/family-tree/backend/pkg/config"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// Authenticator resolves sessions and checks permissions
type Authenticator interface {
	Register(ctx context.Context, username, password, language string) (*graph.User, *graph.Session, error)
	Login(ctx context.Context, username, password string) (*graph.User, *graph.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, sessionID string) (*graph.User, *graph.Session, error)
	Authorize(u *graph.User, perm graph.Permission) error
	Present(u *graph.User) *graph.User
}

// Options wires the server's dependencies
type Options struct {
	Config *config.Config
	Conn   *graph.Connection
	Auth   Authenticator
	Media  *media.Processor
}

// Server exposes the family graph over HTTP
type Server struct {
	cfg    *config.Config
	conn   *graph.Connection
	auth   Authenticator
	media  *media.Processor
	logger *zap.Logger
	login  *ipLimiter
}

// NewServer creates a server
func NewServer(opts Options) *Server {
	return &Server{
		cfg:    opts.Config,
		conn:   opts.Conn,
		auth:   opts.Auth,
		media:  opts.Media,
		logger: logger.Get(),
		login:  newIPLimiter(opts.Config.LoginRateLimit, opts.Config.LoginRateBurst),
	}
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return corsHandler.Handler(s.Router())
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = s.cfg.MediaMaxUploadBytes

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		s.respondError(c, apperrors.NewNotFound("route", c.Request.URL.Path))
	})

	withSession := router.Group("/", s.loadSession())
	viewer := s.requirePermission(graph.PermView)
	editor := s.requirePermission(graph.PermEdit)
	admin := s.requirePermission(graph.PermAdmin)

	withSession.GET("/media/*key", viewer, s.serveMedia)

	api := withSession.Group("/api")
	{
		authRoutes := api.Group("/auth")
		authRoutes.POST("/register", s.rateLimit(s.login), s.register)
		authRoutes.POST("/login", s.rateLimit(s.login), s.loginUser)
		authRoutes.POST("/logout", s.requireUser(), s.logout)
		authRoutes.GET("/me", s.requireUser(), s.me)

		api.PATCH("/account/settings", s.requireUser(), s.updateSettings)

		api.GET("/people", viewer, s.listPeople)
		api.POST("/search", viewer, s.searchPeople)
		api.POST("/people", editor, s.createPerson)
		api.GET("/people/:id", viewer, s.getPerson)
		api.PATCH("/people/:id", editor, s.patchPerson)
		api.PUT("/people/:id", editor, s.replacePerson)
		api.DELETE("/people/:id", editor, s.deletePerson)
		api.GET("/people/:id/relations", viewer, s.personRelations)
		api.GET("/tree/:id", viewer, s.tree)
		api.POST("/relationships", editor, s.addRelationship)
		api.DELETE("/relationships", editor, s.removeRelationship)

		api.POST("/people/:id/portrait", editor, s.uploadPortrait)
		api.DELETE("/people/:id/portrait", editor, s.deletePortrait)
		api.GET("/people/:id/photos", viewer, s.listPhotos)
		api.POST("/people/:id/photos", editor, s.uploadPhotos)
		api.POST("/people/:id/photos/:photoId/link", editor, s.linkPhoto)
		api.DELETE("/people/:id/photos", editor, s.deletePhotos)

		users := api.Group("/users", admin)
		users.GET("", s.listUsers)
		users.POST("/search", s.searchUsers)
		users.POST("/permissions", s.modifyPermissions)
		users.POST("/delete", s.deleteUser)
	}

	return router
}

// fail answers with 400 for undecodable bodies and the mapped status otherwise
func (s *Server) fail(c *gin.Context, err error) {
	if _, ok := apperrors.Base(err); ok {
		s.respondError(c, err)
		return
	}
	badRequest(c, err)
}
