package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

func (s *Server) presentAll(users []*graph.User) []*graph.User {
	out := make([]*graph.User, 0, len(users))
	for _, u := range users {
		out = append(out, s.auth.Present(u))
	}
	return out
}

// POST /api/auth/register
func (s *Server) register(c *gin.Context) {
	var req credentials
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		badRequest(c, err)
		return
	}
	req.normalize()
	if err := validate.Struct(req); err != nil {
		s.respondError(c, validationError(err))
		return
	}

	user, session, err := s.auth.Register(c.Request.Context(), req.Username, req.Password, req.Language)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID))
	s.setSessionCookie(c, session)
	c.JSON(http.StatusCreated, gin.H{"user": s.auth.Present(user)})
}

// POST /api/auth/login
func (s *Server) loginUser(c *gin.Context) {
	var req credentials
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		badRequest(c, err)
		return
	}
	req.normalize()
	if err := validate.Struct(req); err != nil {
		// malformed credentials can never match a stored user
		s.respondError(c, apperrors.ErrUnauthorized)
		return
	}

	user, session, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setSessionCookie(c, session)
	c.JSON(http.StatusOK, gin.H{"user": s.auth.Present(user)})
}

// POST /api/auth/logout
func (s *Server) logout(c *gin.Context) {
	if session := currentSession(c); session != nil {
		if err := s.auth.Logout(c.Request.Context(), session.ID); err != nil {
			s.respondError(c, err)
			return
		}
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// GET /api/auth/me
func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": s.auth.Present(currentUser(c))})
}

// PATCH /api/account/settings
func (s *Server) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := bindJSON(c.Request.Body, &req); err != nil {
		s.fail(c, err)
		return
	}
	user := currentUser(c)
	if req.Language == nil {
		c.JSON(http.StatusOK, gin.H{"user": s.auth.Present(user)})
		return
	}

	ctx := c.Request.Context()
	updated, err := graph.WriteTx(ctx, s.conn, "update options", func(tx neo4j.ManagedTransaction) (*graph.User, error) {
		return graph.NewUserStore(tx).UpdateOptions(ctx, user.ID, *req.Language)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": s.auth.Present(updated)})
}

// GET /api/users?limit&skip
func (s *Server) listUsers(c *gin.Context) {
	var q userPageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, apperrors.NewInvalidArgument("query", err.Error()))
		return
	}
	if err := validate.Struct(q); err != nil {
		s.respondError(c, validationError(err))
		return
	}

	ctx := c.Request.Context()
	users, err := graph.ReadTx(ctx, s.conn, "list users", func(tx neo4j.ManagedTransaction) ([]*graph.User, error) {
		return graph.NewUserStore(tx).ListUsers(ctx, q.Limit, q.Skip)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": s.presentAll(users)})
}

// POST /api/users/search looks a user up by exact username
func (s *Server) searchUsers(c *gin.Context) {
	var req userSearchRequest
	if err := bindJSON(c.Request.Body, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	user, err := graph.ReadTx(ctx, s.conn, "search users", func(tx neo4j.ManagedTransaction) (*graph.User, error) {
		return graph.NewUserStore(tx).GetUserByUsername(ctx, req.Query)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if user == nil {
		s.respondError(c, apperrors.NewNotFound("user", req.Query))
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": s.auth.Present(user)})
}

// POST /api/users/permissions
func (s *Server) modifyPermissions(c *gin.Context) {
	var req permissionsRequest
	if err := bindJSON(c.Request.Body, &req); err != nil {
		s.fail(c, err)
		return
	}
	add, remove, err := req.split()
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	user, err := graph.WriteTx(ctx, s.conn, "modify permissions", func(tx neo4j.ManagedTransaction) (*graph.User, error) {
		return graph.NewUserStore(tx).ModifyPermissions(ctx, req.User, add, remove)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": s.auth.Present(user)})
}

// POST /api/users/delete
func (s *Server) deleteUser(c *gin.Context) {
	var req userIDRequest
	if err := bindJSON(c.Request.Body, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	deleted, err := graph.WriteTx(ctx, s.conn, "delete user", func(tx neo4j.ManagedTransaction) (bool, error) {
		return graph.NewUserStore(tx).DeleteUser(ctx, req.UserID)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !deleted {
		s.respondError(c, apperrors.NewNotFound("user", req.UserID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "deleted"})
}
