package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seimmuc/family-tree/backend/internal/constants"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

const (
	userKey    = "user"
	sessionKey = "session"
)

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if u := currentUser(c); u != nil {
			fields = append(fields, zap.String("user_id", u.ID))
		}
		log.Info("HTTP Request", fields...)
	}
}

// loadSession resolves the session cookie into the current user. Unknown
// or expired tokens leave the request anonymous and clear the cookie.
func (s *Server) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(constants.SessionCookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}
		user, session, err := s.auth.CurrentUser(c.Request.Context(), token)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if session == nil {
			s.clearSessionCookie(c)
			c.Next()
			return
		}
		c.Set(userKey, user)
		c.Set(sessionKey, session)
		c.Next()
	}
}

func currentUser(c *gin.Context) *graph.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*graph.User); ok {
			return u
		}
	}
	return nil
}

func currentSession(c *gin.Context) *graph.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(*graph.Session); ok {
			return s
		}
	}
	return nil
}

// requireUser rejects anonymous requests
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			s.respondError(c, apperrors.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// requirePermission runs before any handler lookup so that missing people
// are indistinguishable from forbidden ones
func (s *Server) requirePermission(perm graph.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.Authorize(currentUser(c), perm); err != nil {
			s.respondError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) setSessionCookie(c *gin.Context, session *graph.Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constants.SessionCookieName, session.ID, maxAge, "/", "", s.cfg.SessionCookieSecure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constants.SessionCookieName, "", -1, "/", "", s.cfg.SessionCookieSecure, true)
}

// ipLimiter hands out one token bucket per client address
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// rateLimit throttles credential endpoints per client IP
func (s *Server) rateLimit(l *ipLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			s.logger.Warn("Rate limited", zap.String("ip", c.ClientIP()), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again later"})
			return
		}
		c.Next()
	}
}
