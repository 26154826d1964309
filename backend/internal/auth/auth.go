package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/seimmuc/family-tree/backend/internal/constants"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// Config controls registration and session lifetime
type Config struct {
	// Admins are usernames that hold every permission regardless of what is stored
	Admins         []string
	MakeFirstAdmin bool
	SessionTTL     time.Duration
}

// Service authenticates users and issues database-backed sessions
type Service struct {
	conn   *graph.Connection
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	// dummyHash keeps failed logins for unknown users as slow as for known ones
	dummyHash []byte
}

// NewService creates an auth service
func NewService(conn *graph.Connection, cfg Config) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	return &Service{
		conn:      conn,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Get(),
		dummyHash: dummy,
	}
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword verifies password against a bcrypt hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *Service) newSession(userID string) *graph.Session {
	return &graph.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	}
}

type login struct {
	User    *graph.User
	Session *graph.Session
}

// Register creates a user and signs it in
func (s *Service) Register(ctx context.Context, username, password, language string) (*graph.User, *graph.Session, error) {
	if language == "" {
		language = constants.DefaultLanguage
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	res, err := graph.WriteTx(ctx, s.conn, "register user", func(tx neo4j.ManagedTransaction) (login, error) {
		u, err := graph.NewUserStore(tx).AddUser(ctx, graph.NewUser{
			Username:     username,
			PasswordHash: hash,
			Language:     language,
		}, s.cfg.MakeFirstAdmin)
		if err != nil {
			return login{}, err
		}
		session := s.newSession(u.ID)
		if err := graph.NewSessionStore(tx).SetSession(ctx, session); err != nil {
			return login{}, err
		}
		return login{User: u, Session: session}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.User, res.Session, nil
}

// Login verifies credentials and opens a new session
func (s *Service) Login(ctx context.Context, username, password string) (*graph.User, *graph.Session, error) {
	u, err := graph.ReadTx(ctx, s.conn, "find user", func(tx neo4j.ManagedTransaction) (*graph.User, error) {
		return graph.NewUserStore(tx).GetUserByUsername(ctx, username)
	})
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil, apperrors.ErrUnauthorized
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.logger.Info("Rejected login", zap.String("user_id", u.ID))
		return nil, nil, apperrors.ErrUnauthorized
	}

	session := s.newSession(u.ID)
	_, err = graph.WriteTx(ctx, s.conn, "create session", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, graph.NewSessionStore(tx).SetSession(ctx, session)
	})
	if err != nil {
		return nil, nil, err
	}
	return u, session, nil
}

// Logout invalidates one session
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	_, err := graph.WriteTx(ctx, s.conn, "delete session", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, graph.NewSessionStore(tx).DeleteSession(ctx, sessionID)
	})
	return err
}

// CurrentUser resolves a session token. It returns nils for unknown or
// expired tokens; expired sessions are removed and sessions past half their
// lifetime are extended.
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*graph.User, *graph.Session, error) {
	if sessionID == "" {
		return nil, nil, nil
	}
	res, err := graph.ReadTx(ctx, s.conn, "resolve session", func(tx neo4j.ManagedTransaction) (login, error) {
		session, user, err := graph.NewSessionStore(tx).GetSessionAndUser(ctx, sessionID)
		return login{User: user, Session: session}, err
	})
	if err != nil || res.Session == nil {
		return nil, nil, err
	}

	now := s.now()
	if res.Session.Expired(now) || res.User == nil {
		if err := s.Logout(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to remove stale session", zap.Error(err))
		}
		return nil, nil, nil
	}

	if refreshDue(res.Session, now, s.cfg.SessionTTL) {
		res.Session.ExpiresAt = now.Add(s.cfg.SessionTTL)
		_, err := graph.WriteTx(ctx, s.conn, "extend session", func(tx neo4j.ManagedTransaction) (any, error) {
			return nil, graph.NewSessionStore(tx).UpdateSessionExpiration(ctx, sessionID, res.Session.ExpiresAt)
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return res.User, res.Session, nil
}

// PurgeExpired deletes every expired session
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return graph.WriteTx(ctx, s.conn, "purge sessions", func(tx neo4j.ManagedTransaction) (int64, error) {
		return graph.NewSessionStore(tx).DeleteExpiredSessions(ctx, s.now())
	})
}

func refreshDue(session *graph.Session, now time.Time, ttl time.Duration) bool {
	return session.ExpiresAt.Sub(now) < ttl/2
}

// IsConfiguredAdmin reports whether username is listed in Config.Admins
func (s *Service) IsConfiguredAdmin(username string) bool {
	for _, a := range s.cfg.Admins {
		if strings.EqualFold(a, username) {
			return true
		}
	}
	return false
}

// HasPermission reports whether u may act with perm
func (s *Service) HasPermission(u *graph.User, perm graph.Permission) bool {
	if u == nil {
		return false
	}
	return s.IsConfiguredAdmin(u.Username) || u.Has(perm)
}

// Present returns a copy of u listing admin among its permissions when
// u is a configured administrator
func (s *Service) Present(u *graph.User) *graph.User {
	if u == nil || !s.IsConfiguredAdmin(u.Username) || u.Has(graph.PermAdmin) {
		return u
	}
	out := *u
	out.Permissions = append(append([]graph.Permission{}, u.Permissions...), graph.PermAdmin)
	return &out
}

// Authorize returns ErrUnauthorized for anonymous callers and a Forbidden
// error when u lacks perm
func (s *Service) Authorize(u *graph.User, perm graph.Permission) error {
	if u == nil {
		return apperrors.ErrUnauthorized
	}
	if !s.HasPermission(u, perm) {
		return apperrors.NewForbidden(string(perm))
	}
	return nil
}
