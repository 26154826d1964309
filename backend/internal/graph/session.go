package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Session is a login token record. UserID is a weak reference; the session
// does not own its user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func sessionFromProps(props map[string]any) *Session {
	return &Session{
		ID:        getStringFromMap(props, "id", ""),
		UserID:    getStringFromMap(props, "userId", ""),
		ExpiresAt: getTimeFromMap(props, "expiresAt"),
	}
}

// SessionStore persists DatabaseSession nodes inside one transaction
type SessionStore struct {
	tx neo4j.ManagedTransaction
}

// NewSessionStore binds a session store to tx
func NewSessionStore(tx neo4j.ManagedTransaction) *SessionStore {
	return &SessionStore{tx: tx}
}

func (s *SessionStore) count(ctx context.Context, query string, params map[string]any) (int64, error) {
	result, err := s.tx.Run(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	return getInt64FromRecord(record, "n"), nil
}

// GetSessionAndUser returns the session and its user. Either may be nil.
func (s *SessionStore) GetSessionAndUser(ctx context.Context, sessionID string) (*Session, *User, error) {
	result, err := s.tx.Run(ctx, `
		MATCH (s:DatabaseSession {id: $id})
		OPTIONAL MATCH (u:User {id: s.userId})
		RETURN s, u
		LIMIT 1
	`, map[string]any{"id": sessionID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute query: %w", err)
	}
	if !result.Next(ctx) {
		return nil, nil, result.Err()
	}
	record := result.Record()

	var (
		session *Session
		user    *User
	)
	if node, ok := getNodeFromRecord(record, "s"); ok {
		session = sessionFromProps(node.Props)
	}
	if node, ok := getNodeFromRecord(record, "u"); ok {
		user = userFromProps(node.Props)
	}
	return session, user, nil
}

// GetUserSessions lists every session belonging to userID
func (s *SessionStore) GetUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	result, err := s.tx.Run(ctx, `
		MATCH (s:DatabaseSession {userId: $userId})
		RETURN s
		ORDER BY s.expiresAt
	`, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect sessions: %w", err)
	}
	sessions := make([]*Session, 0, len(records))
	for _, record := range records {
		if node, ok := getNodeFromRecord(record, "s"); ok {
			sessions = append(sessions, sessionFromProps(node.Props))
		}
	}
	return sessions, nil
}

// SetSession stores a new session
func (s *SessionStore) SetSession(ctx context.Context, session *Session) error {
	_, err := s.count(ctx, `
		CREATE (s:DatabaseSession {id: $id, userId: $userId, expiresAt: $expiresAt})
		RETURN 1 AS n
	`, map[string]any{
		"id":        session.ID,
		"userId":    session.UserID,
		"expiresAt": session.ExpiresAt.UnixMilli(),
	})
	return err
}

// UpdateSessionExpiration moves the expiry of sessionID
func (s *SessionStore) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := s.count(ctx, `
		OPTIONAL MATCH (s:DatabaseSession {id: $id})
		SET s.expiresAt = $expiresAt
		RETURN count(s) AS n
	`, map[string]any{"id": sessionID, "expiresAt": expiresAt.UnixMilli()})
	return err
}

// DeleteSession removes one session
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.count(ctx, `
		OPTIONAL MATCH (s:DatabaseSession {id: $id})
		DETACH DELETE s
		RETURN count(*) AS n
	`, map[string]any{"id": sessionID})
	return err
}

// DeleteUserSessions removes every session of userID
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, `
		OPTIONAL MATCH (s:DatabaseSession {userId: $userId})
		WITH collect(s) AS found
		FOREACH (s IN found | DETACH DELETE s)
		RETURN size(found) AS n
	`, map[string]any{"userId": userID})
}

// DeleteExpiredSessions removes sessions that expired before now
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.count(ctx, `
		OPTIONAL MATCH (s:DatabaseSession)
		WHERE s.expiresAt <= $now
		WITH collect(s) AS found
		FOREACH (s IN found | DETACH DELETE s)
		RETURN size(found) AS n
	`, map[string]any{"now": now.UnixMilli()})
}
