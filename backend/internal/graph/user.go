package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// Permission gates what a user may do. PermAdmin implies every other permission.
type Permission string

const (
	PermView  Permission = "view"
	PermEdit  Permission = "edit"
	PermAdmin Permission = "admin"
)

// ParsePermission maps caller input onto the known permissions
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermView, PermEdit, PermAdmin:
		return p, nil
	}
	return "", apperrors.NewInvalidArgument("permission", fmt.Sprintf("unknown permission %q", s))
}

// MaxUserPage caps ListUsers and FindUsers
const MaxUserPage = 25

// User is an account in the identity subgraph
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	PasswordHash string       `json:"-"`
	Permissions  []Permission `json:"permissions"`
	Language     string       `json:"language,omitempty"`
	CreationTime time.Time    `json:"creationTime"`
}

// Has reports whether the user holds perm directly or through admin
func (u *User) Has(perm Permission) bool {
	for _, p := range u.Permissions {
		if p == perm || p == PermAdmin {
			return true
		}
	}
	return false
}

// NewUser is the input to AddUser
type NewUser struct {
	Username     string
	PasswordHash string
	Permissions  []Permission
	Language     string
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func userFromProps(props map[string]any) *User {
	perms := toStringSlice(props["permissions"])
	u := &User{
		ID:           getStringFromMap(props, "id", ""),
		Username:     getStringFromMap(props, "username", ""),
		PasswordHash: getStringFromMap(props, "passwordHash", ""),
		Permissions:  make([]Permission, 0, len(perms)),
		Language:     getStringFromMap(props, "language", ""),
		CreationTime: getTimeFromMap(props, "creationTime"),
	}
	for _, p := range perms {
		u.Permissions = append(u.Permissions, Permission(p))
	}
	return u
}

func permissionStrings(perms []Permission) []string {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, string(p))
	}
	return out
}

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// UserStore reads and writes users inside one transaction
type UserStore struct {
	tx     neo4j.ManagedTransaction
	logger *zap.Logger
}

// NewUserStore binds a user store to tx
func NewUserStore(tx neo4j.ManagedTransaction) *UserStore {
	return &UserStore{tx: tx, logger: logger.Get()}
}

func (s *UserStore) users(ctx context.Context, query string, params map[string]any) ([]*User, error) {
	result, err := s.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect records: %w", err)
	}
	users := make([]*User, 0, len(records))
	for _, record := range records {
		if node, ok := getNodeFromRecord(record, "u"); ok {
			users = append(users, userFromProps(node.Props))
		}
	}
	return users, nil
}

func (s *UserStore) one(ctx context.Context, query string, params map[string]any) (*User, error) {
	users, err := s.users(ctx, query, params)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return users[0], nil
}

// CountUsers returns the number of registered users
func (s *UserStore) CountUsers(ctx context.Context) (int64, error) {
	result, err := s.tx.Run(ctx, `MATCH (u:User) RETURN count(u) AS total`, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return getInt64FromRecord(record, "total"), nil
}

// GetUserByID returns the user or nil
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.one(ctx, `MATCH (u:User {id: $id}) RETURN u LIMIT 1`, map[string]any{"id": id})
}

// GetUserByUsername looks a user up case-insensitively
func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.one(ctx, `MATCH (u:User {usernameKey: $key}) RETURN u LIMIT 1`,
		map[string]any{"key": usernameKey(username)})
}

// AddUser registers a user. The username check and the create are one
// statement. With grantAdminIfFirst the very first user also receives admin.
func (s *UserStore) AddUser(ctx context.Context, nu NewUser, grantAdminIfFirst bool) (*User, error) {
	props := map[string]any{
		"id":           uuid.NewString(),
		"username":     strings.TrimSpace(nu.Username),
		"usernameKey":  usernameKey(nu.Username),
		"passwordHash": nu.PasswordHash,
		"permissions":  permissionStrings(nu.Permissions),
		"creationTime": nowMillis(),
	}
	if nu.Language != "" {
		props["language"] = nu.Language
	}

	u, err := s.one(ctx, `
		OPTIONAL MATCH (existing:User {usernameKey: $key})
		WITH existing WHERE existing IS NULL
		OPTIONAL MATCH (other:User)
		WITH existing, count(other) AS users
		CREATE (u:User)
		SET u = $props
		SET u.permissions = CASE
			WHEN $firstAdmin AND users = 0 AND NOT 'admin' IN u.permissions THEN u.permissions + ['admin']
			ELSE u.permissions
		END
		RETURN u
	`, map[string]any{"props": props, "key": props["usernameKey"], "firstAdmin": grantAdminIfFirst})
	if err != nil {
		var neoErr *neo4j.Neo4jError
		if stderrors.As(err, &neoErr) && neoErr.Code == constraintViolation {
			return nil, apperrors.NewUsernameTaken(nu.Username)
		}
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NewUsernameTaken(nu.Username)
	}
	s.logger.Info("User registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// ListUsers pages through users ordered by username
func (s *UserStore) ListUsers(ctx context.Context, limit, skip int) ([]*User, error) {
	if limit < 1 || limit > MaxUserPage {
		return nil, apperrors.NewInvalidArgument("limit", fmt.Sprintf("must be between 1 and %d", MaxUserPage))
	}
	if skip < 0 {
		return nil, apperrors.NewInvalidArgument("skip", "must not be negative")
	}
	return s.users(ctx, `
		MATCH (u:User)
		RETURN u
		ORDER BY u.usernameKey
		SKIP $skip
		LIMIT $limit
	`, map[string]any{"limit": limit, "skip": skip})
}

// FindUsers searches usernames by substring
func (s *UserStore) FindUsers(ctx context.Context, query string) ([]*User, error) {
	return s.users(ctx, `
		MATCH (u:User)
		WHERE u.usernameKey CONTAINS $key
		RETURN u
		ORDER BY u.usernameKey
		LIMIT $limit
	`, map[string]any{"key": usernameKey(query), "limit": MaxUserPage})
}

// ModifyPermissions grants add and revokes remove; remove wins over add
func (s *UserStore) ModifyPermissions(ctx context.Context, userID string, add, remove []Permission) (*User, error) {
	u, err := s.one(ctx, `
		MATCH (u:User {id: $id})
		SET u.permissions = [p IN u.permissions WHERE NOT p IN $remove]
			+ [p IN $add WHERE NOT p IN u.permissions AND NOT p IN $remove]
		RETURN u
	`, map[string]any{"id": userID, "add": permissionStrings(add), "remove": permissionStrings(remove)})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NewNotFound("user", userID)
	}
	s.logger.Info("User permissions changed", zap.String("user_id", userID), zap.Any("permissions", u.Permissions))
	return u, nil
}

// UpdateOptions stores per-user preferences; an empty language clears it
func (s *UserStore) UpdateOptions(ctx context.Context, userID, language string) (*User, error) {
	var lang any
	if language != "" {
		lang = language
	}
	u, err := s.one(ctx, `
		MATCH (u:User {id: $id})
		SET u.language = $language
		RETURN u
	`, map[string]any{"id": userID, "language": lang})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NewNotFound("user", userID)
	}
	return u, nil
}

// DeleteUser removes the user and all of its sessions. It returns false when
// no such user existed.
func (s *UserStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	if _, err := NewSessionStore(s.tx).DeleteUserSessions(ctx, userID); err != nil {
		return false, err
	}
	result, err := s.tx.Run(ctx, `
		MATCH (u:User {id: $id})
		WITH collect(u) AS found
		FOREACH (u IN found | DETACH DELETE u)
		RETURN size(found) AS removed
	`, map[string]any{"id": userID})
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	removed := getInt64FromRecord(record, "removed")
	if removed > 0 {
		s.logger.Info("User deleted", zap.String("user_id", userID))
	}
	return removed > 0, nil
}
