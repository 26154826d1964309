package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))
}

func TestAuthorize(t *testing.T) {
	s := NewService(nil, Config{Admins: []string{"Root"}, SessionTTL: time.Hour})

	assert.ErrorIs(t, s.Authorize(nil, graph.PermView), apperrors.ErrUnauthorized)

	viewer := &graph.User{Username: "viewer", Permissions: []graph.Permission{graph.PermView}}
	assert.NoError(t, s.Authorize(viewer, graph.PermView))
	err := s.Authorize(viewer, graph.PermEdit)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	root := &graph.User{Username: "root"}
	assert.NoError(t, s.Authorize(root, graph.PermAdmin))

	admin := &graph.User{Username: "someone", Permissions: []graph.Permission{graph.PermAdmin}}
	assert.True(t, s.HasPermission(admin, graph.PermEdit))
}

func TestRefreshDue(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ttl := 30 * 24 * time.Hour

	fresh := &graph.Session{ExpiresAt: now.Add(29 * 24 * time.Hour)}
	assert.False(t, refreshDue(fresh, now, ttl))

	old := &graph.Session{ExpiresAt: now.Add(10 * 24 * time.Hour)}
	assert.True(t, refreshDue(old, now, ttl))
}

func TestNewSession(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewService(nil, Config{SessionTTL: time.Hour})
	s.now = func() time.Time { return now }

	a, b := s.newSession("u1"), s.newSession("u1")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, now.Add(time.Hour), a.ExpiresAt)
}

func TestPresent(t *testing.T) {
	s := NewService(nil, Config{Admins: []string{"root"}})

	root := &graph.User{Username: "ROOT", Permissions: []graph.Permission{graph.PermView}}
	shown := s.Present(root)
	assert.Contains(t, shown.Permissions, graph.PermAdmin)
	assert.Equal(t, []graph.Permission{graph.PermView}, root.Permissions)

	plain := &graph.User{Username: "guest"}
	assert.Same(t, plain, s.Present(plain))
	assert.Nil(t, s.Present(nil))
}
