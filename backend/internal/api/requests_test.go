package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

const otherID = "0b6d5e4c-3a21-4c1e-9a7f-3f1c2a4e8d2b"

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Zeus Olympios", normalizeText("  Zeus \t\n Olympios\u200b ", true))
	assert.Equal(t, "line one\nline two", normalizeText("line one\nline two\x07  ", false))
	// "e" followed by a combining acute accent composes to a single rune
	assert.Equal(t, "\u00e9", normalizeText("e\u0301", true))
}

func TestParsePersonPayload(t *testing.T) {
	t.Run("partial update keeps absent fields out", func(t *testing.T) {
		p, err := parsePersonPayload(strings.NewReader(`{"person":{"gender":null,"bio":"  Ruler\tof  Olympus "}}`), testPersonID, false)
		require.NoError(t, err)

		changes := p.Person.update(testPersonID).Changes()
		assert.Equal(t, map[string]any{"gender": nil, "bio": "Ruler of  Olympus"}, changes)
		assert.True(t, p.Relatives.Empty())
	})

	t.Run("empty update changes nothing", func(t *testing.T) {
		p, err := parsePersonPayload(strings.NewReader(`{"person":{}}`), testPersonID, false)
		require.NoError(t, err)
		assert.Empty(t, p.Person.update(testPersonID).Changes())
	})

	t.Run("name cannot be removed", func(t *testing.T) {
		_, err := parsePersonPayload(strings.NewReader(`{"person":{"name":null}}`), testPersonID, false)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("whitespace only name is empty", func(t *testing.T) {
		_, err := parsePersonPayload(strings.NewReader(`{"person":{"name":"   "}}`), "", true)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("dates", func(t *testing.T) {
		p, err := parsePersonPayload(strings.NewReader(`{"person":{"name":"Cronus","birthDate":"unknown","deathDate":"none"}}`), "", true)
		require.NoError(t, err)
		data := p.Person.data()
		assert.Equal(t, graph.DateUnknown, data.BirthDate.Kind)
		assert.Equal(t, graph.DateNotApplicable, data.DeathDate.Kind)
	})

	t.Run("unknown fields", func(t *testing.T) {
		_, err := parsePersonPayload(strings.NewReader(`{"person":{"name":"Rhea"},"siblings":{}}`), "", true)
		require.Error(t, err)
		_, ok := apperrors.Base(err)
		assert.False(t, ok)
	})
}

func TestRelativesChangeValidate(t *testing.T) {
	tests := []struct {
		name     string
		change   RelativesChange
		personID string
		wantCode apperrors.Code
	}{
		{"empty", RelativesChange{}, testPersonID, ""},
		{"valid", RelativesChange{Children: &IDChange{Added: []string{otherID}}}, testPersonID, ""},
		{"self in removed", RelativesChange{Children: &IDChange{Removed: []string{testPersonID}}}, testPersonID, apperrors.CodeCircularRelation},
		{"self partner", RelativesChange{Partners: &IDChange{Added: []string{testPersonID}}}, testPersonID, apperrors.CodeCircularRelation},
		{"conflict", RelativesChange{Parents: &IDChange{Added: []string{otherID}, Removed: []string{otherID}}}, testPersonID, apperrors.CodeConflictingRelation},
		{"same id under different kinds", RelativesChange{
			Parents:  &IDChange{Added: []string{otherID}},
			Children: &IDChange{Removed: []string{otherID}},
		}, testPersonID, ""},
		{"not a uuid", RelativesChange{Parents: &IDChange{Added: []string{"zeus"}}}, testPersonID, apperrors.CodeInvalidArgument},
		{"new person skips circular check", RelativesChange{Parents: &IDChange{Added: []string{testPersonID}}}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate(tt.personID)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
		})
	}
}

func TestPermissionsRequestSplit(t *testing.T) {
	req := permissionsRequest{
		User: testPersonID,
		Changes: []permissionChange{
			{Perm: "view", Change: "add"},
			{Perm: "edit", Change: "add"},
			{Perm: "admin", Change: "del"},
		},
	}
	require.NoError(t, validate.Struct(req))

	add, remove, err := req.split()
	require.NoError(t, err)
	assert.Equal(t, []graph.Permission{graph.PermView, graph.PermEdit}, add)
	assert.Equal(t, []graph.Permission{graph.PermAdmin}, remove)

	req.Changes = []permissionChange{{Perm: "view", Change: "toggle"}}
	assert.Error(t, validate.Struct(req))
}

func TestPhotoDeleteRequest(t *testing.T) {
	var req photoDeleteRequest
	require.NoError(t, bindJSON(strings.NewReader(`{"all":true}`), &req))
	assert.True(t, req.selection().All)

	req = photoDeleteRequest{}
	require.NoError(t, bindJSON(strings.NewReader(`{"ids":["`+otherID+`"]}`), &req))
	assert.Equal(t, graph.PhotosByID(otherID), req.selection())

	req = photoDeleteRequest{}
	err := bindJSON(strings.NewReader(`{}`), &req)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrMissingID, http.StatusUnprocessableEntity},
		{apperrors.NewInvalidArgument("hops", "too many"), http.StatusUnprocessableEntity},
		{apperrors.NewCircularRelation(testPersonID), http.StatusUnprocessableEntity},
		{apperrors.NewMissingParticipant(testPersonID, otherID), http.StatusUnprocessableEntity},
		{apperrors.NewMediaRejected("too large", nil), http.StatusUnprocessableEntity},
		{apperrors.NewNotFound("person", testPersonID), http.StatusNotFound},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{apperrors.NewForbidden("edit"), http.StatusForbidden},
		{apperrors.NewUsernameTaken("zeus"), http.StatusConflict},
		{apperrors.NewAmbiguousMatch("update person", 2), http.StatusConflict},
		{apperrors.NewGraphQueryFailed("list people", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
