package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/seimmuc/family-tree/backend/internal/constants"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return constants.IsSupportedLanguage(fl.Field().String())
	})
	return v
}

// validationError converts the first validator failure into InvalidArgument
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return apperrors.NewInvalidArgument(fe.Field(), "failed "+reason)
	}
	return apperrors.NewInvalidArgument("request", err.Error())
}

// decodeStrict reads one JSON object from r, rejecting unknown fields
func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON object")
	}
	return nil
}

// normalizeText strips non-printable runes and applies NFC. Single-line
// fields also get internal whitespace runs collapsed to one space.
func normalizeText(s string, singleLine bool) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' && !singleLine:
			return r
		case unicode.IsSpace(r):
			return ' '
		case !unicode.IsPrint(r):
			return -1
		}
		return r
	}, s)
	if singleLine {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.TrimSpace(s)
}

func normalizeOptional(o graph.Optional[string], singleLine bool) graph.Optional[string] {
	if !o.IsSet() || o.IsNull() {
		return o
	}
	return graph.Set(normalizeText(o.Value(), singleLine))
}

// ============================================================================
// People
// ============================================================================

// personFields is the editable part of a person. The portrait is only
// changed through the upload endpoints.
type personFields struct {
	Name      graph.Optional[string]          `json:"name"`
	Gender    graph.Optional[string]          `json:"gender"`
	BirthDate graph.Optional[graph.DateValue] `json:"birthDate"`
	DeathDate graph.Optional[graph.DateValue] `json:"deathDate"`
	Bio       graph.Optional[string]          `json:"bio"`
}

type personPayload struct {
	Person    personFields    `json:"person"`
	Relatives RelativesChange `json:"relatives"`
}

func (f *personFields) normalize() {
	f.Name = normalizeOptional(f.Name, true)
	f.Gender = normalizeOptional(f.Gender, true)
	f.Bio = normalizeOptional(f.Bio, false)
}

func (f personFields) check(requireName bool) error {
	if requireName && (!f.Name.IsSet() || f.Name.IsNull()) {
		return apperrors.NewInvalidArgument("name", "is required")
	}
	if f.Name.IsNull() {
		return apperrors.NewInvalidArgument("name", "cannot be removed")
	}
	checks := []struct {
		field string
		value graph.Optional[string]
		tag   string
	}{
		{"name", f.Name, fmt.Sprintf("min=1,max=%d", graph.NameMaxLength)},
		{"gender", f.Gender, fmt.Sprintf("max=%d", graph.GenderMaxLength)},
		{"bio", f.Bio, fmt.Sprintf("max=%d", graph.BioMaxLength)},
	}
	for _, c := range checks {
		if !c.value.IsSet() || c.value.IsNull() {
			continue
		}
		if err := validate.Var(c.value.Value(), c.tag); err != nil {
			return apperrors.NewInvalidArgument(c.field, "failed "+c.tag)
		}
	}
	return nil
}

func (f personFields) data() graph.PersonData {
	return graph.PersonData{
		Name:      f.Name.Value(),
		Gender:    f.Gender.Value(),
		BirthDate: f.BirthDate.Value(),
		DeathDate: f.DeathDate.Value(),
		Bio:       f.Bio.Value(),
	}
}

func (f personFields) update(id string) graph.PersonUpdate {
	return graph.PersonUpdate{
		ID:        id,
		Name:      f.Name,
		Gender:    f.Gender,
		BirthDate: f.BirthDate,
		DeathDate: f.DeathDate,
		Bio:       f.Bio,
	}
}

// parsePersonPayload decodes, normalizes and validates a person body.
// personID is empty for new people.
func parsePersonPayload(body io.Reader, personID string, requireName bool) (*personPayload, error) {
	var p personPayload
	if err := decodeStrict(body, &p); err != nil {
		return nil, err
	}
	p.Person.normalize()
	if err := p.Person.check(requireName); err != nil {
		return nil, err
	}
	if err := p.Relatives.Validate(personID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ============================================================================
// Relatives
// ============================================================================

// IDChange lists person ids to link and unlink under one relation kind
type IDChange struct {
	Added   []string `json:"added" validate:"dive,uuid4"`
	Removed []string `json:"removed" validate:"dive,uuid4"`
}

func (c *IDChange) empty() bool {
	return c == nil || (len(c.Added) == 0 && len(c.Removed) == 0)
}

// RelativesChange edits the relatives of one person
type RelativesChange struct {
	Parents  *IDChange `json:"parents"`
	Children *IDChange `json:"children"`
	Partners *IDChange `json:"partners"`
}

// Empty reports whether the change does nothing
func (r RelativesChange) Empty() bool {
	return r.Parents.empty() && r.Children.empty() && r.Partners.empty()
}

func (r RelativesChange) kinds() []struct {
	name   string
	change *IDChange
} {
	return []struct {
		name   string
		change *IDChange
	}{
		{"parents", r.Parents},
		{"children", r.Children},
		{"partners", r.Partners},
	}
}

// Validate rejects malformed ids, links from personID to itself and ids that
// are both added and removed under the same kind
func (r RelativesChange) Validate(personID string) error {
	for _, k := range r.kinds() {
		if k.change == nil {
			continue
		}
		if err := validate.Struct(k.change); err != nil {
			return validationError(err)
		}
		removed := make(map[string]struct{}, len(k.change.Removed))
		for _, id := range k.change.Removed {
			if personID != "" && id == personID {
				return apperrors.NewCircularRelation(personID)
			}
			removed[id] = struct{}{}
		}
		for _, id := range k.change.Added {
			if personID != "" && id == personID {
				return apperrors.NewCircularRelation(personID)
			}
			if _, ok := removed[id]; ok {
				return apperrors.NewConflictingRelation(k.name, id)
			}
		}
	}
	return nil
}

// ============================================================================
// Other bodies
// ============================================================================

type searchRequest struct {
	NameQuery    string `json:"nameQuery" validate:"required,min=2,max=75"`
	NameComplete bool   `json:"nameComplete"`
}

func (r *searchRequest) normalize() {
	r.NameQuery = strings.ToLower(normalizeText(r.NameQuery, true))
}

type pageQuery struct {
	Limit int `form:"limit,default=50" validate:"min=1,max=100"`
	Skip  int `form:"skip,default=0" validate:"min=0"`
}

type userPageQuery struct {
	Limit int `form:"limit,default=25" validate:"min=1,max=25"`
	Skip  int `form:"skip,default=0" validate:"min=0"`
}

type credentials struct {
	Username string `json:"username" validate:"required,min=2,max=32,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Language string `json:"language" validate:"omitempty,language"`
}

func (c *credentials) normalize() {
	c.Username = norm.NFC.String(strings.TrimSpace(c.Username))
}

type settingsRequest struct {
	Language *string `json:"language" validate:"omitempty,language"`
}

type permissionChange struct {
	Perm   string `json:"perm" validate:"required,oneof=view edit admin"`
	Change string `json:"change" validate:"required,oneof=add del"`
}

type permissionsRequest struct {
	User    string             `json:"user" validate:"required,uuid4"`
	Changes []permissionChange `json:"changes" validate:"required,dive"`
}

// split returns the permissions to add and to remove
func (r permissionsRequest) split() (add, remove []graph.Permission, err error) {
	for _, pc := range r.Changes {
		perm, err := graph.ParsePermission(pc.Perm)
		if err != nil {
			return nil, nil, err
		}
		if pc.Change == "add" {
			add = append(add, perm)
		} else {
			remove = append(remove, perm)
		}
	}
	return add, remove, nil
}

type userIDRequest struct {
	UserID string `json:"userId" validate:"required,uuid4"`
}

type userSearchRequest struct {
	Query string `json:"query" validate:"required,min=2,max=32"`
}

type photoDeleteRequest struct {
	All bool     `json:"all"`
	IDs []string `json:"ids" validate:"required_without=All,dive,uuid4"`
}

func (r photoDeleteRequest) selection() graph.PhotoSelection {
	if r.All {
		return graph.AllPhotos()
	}
	return graph.PhotosByID(r.IDs...)
}

// bindJSON decodes and validates a body. Decode failures are returned as
// they are; validation failures come back as InvalidArgument.
func bindJSON(body io.Reader, v any) error {
	if err := decodeStrict(body, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}
