package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// Field limits shared with request validation
const (
	NameMaxLength   = 75
	GenderMaxLength = 30
	BioMaxLength    = 1000
)

// filenamePattern guards blob keys: no leading dot or slash, no separators
var filenamePattern = regexp.MustCompile(`^[^/.][^/]{0,127}$`)

// ValidFilename reports whether name is safe to store as a blob key
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

// ============================================================================
// Dates
// ============================================================================

// DateKind distinguishes "never asked" from "confirmed not applicable"
type DateKind int

const (
	DateUnknown DateKind = iota
	DateNotApplicable
	DateExplicit
)

const (
	dateLayout      = "2006-01-02"
	dateUnknownText = "unknown"
	dateNoneText    = "none"
)

// DateValue is a three-valued calendar date
type DateValue struct {
	Kind DateKind
	Date time.Time
}

func UnknownDate() DateValue       { return DateValue{Kind: DateUnknown} }
func NotApplicableDate() DateValue { return DateValue{Kind: DateNotApplicable} }

func ExplicitDate(t time.Time) DateValue {
	y, m, d := t.Date()
	return DateValue{Kind: DateExplicit, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDateValue accepts "unknown", "none", "" (unknown) or YYYY-MM-DD
func ParseDateValue(s string) (DateValue, error) {
	switch s {
	case "", dateUnknownText:
		return UnknownDate(), nil
	case dateNoneText:
		return NotApplicableDate(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return DateValue{}, apperrors.NewInvalidArgument("date", fmt.Sprintf("%q is not YYYY-MM-DD", s))
	}
	return ExplicitDate(t), nil
}

func (d DateValue) String() string {
	switch d.Kind {
	case DateNotApplicable:
		return dateNoneText
	case DateExplicit:
		return d.Date.Format(dateLayout)
	}
	return dateUnknownText
}

// storageValue is the property value; nil means the property is absent
func (d DateValue) storageValue() any {
	if d.Kind == DateUnknown {
		return nil
	}
	return d.String()
}

func dateFromStorage(v any) DateValue {
	s, ok := v.(string)
	if !ok {
		return UnknownDate()
	}
	d, err := ParseDateValue(s)
	if err != nil {
		return UnknownDate()
	}
	return d
}

func (d DateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DateValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDateValue(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ============================================================================
// Optional
// ============================================================================

// Optional carries a field of a partial update: absent (leave unchanged),
// null (remove) or a value (set).
type Optional[T any] struct {
	set   bool
	null  bool
	value T
}

func Set[T any](v T) Optional[T] { return Optional[T]{set: true, value: v} }
func Null[T any]() Optional[T]   { return Optional[T]{set: true, null: true} }

func (o Optional[T]) IsSet() bool  { return o.set }
func (o Optional[T]) IsNull() bool { return o.set && o.null }
func (o Optional[T]) Value() T     { return o.value }

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.set = true
	if string(data) == "null" {
		o.null = true
		return nil
	}
	return json.Unmarshal(data, &o.value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set || o.null {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// ============================================================================
// Person
// ============================================================================

// Person is a node in the family graph
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Gender    string    `json:"gender,omitempty"`
	BirthDate DateValue `json:"birthDate"`
	DeathDate DateValue `json:"deathDate"`
	Bio       string    `json:"bio,omitempty"`
	Portrait  string    `json:"portrait,omitempty"`
}

func personFromProps(props map[string]any) Person {
	return Person{
		ID:        getStringFromMap(props, "id", ""),
		Name:      getStringFromMap(props, "name", ""),
		Gender:    getStringFromMap(props, "gender", ""),
		BirthDate: dateFromStorage(props["birthDate"]),
		DeathDate: dateFromStorage(props["deathDate"]),
		Bio:       getStringFromMap(props, "bio", ""),
		Portrait:  getStringFromMap(props, "portrait", ""),
	}
}

func personFromNode(node neo4j.Node) Person {
	return personFromProps(node.Props)
}

// PersonData is the input to AddPerson; the server assigns the id
type PersonData struct {
	Name      string
	Gender    string
	BirthDate DateValue
	DeathDate DateValue
	Bio       string
	Portrait  string
}

func (d PersonData) validate() error {
	if d.Name == "" {
		return apperrors.NewInvalidArgument("name", "must not be empty")
	}
	if d.Portrait != "" && !ValidFilename(d.Portrait) {
		return apperrors.NewInvalidArgument("portrait", "not a valid file key")
	}
	return nil
}

// props builds the full property map; empty values are left out entirely
func (d PersonData) props(id string) map[string]any {
	props := map[string]any{"id": id, "name": d.Name}
	putString(props, "gender", d.Gender)
	putString(props, "bio", d.Bio)
	putString(props, "portrait", d.Portrait)
	if v := d.BirthDate.storageValue(); v != nil {
		props["birthDate"] = v
	}
	if v := d.DeathDate.storageValue(); v != nil {
		props["deathDate"] = v
	}
	return props
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// PersonUpdate describes a change to an existing person
type PersonUpdate struct {
	ID        string              `json:"id"`
	Name      Optional[string]    `json:"name"`
	Gender    Optional[string]    `json:"gender"`
	BirthDate Optional[DateValue] `json:"birthDate"`
	DeathDate Optional[DateValue] `json:"deathDate"`
	Bio       Optional[string]    `json:"bio"`
	Portrait  Optional[string]    `json:"portrait"`
}

func (u PersonUpdate) validate() error {
	if u.ID == "" {
		return apperrors.ErrMissingID
	}
	if u.Name.IsNull() || (u.Name.IsSet() && u.Name.Value() == "") {
		return apperrors.NewInvalidArgument("name", "must not be empty")
	}
	if u.Portrait.IsSet() && !u.Portrait.IsNull() && u.Portrait.Value() != "" && !ValidFilename(u.Portrait.Value()) {
		return apperrors.NewInvalidArgument("portrait", "not a valid file key")
	}
	return nil
}

// Changes returns the property map for a merge. Keys mapped to nil are
// removed from the stored node; absent fields do not appear at all.
func (u PersonUpdate) Changes() map[string]any {
	changes := map[string]any{}
	putOptionalString(changes, "name", u.Name)
	putOptionalString(changes, "gender", u.Gender)
	putOptionalString(changes, "bio", u.Bio)
	putOptionalString(changes, "portrait", u.Portrait)
	putOptionalDate(changes, "birthDate", u.BirthDate)
	putOptionalDate(changes, "deathDate", u.DeathDate)
	return changes
}

// Data flattens the update for a full replace; unset fields become empty
func (u PersonUpdate) Data() PersonData {
	return PersonData{
		Name:      u.Name.Value(),
		Gender:    u.Gender.Value(),
		BirthDate: u.BirthDate.Value(),
		DeathDate: u.DeathDate.Value(),
		Bio:       u.Bio.Value(),
		Portrait:  u.Portrait.Value(),
	}
}

func putOptionalString(m map[string]any, key string, o Optional[string]) {
	if !o.IsSet() {
		return
	}
	if o.IsNull() || o.Value() == "" {
		m[key] = nil
		return
	}
	m[key] = o.Value()
}

func putOptionalDate(m map[string]any, key string, o Optional[DateValue]) {
	if !o.IsSet() {
		return
	}
	if o.IsNull() {
		m[key] = nil
		return
	}
	m[key] = o.Value().storageValue()
}

// ============================================================================
// Photos
// ============================================================================

// Photo is an image attached to one or more people
type Photo struct {
	ID       string     `json:"id"`
	Hash     string     `json:"hash"`
	Filename string     `json:"filename"`
	Created  time.Time  `json:"created"`
	Taken    *time.Time `json:"taken,omitempty"`
}

// PhotoData is the input to AddPhotos; the server assigns id and created
type PhotoData struct {
	Hash     string
	Filename string
	Taken    *time.Time
}

func photoFromProps(props map[string]any) Photo {
	p := Photo{
		ID:       getStringFromMap(props, "id", ""),
		Hash:     getStringFromMap(props, "hash", ""),
		Filename: getStringFromMap(props, "filename", ""),
		Created:  getTimeFromMap(props, "created"),
	}
	if taken := getTimeFromMap(props, "taken"); !taken.IsZero() {
		p.Taken = &taken
	}
	return p
}

// PhotoSelection picks photos to detach: either specific ids or all of them
type PhotoSelection struct {
	All bool
	IDs []string
}

func AllPhotos() PhotoSelection               { return PhotoSelection{All: true} }
func PhotosByID(ids ...string) PhotoSelection { return PhotoSelection{IDs: ids} }

// DeletedPhotos reports the detached photo ids and the blob keys of photo
// nodes that lost their last reference and were removed.
type DeletedPhotos struct {
	IDs           []string
	OrphanedFiles []string
}

// DeletedPerson is the snapshot of a removed person plus files left without owners
type DeletedPerson struct {
	Person        Person
	OrphanedFiles []string
}
