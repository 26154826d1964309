package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed or out-of-range input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing entity
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInvariant represents a violated graph invariant
	ErrorTypeInvariant ErrorType = "invariant"
	// ErrorTypeAuth represents authentication and permission errors
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeMedia represents blob store and upload errors
	ErrorTypeMedia ErrorType = "media"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// Code is the machine-readable identifier exposed to API clients
type Code string

const (
	CodeMissingID              Code = "MissingId"
	CodeMissingParticipant     Code = "MissingParticipant"
	CodeAmbiguousMatch         Code = "AmbiguousMatch"
	CodeInvalidArgument        Code = "InvalidArgument"
	CodeNotFound               Code = "NotFound"
	CodeCircularRelation       Code = "CircularRelation"
	CodeConflictingRelation    Code = "ConflictingRelation"
	CodeUsernameTaken          Code = "UsernameTaken"
	CodeUnauthorized           Code = "Unauthorized"
	CodeForbidden              Code = "Forbidden"
	CodeMediaRejected          Code = "MediaRejected"
	CodeGraphConnectionFailed  Code = "GraphConnectionFailed"
	CodeGraphQueryFailed       Code = "GraphQueryFailed"
	CodeConfigMissingRequired  Code = "ConfigMissingRequired"
	CodeConfigValidationFailed Code = "ConfigValidationFailed"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Code      Code
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Is matches any error carrying the same code, so sentinel comparisons work
// against the typed wrappers below.
func (e *BaseError) Is(target error) bool {
	var t carrier
	if !stderrors.As(target, &t) {
		return false
	}
	return t.base().Code == e.Code
}

func (e *BaseError) base() *BaseError { return e }

type carrier interface {
	error
	base() *BaseError
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, code Code, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrMissingID is returned when an update carries no person id
var ErrMissingID = NewBaseError(ErrorTypeValidation, CodeMissingID, "person id is required", nil)

// ErrInvalidArgument is returned when an argument is outside its allowed range or shape
type ErrInvalidArgument struct {
	*BaseError
	Argument string
	Reason   string
}

func NewInvalidArgument(argument, reason string) *ErrInvalidArgument {
	return &ErrInvalidArgument{
		BaseError: NewBaseError(ErrorTypeValidation, CodeInvalidArgument, fmt.Sprintf("invalid %s: %s", argument, reason), nil),
		Argument:  argument,
		Reason:    reason,
	}
}

// ErrCircularRelation is returned when a person would be related to itself
type ErrCircularRelation struct {
	*BaseError
	PersonID string
}

func NewCircularRelation(personID string) *ErrCircularRelation {
	return &ErrCircularRelation{
		BaseError: NewBaseError(ErrorTypeValidation, CodeCircularRelation, "circular relations are not allowed", nil),
		PersonID:  personID,
	}
}

// ErrConflictingRelation is returned when one request both adds and removes the same relation
type ErrConflictingRelation struct {
	*BaseError
	RelType  string
	PersonID string
}

func NewConflictingRelation(relType, personID string) *ErrConflictingRelation {
	return &ErrConflictingRelation{
		BaseError: NewBaseError(ErrorTypeValidation, CodeConflictingRelation,
			fmt.Sprintf("conflicting relation directives for %s %s", relType, personID), nil),
		RelType:  relType,
		PersonID: personID,
	}
}

// Not Found Errors

// ErrNotFound is returned when an entity does not exist
type ErrNotFound struct {
	*BaseError
	Kind string
	ID   string
}

func NewNotFound(kind, id string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", kind, id), nil),
		Kind:      kind,
		ID:        id,
	}
}

// Invariant Errors

// ErrMissingParticipant is returned when a relationship endpoint does not resolve
type ErrMissingParticipant struct {
	*BaseError
	FromID string
	ToID   string
}

func NewMissingParticipant(fromID, toID string) *ErrMissingParticipant {
	return &ErrMissingParticipant{
		BaseError: NewBaseError(ErrorTypeInvariant, CodeMissingParticipant,
			fmt.Sprintf("relationship participant missing: %s -> %s", fromID, toID), nil),
		FromID: fromID,
		ToID:   toID,
	}
}

// ErrAmbiguousMatch is returned when a statement expected to match one row matched several
type ErrAmbiguousMatch struct {
	*BaseError
	Operation string
	Matches   int
}

func NewAmbiguousMatch(operation string, matches int) *ErrAmbiguousMatch {
	return &ErrAmbiguousMatch{
		BaseError: NewBaseError(ErrorTypeInvariant, CodeAmbiguousMatch,
			fmt.Sprintf("%s matched %d rows, expected one", operation, matches), nil),
		Operation: operation,
		Matches:   matches,
	}
}

// ErrUsernameTaken is returned when registering a username that already exists
type ErrUsernameTaken struct {
	*BaseError
	Username string
}

func NewUsernameTaken(username string) *ErrUsernameTaken {
	return &ErrUsernameTaken{
		BaseError: NewBaseError(ErrorTypeInvariant, CodeUsernameTaken, fmt.Sprintf("username already taken: %s", username), nil),
		Username:  username,
	}
}

// Auth Errors

// ErrUnauthorized is returned when a request carries no valid session
var ErrUnauthorized = NewBaseError(ErrorTypeAuth, CodeUnauthorized, "authentication required", nil)

// ErrForbidden is returned when the current user lacks a permission
type ErrForbidden struct {
	*BaseError
	Permission string
}

func NewForbidden(permission string) *ErrForbidden {
	return &ErrForbidden{
		BaseError:  NewBaseError(ErrorTypeAuth, CodeForbidden, fmt.Sprintf("missing permission: %s", permission), nil),
		Permission: permission,
	}
}

// Media Errors

// ErrMediaRejected is returned when an upload is refused by the blob store
type ErrMediaRejected struct {
	*BaseError
	Reason string
}

func NewMediaRejected(reason string, err error) *ErrMediaRejected {
	return &ErrMediaRejected{
		BaseError: NewBaseError(ErrorTypeMedia, CodeMediaRejected, fmt.Sprintf("media rejected: %s", reason), err),
		Reason:    reason,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, CodeGraphConnectionFailed, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, CodeGraphQueryFailed, fmt.Sprintf("query failed: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, CodeConfigValidationFailed, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, CodeConfigMissingRequired, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// Base returns the first BaseError in err's chain, looking through typed wrappers
func Base(err error) (*BaseError, bool) {
	var c carrier
	if err == nil || !stderrors.As(err, &c) {
		return nil, false
	}
	return c.base(), true
}

// CodeOf returns the machine-readable code of err, or "" for foreign errors
func CodeOf(err error) Code {
	if b, ok := Base(err); ok {
		return b.Code
	}
	return ""
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	b, ok := Base(err)
	return ok && b.Type == errType
}
