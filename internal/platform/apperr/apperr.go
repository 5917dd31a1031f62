// Package apperr defines the error kinds shared by the domain packages and
// maps them onto HTTP responses.
package apperr

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
)

// Error kinds. Domain errors are marked with one of these so that transport
// code can pick a status without knowing the concrete error.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrUnprocessable = errors.New("unprocessable request")
)

const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeInvalidState  = "invalid_state"
	CodeUnprocessable = "unprocessable"
	CodeInternal      = "internal_error"
)

// kinds is ordered: the first matching kind wins.
var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrConflict, CodeConflict, http.StatusConflict},
	{ErrInvalidState, CodeInvalidState, http.StatusConflict},
	{ErrUnprocessable, CodeUnprocessable, http.StatusUnprocessableEntity},
}

// ValidationError carries per-field messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validation returns an error marked as ErrValidation carrying fields.
func Validation(fields map[string]string) error {
	return errors.Mark(&ValidationError{Fields: fields}, ErrValidation)
}

// Invalid is Validation for a single field.
func Invalid(field, message string) error {
	return Validation(map[string]string{field: message})
}

// NotFound returns an error marked as ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Conflict returns an error marked as ErrConflict.
func Conflict(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

// Fields extracts the field map from a validation error, or nil.
func Fields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// Classify returns the machine-readable code and HTTP status for err.
func Classify(err error) (string, int) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code, k.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	_, status := Classify(err)
	return status
}

// IsNotFound reports whether err is of kind ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is of kind ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation reports whether err is of kind ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// ToHTTP converts err into an echo.HTTPError with a JSON body. Internal
// errors do not leak their message.
func ToHTTP(err error) *echo.HTTPError {
	code, status := Classify(err)
	body := map[string]interface{}{"error": code}
	if status == http.StatusInternalServerError {
		body["message"] = "internal server error"
	} else {
		body["message"] = err.Error()
	}
	if fields := Fields(err); len(fields) > 0 {
		body["fields"] = fields
	}
	return echo.NewHTTPError(status, body).SetInternal(err)
}
