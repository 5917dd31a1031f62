package apperr

import (
	"net/http"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestClassify_Kinds(t *testing.T) {
	domainErr := errors.Mark(errors.New("payment exceeds remaining balance"), ErrUnprocessable)

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", Invalid("amount", "must be greater than 0"), CodeValidation, http.StatusBadRequest},
		{"not found", NotFound("invoice %s not found", "abc"), CodeNotFound, http.StatusNotFound},
		{"conflict", Conflict("version mismatch"), CodeConflict, http.StatusConflict},
		{"invalid state", errors.Mark(errors.New("already voided"), ErrInvalidState), CodeInvalidState, http.StatusConflict},
		{"wrapped domain", errors.Wrap(domainErr, "add payment"), CodeUnprocessable, http.StatusUnprocessableEntity},
		{"plain", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, status := Classify(tt.err)
			if code != tt.code || status != tt.status {
				t.Errorf("Classify() = (%s, %d), want (%s, %d)", code, status, tt.code, tt.status)
			}
		})
	}
}

func TestFields_SurviveWrapping(t *testing.T) {
	err := errors.Wrap(Validation(map[string]string{"unit_price": "must be 0 or greater"}), "add line item")
	fields := Fields(err)
	if fields["unit_price"] != "must be 0 or greater" {
		t.Errorf("expected unit_price field message, got %v", fields)
	}
	if !IsValidation(err) {
		t.Error("expected wrapped error to remain a validation error")
	}
}

func TestValidationError_MessageSorted(t *testing.T) {
	err := Validation(map[string]string{"b": "is required", "a": "is required"})
	if !strings.Contains(err.Error(), "a is required; b is required") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestToHTTP_HidesInternalMessage(t *testing.T) {
	he := ToHTTP(errors.New("pq: connection refused"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	body := he.Message.(map[string]interface{})
	if body["message"] != "internal server error" {
		t.Errorf("expected generic message, got %v", body["message"])
	}
}

func TestToHTTP_IncludesFields(t *testing.T) {
	he := ToHTTP(Invalid("patient_id", "is required"))
	if he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", he.Code)
	}
	body := he.Message.(map[string]interface{})
	fields, ok := body["fields"].(map[string]string)
	if !ok || fields["patient_id"] != "is required" {
		t.Errorf("expected patient_id field, got %v", body["fields"])
	}
}
