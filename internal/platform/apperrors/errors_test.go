package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeUnauthorized, "test message", http.StatusUnauthorized),
			want: "[AUTH_3001] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInternal, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[SVC_5001] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeValidation, "test", http.StatusBadRequest)
	err.WithDetails("field", "model").WithDetails("reason", "required")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "model" {
		t.Errorf("Details[field] = %v, want model", err.Details["field"])
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("node", "abc-123")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "node" || err.Details["id"] != "abc-123" {
		t.Errorf("Details = %v, want resource/id populated", err.Details)
	}
}

func TestUpstreamError(t *testing.T) {
	err := UpstreamError(http.StatusBadGateway, "connection refused")
	if err.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadGateway)
	}
	if err.Details["code"] != http.StatusBadGateway {
		t.Errorf("Details[code] = %v, want %d", err.Details["code"], http.StatusBadGateway)
	}
}

func TestRateLimited(t *testing.T) {
	err := RateLimited(600, "1m")
	if err.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusTooManyRequests)
	}
	if err.Details["limit"] != 600 || err.Details["window"] != "1m" {
		t.Errorf("Details = %v, want limit/window populated", err.Details)
	}
}

func TestAs(t *testing.T) {
	svcErr := Validation("bad request")
	wrapped := errors.New("context: " + svcErr.Error())

	if got := As(svcErr); got != svcErr {
		t.Errorf("As() direct = %v, want same pointer", got)
	}
	if got := As(wrapped); got != nil {
		t.Errorf("As() on unrelated error = %v, want nil", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(NoAgentsAvailable()); got != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus() = %d, want %d", got, http.StatusServiceUnavailable)
	}
	if got := HTTPStatus(errors.New("plain error")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() for unrecognized error = %d, want %d", got, http.StatusInternalServerError)
	}
}
