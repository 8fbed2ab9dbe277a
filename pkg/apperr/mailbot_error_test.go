package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"app error", NotFound("run"), CodeNotFound, http.StatusNotFound},
		{"wrapped app error", fmt.Errorf("handler: %w", FetchFailed(cause, true)), CodeFetchFailed, http.StatusBadGateway},
		{"plain error", cause, CodeInternalError, http.StatusInternalServerError},
		{"not configured", NotConfigured("commerce"), CodeNotConfigured, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if GetHTTPStatus(tt.err) != tt.wantStatus {
				t.Errorf("status = %d, want %d", GetHTTPStatus(tt.err), tt.wantStatus)
			}
		})
	}
}

func TestFetchFailed_KeepsCause(t *testing.T) {
	cause := errors.New("quota")
	err := FetchFailed(cause, false)
	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	if err.Details["retryable"] != false {
		t.Errorf("details = %v", err.Details)
	}
}
