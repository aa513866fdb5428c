package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAPIKeyMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{
			name:       "matching key passes",
			configured: "secret-key",
			provided:   "secret-key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing key rejected",
			configured: "secret-key",
			provided:   "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key rejected",
			configured: "secret-key",
			provided:   "other-key",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "whitespace around key tolerated",
			configured: "secret-key",
			provided:   "  secret-key  ",
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty configured key disables the check",
			configured: "",
			provided:   "",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := InternalAPIKeyMiddleware(tt.configured)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/activations", nil)
			if tt.provided != "" {
				req.Header.Set("X-Internal-Api-Key", tt.provided)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
