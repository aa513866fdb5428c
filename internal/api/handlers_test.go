package api

import (
	"net/http"
	"testing"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/app"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

func TestParseOptionalPositiveInt(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "empty uses fallback", raw: "", fallback: 50, want: 50},
		{name: "blank uses fallback", raw: "   ", fallback: 50, want: 50},
		{name: "valid value", raw: "25", fallback: 50, want: 25},
		{name: "zero allowed", raw: "0", fallback: 50, want: 0},
		{name: "negative rejected", raw: "-1", fallback: 50, wantErr: true},
		{name: "garbage rejected", raw: "ten", fallback: 50, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptionalPositiveInt(tt.raw, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMapActivationError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "already processed", err: app.ErrAlreadyProcessed, wantStatus: http.StatusConflict},
		{name: "already processing", err: app.ErrAlreadyProcessing, wantStatus: http.StatusConflict},
		{name: "inactive profile", err: app.ErrProfileNotActive, wantStatus: http.StatusBadRequest},
		{name: "unknown user", err: store.ErrUserNotFound, wantStatus: http.StatusNotFound},
		{name: "unknown profile", err: store.ErrProfileNotFound, wantStatus: http.StatusNotFound},
		{name: "insufficient funds", err: store.ErrInsufficientFunds, wantStatus: http.StatusUnprocessableEntity},
		{name: "daily limit", err: store.ErrDailyLimitExceeded, wantStatus: http.StatusUnprocessableEntity},
		{name: "suspended wallet", err: store.ErrWalletSuspended, wantStatus: http.StatusUnprocessableEntity},
		{name: "concurrent modification", err: store.ErrConcurrentModification, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := mapActivationError(tt.err)
			if status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, status)
			}
		})
	}
}
