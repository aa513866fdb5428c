package sasclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchProfiles_PagesThroughResults(t *testing.T) {
	var gotAuth string
	var gotPage, gotCount int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/profile/list" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var payload map[string]int
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotPage, gotCount = payload["page"], payload["count"]

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  []Profile{{ID: 1, Name: "Fiber 40"}, {ID: 2, Name: "Fiber 80"}},
			"total": 5,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	profiles, total, hasMore, err := client.FetchProfiles(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPage != 1 || gotCount != 2 {
		t.Fatalf("expected page=1 count=2, got page=%d count=%d", gotPage, gotCount)
	}
	if len(profiles) != 2 || total != 5 {
		t.Fatalf("expected 2 of 5 profiles, got %d of %d", len(profiles), total)
	}
	if !hasMore {
		t.Fatal("expected more pages when page*count < total")
	}
}

func TestFetchProfiles_LastPageHasNoMore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  []Profile{{ID: 5, Name: "Fiber 120"}},
			"total": 5,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, _, hasMore, err := client.FetchProfiles(context.Background(), 3, 2)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hasMore {
		t.Fatal("expected no more pages when page*count >= total")
	}
}

func TestActivate_ReturnsStatusAndReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/activate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req ActivateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.UserID != 501 || req.ProfileID != 12 {
			t.Fatalf("unexpected activation payload: %+v", req)
		}
		json.NewEncoder(w).Encode(ActivateResponse{Status: "active", ExternalRef: "sas-tx-77"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	status, ref, err := client.Activate(context.Background(), ActivateRequest{UserID: 501, ProfileID: 12, ActivationUnits: 1})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if status != "active" || ref != "sas-tx-77" {
		t.Fatalf("expected active/sas-tx-77, got %s/%s", status, ref)
	}
}

func TestDo_UnauthorizedSurfacesSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key")
	_, _, _, err := client.FetchUsers(context.Background(), 1, 10)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDo_ServerErrorIsTransientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "message": "maintenance window"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, _, err := client.Activate(context.Background(), ActivateRequest{UserID: 1, ProfileID: 1})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || !apiErr.Transient() {
		t.Fatalf("expected transient 503, got %d transient=%t", apiErr.StatusCode, apiErr.Transient())
	}
	if apiErr.Message != "maintenance window" {
		t.Fatalf("expected error body message, got %q", apiErr.Message)
	}
}

func TestDo_BadRequestIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"status": "rejected", "message": "user disabled"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.CheckCardStock(context.Background(), 12)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Transient() {
		t.Fatal("a 422 must not be treated as transient")
	}
}
