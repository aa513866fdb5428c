/**
 * @description
 * This package provides a client for the external SAS RADIUS manager API.
 * It encapsulates authenticated HTTP calls for the paged listing endpoints
 * used by the bulk sync coordinator and the activation endpoint used by the
 * propagation worker.
 *
 * @notes
 * - Unauthorized responses surface as ErrUnauthorized so callers can treat
 *   them as unrecoverable rather than retrying into a lockout.
 * - Other non-2xx responses surface as *APIError with the status code, which
 *   the worker uses to separate rejections (4xx) from outages (5xx).
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http: Standard Go libraries.
 */
package sasclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrUnauthorized indicates the API rejected our credentials. Retrying will
// not help.
var ErrUnauthorized = errors.New("sas api rejected credentials")

// APIError is a non-2xx response from the SAS API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sas api error: status=%d %s - %s", e.StatusCode, e.Status, e.Message)
}

// Transient reports whether the error looks like an outage rather than a
// rejection of the request itself.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is a client for the SAS RADIUS manager API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new SAS API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Profile is a service profile record as the SAS API returns it.
type Profile struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	RateLimit string `json:"rate_limit"`
	Price     int64  `json:"price"`
}

// Group is a user group record.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Zone is a coverage zone record.
type Zone struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a subscriber record.
type User struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	ProfileID  *int64     `json:"profile_id"`
	Expiration *time.Time `json:"expiration"`
	Enabled    bool       `json:"enabled"`
}

// Nas is a NAS device record.
type Nas struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IP      string `json:"nasname"`
	Secret  string `json:"secret"`
	NasType string `json:"type"`
}

// pagedResponse is the envelope every listing endpoint shares.
type pagedResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// ActivateRequest is the payload for the user activation endpoint.
type ActivateRequest struct {
	UserID            int64      `json:"user_id"`
	ProfileID         int64      `json:"profile_id"`
	Expiration        *time.Time `json:"expiration,omitempty"`
	ActivationUnits   int        `json:"activation_units"`
	UseCard           bool       `json:"use_card"`
	Comment           string     `json:"comment,omitempty"`
	TransactionRef    string     `json:"transaction_ref,omitempty"`
	ChangeProfileOnly bool       `json:"change_profile_only"`
}

// ActivateResponse is the activation endpoint's success payload.
type ActivateResponse struct {
	Status      string `json:"status"`
	ExternalRef string `json:"reference"`
}

// errorBody is the SAS API's error envelope.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FetchProfiles lists service profiles one page at a time.
func (c *Client) FetchProfiles(ctx context.Context, page, pageSize int) ([]Profile, int, bool, error) {
	return fetchPage[Profile](ctx, c, "/api/profile/list", page, pageSize)
}

// FetchGroups lists user groups one page at a time.
func (c *Client) FetchGroups(ctx context.Context, page, pageSize int) ([]Group, int, bool, error) {
	return fetchPage[Group](ctx, c, "/api/group/list", page, pageSize)
}

// FetchZones lists coverage zones one page at a time.
func (c *Client) FetchZones(ctx context.Context, page, pageSize int) ([]Zone, int, bool, error) {
	return fetchPage[Zone](ctx, c, "/api/zone/list", page, pageSize)
}

// FetchUsers lists subscribers one page at a time.
func (c *Client) FetchUsers(ctx context.Context, page, pageSize int) ([]User, int, bool, error) {
	return fetchPage[User](ctx, c, "/api/user/list", page, pageSize)
}

// FetchNAS lists NAS devices one page at a time.
func (c *Client) FetchNAS(ctx context.Context, page, pageSize int) ([]Nas, int, bool, error) {
	return fetchPage[Nas](ctx, c, "/api/nas/list", page, pageSize)
}

func fetchPage[T any](ctx context.Context, c *Client, path string, page, pageSize int) ([]T, int, bool, error) {
	payload := map[string]int{"page": page, "count": pageSize}
	bodyBytes, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, 0, false, err
	}

	var resp pagedResponse[T]
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, 0, false, fmt.Errorf("failed to decode page response: %w", err)
	}

	hasMore := page*pageSize < resp.Total
	return resp.Data, resp.Total, hasMore, nil
}

// Activate asks the SAS system to apply a profile/expiration change to one
// subscriber. It returns the API's status string and external reference.
func (c *Client) Activate(ctx context.Context, req ActivateRequest) (string, string, error) {
	bodyBytes, err := c.do(ctx, http.MethodPost, "/api/user/activate", req)
	if err != nil {
		return "", "", err
	}

	var resp ActivateResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return "", "", fmt.Errorf("failed to decode activate response: %w", err)
	}
	return resp.Status, resp.ExternalRef, nil
}

// CheckCardStock returns the number of unused cards available for a profile
// on the SAS side.
func (c *Client) CheckCardStock(ctx context.Context, profileID int64) (int, error) {
	payload := map[string]int64{"profile_id": profileID}
	bodyBytes, err := c.do(ctx, http.MethodPost, "/api/card/available", payload)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Available int `json:"available"`
	}
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode card stock response: %w", err)
	}
	return resp.Available, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.Printf("level=warn component=sas_client path=%s status=%d msg=\"credentials rejected\"", path, resp.StatusCode)
		return nil, ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorBody
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=sas_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		log.Printf("level=warn component=sas_client path=%s status=%d api_status=%q message=%q", path, resp.StatusCode, errResp.Status, errResp.Message)
		return nil, &APIError{StatusCode: resp.StatusCode, Status: errResp.Status, Message: errResp.Message}
	}

	return bodyBytes, nil
}
