// Package backend talks to the platform REST API for profile records.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 1 << 20

// TokenSource supplies the bearer token for outgoing requests.
type TokenSource func() string

// Client wraps the lookup and creation endpoints. Lookup is side-effect free
// and safe to repeat; creation is not.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// FindProfile fetches the profile record for subjectID. Absence comes back as
// a LookupError with Kind LookupNotFound; every other failure is
// LookupTransient.
func (c *Client) FindProfile(ctx context.Context, subjectID string) (ProfileRecord, error) {
	endpoint := c.baseURL + "/users/by-sub/" + url.PathEscape(subjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProfileRecord{}, &LookupError{Kind: LookupTransient, Code: "BAD_REQUEST", Message: err.Error()}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProfileRecord{}, &LookupError{Kind: LookupTransient, Code: "NETWORK", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ProfileRecord{}, &LookupError{Kind: LookupTransient, Status: resp.StatusCode, Code: "READ_FAILED", Message: err.Error()}
	}

	if resp.StatusCode == http.StatusOK {
		var record ProfileRecord
		if err := json.Unmarshal(body, &record); err != nil {
			return ProfileRecord{}, &LookupError{
				Kind:    LookupTransient,
				Status:  resp.StatusCode,
				Code:    "MALFORMED",
				Message: fmt.Sprintf("decode profile: %v", err),
			}
		}
		return record, nil
	}

	return ProfileRecord{}, classifyLookupFailure(resp.StatusCode, body)
}

// classifyLookupFailure maps a non-200 lookup response to a tagged error.
// The backend is inconsistent about signalling absence: a plain 404, an error
// envelope carrying the original status, or a "not found" message string.
// All three must map to LookupNotFound or the provisioning guard never fires.
func classifyLookupFailure(status int, body []byte) *LookupError {
	if status == http.StatusNotFound {
		return notFoundError(body)
	}

	var envelope struct {
		OriginalStatus int `json:"originalStatus"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.OriginalStatus == http.StatusNotFound {
		return notFoundError(body)
	}

	text := string(body)
	if strings.Contains(text, "not found") || strings.Contains(text, "User not found") {
		return notFoundError(body)
	}

	return &LookupError{
		Kind:    LookupTransient,
		Status:  status,
		Code:    "UPSTREAM",
		Message: fmt.Sprintf("backend returned status %d: %s", status, truncate(text, 256)),
	}
}

// notFoundError normalizes Status to 404 no matter how the backend signalled
// absence, so fingerprints from the three detection paths compare equal.
func notFoundError(body []byte) *LookupError {
	return &LookupError{
		Kind:    LookupNotFound,
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: truncate(string(body), 256),
	}
}

// CreateProfile creates a profile record. Not idempotent: the backend may
// create duplicate or conflicting records if called twice for one subject.
func (c *Client) CreateProfile(ctx context.Context, request CreateProfileRequest) (ProfileRecord, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return ProfileRecord{}, &CreationError{Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/", bytes.NewReader(payload))
	if err != nil {
		return ProfileRecord{}, &CreationError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProfileRecord{}, &CreationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ProfileRecord{}, &CreationError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return ProfileRecord{}, &CreationError{
			Status:  resp.StatusCode,
			Message: truncate(string(body), 256),
		}
	}

	var record ProfileRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return ProfileRecord{}, &CreationError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("decode created profile: %v", err),
		}
	}
	return record, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
