// Package identity reads the signed-in principal from the hosted identity provider.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrNotAuthenticated means there is no usable session for the presented
// token. It is a normal outcome, not a fault: callers route to sign-in.
var ErrNotAuthenticated = errors.New("not authenticated")

// Principal is the authenticated identity as reported by the provider.
type Principal struct {
	SubjectID   string
	Email       string
	DisplayName string
	Country     string
}

// Client queries the identity provider's userinfo endpoint. Responses are
// never cached: each reconciliation pass asks fresh.
type Client struct {
	userinfoURL string
	httpClient  *http.Client
}

func NewClient(userinfoURL string) *Client {
	return &Client{
		userinfoURL: userinfoURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CurrentPrincipal resolves the bearer of token to a Principal. Every failure
// mode - missing token, network error, non-200, malformed body - collapses
// into ErrNotAuthenticated.
func (c *Client) CurrentPrincipal(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return Principal{}, ErrNotAuthenticated
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Principal{}, ErrNotAuthenticated
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, ErrNotAuthenticated
	}

	var claims struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return Principal{}, ErrNotAuthenticated
	}
	if claims.Sub == "" {
		return Principal{}, ErrNotAuthenticated
	}

	return Principal{
		SubjectID:   claims.Sub,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Country:     claims.Country,
	}, nil
}
