// Package identity talks to the external identity service.  The
// booking engine only needs one fact from it: whether an account is
// blocked from transacting.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Directory answers account questions for the booking engine.
type Directory interface {
	// IsBlocked reports whether the user may not transact.
	IsBlocked(ctx context.Context, userID uint64) (bool, error)
}

// HTTPDirectory queries the identity service over HTTP.
type HTTPDirectory struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPDirectory builds a directory client with a short timeout so a
// slow identity service cannot stall booking requests.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// IsBlocked fetches the user's block status.  A missing user reads as
// blocked: an id the identity service does not know must not book.
func (d *HTTPDirectory) IsBlocked(ctx context.Context, userID uint64) (bool, error) {
	url := fmt.Sprintf("%s/v1/users/%d/status", d.BaseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identity lookup: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("identity lookup: decode: %w", err)
	}
	return body.Blocked, nil
}

// Nop is the directory used when no identity service is configured;
// it blocks nobody.  Development only.
type Nop struct{}

// IsBlocked always reports false.
func (Nop) IsBlocked(context.Context, uint64) (bool, error) { return false, nil }
