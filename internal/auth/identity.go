package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

// Identity resolves a bearer credential to a stable user identifier.
// The real implementation calls the hosted auth platform; tests stub it.
type Identity interface {
	Resolve(ctx context.Context, bearerToken string) (string, error)
}

// HTTPIdentity verifies tokens against a Supabase-style auth endpoint
// (GET /auth/v1/user with the user's bearer token).
type HTTPIdentity struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPIdentity(baseURL, apiKey string) *HTTPIdentity {
	return &HTTPIdentity{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (i *HTTPIdentity) Resolve(ctx context.Context, bearerToken string) (string, error) {
	if bearerToken == "" {
		return "", domain.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	if i.apiKey != "" {
		req.Header.Set("apikey", i.apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: auth service unreachable: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.ErrUnauthorized
	default:
		return "", fmt.Errorf("%w: auth service returned %d", domain.ErrTransient, resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if user.ID == "" {
		return "", domain.ErrUnauthorized
	}
	return user.ID, nil
}
