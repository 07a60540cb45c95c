// Package authadapter extracts a user id from an incoming request's headers
// and cookies by delegating to an external authentication service. The
// service itself is an external collaborator; this package specifies its
// interface and an HTTP-backed implementation.
package authadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openslides/backend/pkg/actionerror"
)

// Service authenticates an incoming request and returns the caller's user
// id. refreshedToken is non-nil when the auth service rotated the access
// token and the caller must forward it back to the client.
type Service interface {
	Authenticate(ctx context.Context, headers http.Header, cookies []*http.Cookie) (userID uint64, refreshedToken *string, err error)
}

// HTTPService calls an external auth service over HTTP, forwarding the
// Authorization header and cookie jar and translating any failure into an
// *actionerror.AuthError.
type HTTPService struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPService builds an HTTPService pointed at baseURL, e.g.
// "http://auth:9004/internal".
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{BaseURL: baseURL, HTTPClient: http.DefaultClient}
}

type whoAmIResponse struct {
	UserID      uint64  `json:"user_id"`
	SessionID   string  `json:"session_id"`
	AccessToken *string `json:"access_token,omitempty"`
}

// Authenticate implements Service.
func (s *HTTPService) Authenticate(ctx context.Context, headers http.Header, cookies []*http.Cookie) (uint64, *string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/who-am-i", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("authadapter: building request: %w", err)
	}
	if auth := headers.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("authadapter: auth service unreachable")
		return 0, nil, &actionerror.AuthError{Detail: "authentication service unavailable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, nil, &actionerror.AuthError{Detail: fmt.Sprintf("authentication failed (status %d)", resp.StatusCode)}
	}

	var parsed whoAmIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, nil, &actionerror.AuthError{Detail: "malformed response from authentication service"}
	}
	if parsed.UserID == 0 {
		return 0, nil, &actionerror.AuthError{Detail: "anonymous users may not submit actions"}
	}
	return parsed.UserID, parsed.AccessToken, nil
}
