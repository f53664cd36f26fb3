package apiclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/jobportal/models"
	"go.uber.org/zap"
)

// tokenResult mirrors the body of login, register and refresh responses
type tokenResult struct {
	AccessToken string            `json:"accessToken"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Principal   *models.Principal `json:"principal"`
}

// RegisterRequest is the payload of POST /auth/register
type RegisterRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

// Login exchanges credentials for a session. A failed login leaves the
// session unchanged.
func (c *Client) Login(ctx context.Context, email, password string) (*models.Principal, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/auth/login", body)
}

// Register creates an account and starts a session for it
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.Principal, error) {
	return c.authenticate(ctx, "/auth/register", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body interface{}) (*models.Principal, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, http.MethodPost, path, payload, "")
	if err != nil {
		return nil, err
	}
	if resp, err = checkStatus(resp); err != nil {
		return nil, err
	}

	var result tokenResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	if err := c.session.Set(result.AccessToken, result.Principal); err != nil {
		return nil, err
	}
	return result.Principal, nil
}

// Logout revokes the refresh cookie on the server and clears the session.
// The session is cleared even if the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	defer c.session.Clear()

	resp, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, "")
	if err != nil {
		return err
	}
	_, err = checkStatus(resp)
	return err
}

// Restore resolves the initial loading state by attempting a refresh with
// whatever refresh cookie the client holds. A rejected refresh is a normal
// outcome and leaves the session unauthenticated without an error.
func (c *Client) Restore(ctx context.Context) (SessionState, error) {
	if current := c.session.Snapshot(); current.Authenticated() {
		return current, nil
	}

	_, err := c.sharedRefresh(ctx, "")
	switch {
	case err == nil, errors.Is(err, ErrSessionExpired):
		return c.session.Snapshot(), nil
	case errors.Is(err, ErrNetwork):
		c.logger.Warn("session restore failed", zap.Error(err))
		c.session.Clear()
		return c.session.Snapshot(), err
	default:
		return c.session.Snapshot(), err
	}
}

// Verify asks the server who the current access token belongs to
func (c *Client) Verify(ctx context.Context) (*models.Principal, error) {
	resp, err := c.Get(ctx, "/auth/verify")
	if err != nil {
		return nil, err
	}
	var principal models.Principal
	if err := resp.Decode(&principal); err != nil {
		return nil, err
	}
	return &principal, nil
}
