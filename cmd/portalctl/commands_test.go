package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/jobportal/app"
	"github.com/upb/jobportal/auth"
	"github.com/upb/jobportal/config"
	"github.com/upb/jobportal/handlers"
	"github.com/upb/jobportal/middleware"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories/memory"
	"github.com/upb/jobportal/routeguard"
	"github.com/upb/jobportal/routes"
	"github.com/upb/jobportal/services"
	"github.com/upb/jobportal/tokens"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newPortalServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tokenSvc, err := tokens.NewService(tokens.Options{
		AccessSecret:  []byte("access-secret-for-portalctl-tests-012345"),
		RefreshSecret: []byte("refresh-secret-for-portalctl-tests-01234"),
	})
	require.NoError(t, err)

	authSvc := services.NewAuthService(services.AuthServiceConfig{
		Tokens:     tokenSvc,
		Registry:   tokens.NewMemoryRegistry(),
		Principals: memory.NewPrincipalRepository(),
		BcryptCost: bcrypt.MinCost,
		Logger:     logger,
	})
	_, err = authSvc.Register(context.Background(), services.RegisterRequest{
		Name:     "Marta Ruiz",
		Email:    "marta@example.com",
		Password: "correct-horse-battery",
		Role:     models.RoleAdmin,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(routes.SetupRoutes(&app.Dependencies{
		Config:         &config.Config{Environment: "test"},
		Logger:         logger,
		Tokens:         tokenSvc,
		AuthService:    authSvc,
		AuthMiddleware: middleware.NewAuthMiddleware(authSvc, logger),
		AuthHandler:    auth.NewHandler(authSvc, auth.CookieOptions{MaxAge: tokenSvc.RefreshTTL()}, logger),
		HealthHandler:  handlers.NewHealthHandler(nil, nil, logger),
		PortalHandler:  handlers.NewPortalHandler(authSvc, logger),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "", "hash-password", "--cost", "4", "s3cret-pass")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")))

	out, err = execute(t, "from-stdin\n", "hash-password", "--cost", "4")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-stdin")))

	_, err = execute(t, "", "hash-password")
	assert.EqualError(t, err, "password is empty")
}

func TestLogin(t *testing.T) {
	srv := newPortalServer(t)

	out, err := execute(t, "", "login", "--server", srv.URL, "-e", "marta@example.com", "-p", "correct-horse-battery")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as marta@example.com (admin)")
	assert.Contains(t, out, "access token: ey")

	out, err = execute(t, "", "login", "--json", "--server", srv.URL, "-e", "marta@example.com", "-p", "correct-horse-battery")
	require.NoError(t, err)
	var body struct {
		AccessToken string            `json:"accessToken"`
		Principal   *models.Principal `json:"principal"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.Equal(t, models.RoleAdmin, body.Principal.Role)

	_, err = execute(t, "", "login", "--server", srv.URL, "-e", "marta@example.com", "-p", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")

	_, err = execute(t, "", "login", "--server", srv.URL)
	assert.Error(t, err, "email and password are required")
}

func TestWhoami(t *testing.T) {
	srv := newPortalServer(t)

	out, err := execute(t, "", "whoami", "--server", srv.URL, "-e", "marta@example.com", "-p", "correct-horse-battery")
	require.NoError(t, err)
	assert.Contains(t, out, "name:    Marta Ruiz")
	assert.Contains(t, out, "role:    admin")
	assert.NotContains(t, out, "password")
}

func TestClassify(t *testing.T) {
	out, err := execute(t, "", "classify", "/home", "/admin/jobs/1", "/users/profile", "/nope")
	require.NoError(t, err)
	assert.Equal(t, "/home\tpublic\n/admin/jobs/1\tadminOnly\n/users/profile\tuserOnly\n/nope\tinvalid\n", out)

	out, err = execute(t, "", "classify", "--json", "/jobs/7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"/jobs/7":"public"}`, out)
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		want  []routeguard.Decision
		isErr bool
	}{
		{
			name: "anonymous on admin route",
			args: []string{"guard", "/admin/dashboard"},
			want: []routeguard.Decision{
				{Path: "/admin/dashboard", Class: routeguard.ClassAdminOnly, State: routeguard.StateRedirecting, Target: routeguard.LoginPath},
			},
		},
		{
			name: "admin on user route follows to admin home",
			args: []string{"guard", "--as", "admin", "--follow", "/users/jobs"},
			want: []routeguard.Decision{
				{Path: "/users/jobs", Class: routeguard.ClassUserOnly, State: routeguard.StateRedirecting, Target: routeguard.AdminHome},
				{Path: routeguard.AdminHome, Class: routeguard.ClassAdminOnly, State: routeguard.StateAllowed},
			},
		},
		{
			name: "loading session checks",
			args: []string{"guard", "--as", "loading", "/users/profile"},
			want: []routeguard.Decision{
				{Path: "/users/profile", Class: routeguard.ClassUserOnly, State: routeguard.StateChecking},
			},
		},
		{
			name: "unknown path follows to not found",
			args: []string{"guard", "--as", "user", "--follow", "/totally/unknown"},
			want: []routeguard.Decision{
				{Path: "/totally/unknown", Class: routeguard.ClassInvalid, State: routeguard.StateRedirecting, Target: routeguard.NotFoundPath},
				{Path: routeguard.NotFoundPath, Class: routeguard.ClassPublic, State: routeguard.StateAllowed},
			},
		},
		{
			name:  "unknown session",
			args:  []string{"guard", "--as", "root", "/home"},
			isErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", append(tt.args, "--json")...)
			if tt.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got []routeguard.Decision
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "portalctl version dev\n", out)
}
