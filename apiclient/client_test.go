package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/tokens"
	"go.uber.org/zap/zaptest"
)

// fakePortal accepts exactly one access token at a time. Refreshing replaces
// it, which lets tests expire the client's token at will.
type fakePortal struct {
	t         *testing.T
	tokens    *tokens.Service
	principal *models.Principal

	mu      sync.Mutex
	current string

	refreshCalls  atomic.Int32
	unauthorized  atomic.Int32
	refreshStatus int

	// refreshGate, when set, holds refresh responses until it is closed
	refreshGate chan struct{}
	// after401, when set, is called with the running count of 401s
	after401 func(n int32)
}

func newFakePortal(t *testing.T) *fakePortal {
	return &fakePortal{
		t:             t,
		tokens:        newTokenService(t),
		principal:     &models.Principal{ID: uuid.New(), Email: "ana@example.com", Role: models.RoleUser},
		refreshStatus: http.StatusOK,
	}
}

func (f *fakePortal) mint() string {
	f.t.Helper()
	token, err := f.tokens.MintAccess(f.principal)
	require.NoError(f.t, err)
	return token
}

// rotate makes a new token the only valid one and returns it
func (f *fakePortal) rotate() string {
	token := f.mint()
	f.mu.Lock()
	f.current = token
	f.mu.Unlock()
	return token
}

// expire invalidates every token handed out so far
func (f *fakePortal) expire() {
	f.mu.Lock()
	f.current = "expired"
	f.mu.Unlock()
}

func (f *fakePortal) valid(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.current
}

func (f *fakePortal) writeTokens(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"accessToken": token,
			"expiresAt":   time.Now().Add(15 * time.Minute),
			"principal":   f.principal,
		},
	})
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if f.refreshStatus != http.StatusOK {
			w.WriteHeader(f.refreshStatus)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"refresh token is no longer valid"}`))
			return
		}
		f.writeTokens(w, f.rotate())

	case "/auth/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct-horse" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"invalid email or password"}`))
			return
		}
		f.writeTokens(w, f.rotate())

	case "/auth/logout":
		w.WriteHeader(http.StatusNoContent)

	case "/api/v1/data":
		if !f.valid(r) {
			n := f.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"Invalid or expired token"}`))
			if f.after401 != nil {
				f.after401(n)
			}
			return
		}
		_, _ = w.Write([]byte(`{"data":{"jobs":3}}`))

	case "/api/v1/forbidden":
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden","message":"Insufficient permissions"}`))

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return c, srv
}

// signIn puts a currently valid token in the client's session
func signIn(t *testing.T, c *Client, f *fakePortal) string {
	t.Helper()
	token := f.rotate()
	require.NoError(t, c.Session().Set(token, f.principal))
	return token
}

func TestNew(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	assert.Error(t, err)

	c, err := New(Options{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.NotNil(t, c.http.Jar, "refresh cookie needs a jar")
	assert.Equal(t, StatusLoading, c.Session().Snapshot().Status)
}

func TestDoAttachesBearerToken(t *testing.T) {
	var got atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))

	_, err := c.Get(context.Background(), "/anything")
	require.NoError(t, err)
	assert.Empty(t, got.Load(), "no token, no header")

	f := newFakePortal(t)
	token := signIn(t, c, f)
	_, err = c.Get(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, got.Load())
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	f := newFakePortal(t)
	c, _ := newTestClient(t, f)
	old := signIn(t, c, f)

	resp, err := c.Get(context.Background(), "/api/v1/data")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Zero(t, f.refreshCalls.Load(), "valid token needs no refresh")

	f.expire()
	resp, err = c.Get(context.Background(), "/api/v1/data")
	require.NoError(t, err)

	var data struct {
		Jobs int `json:"jobs"`
	}
	require.NoError(t, resp.Decode(&data))
	assert.Equal(t, 3, data.Jobs)
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	state := c.Session().Snapshot()
	assert.True(t, state.Authenticated())
	assert.NotEqual(t, old, state.AccessToken)
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const n = 8

	f := newFakePortal(t)
	f.refreshGate = make(chan struct{})
	var once sync.Once
	f.after401 = func(count int32) {
		if count == n {
			once.Do(func() { close(f.refreshGate) })
		}
	}

	c, _ := newTestClient(t, f)
	signIn(t, c, f)
	f.expire()

	var wg sync.WaitGroup
	results := make([]error, n)
	tokensSeen := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Get(context.Background(), "/api/v1/data")
			tokensSeen[i] = c.Session().Snapshot().AccessToken
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.refreshCalls.Load(), "exactly one refresh call")
	for i := 0; i < n; i++ {
		assert.NoError(t, results[i])
		assert.Equal(t, tokensSeen[0], tokensSeen[i])
	}
}

func TestFailedRefreshExpiresEveryWaiter(t *testing.T) {
	const n = 6

	f := newFakePortal(t)
	f.refreshStatus = http.StatusUnauthorized
	f.refreshGate = make(chan struct{})
	var once sync.Once
	f.after401 = func(count int32) {
		if count == n {
			once.Do(func() { close(f.refreshGate) })
		}
	}

	c, _ := newTestClient(t, f)
	signIn(t, c, f)
	f.expire()

	var clears atomic.Int32
	c.Session().Subscribe(func(st SessionState) {
		if st.Status == StatusUnauthenticated {
			clears.Add(1)
		}
	})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "/api/v1/data")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int32(1), clears.Load(), "session cleared once")
	assert.Equal(t, StatusUnauthenticated, c.Session().Snapshot().Status)

	// later 401s do not try again
	_, err := c.Get(context.Background(), "/api/v1/data")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr, "no token is sent once the session is gone")
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestLate401ReusesNewerToken(t *testing.T) {
	f := newFakePortal(t)
	c, _ := newTestClient(t, f)
	stale := signIn(t, c, f)

	fresh := f.rotate()
	require.NoError(t, c.Session().Set(fresh, f.principal))

	token, err := c.refreshAfter(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestSecond401IsTerminal(t *testing.T) {
	var refreshes atomic.Int32
	f := newFakePortal(t)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			refreshes.Add(1)
			f.writeTokens(w, f.mint())
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	signIn(t, c, f)

	_, err := c.Get(context.Background(), "/api/v1/data")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), refreshes.Load(), "retry happens exactly once")
	assert.Equal(t, StatusUnauthenticated, c.Session().Snapshot().Status)
}

func TestCancelledWaiterDoesNotCancelRefresh(t *testing.T) {
	f := newFakePortal(t)
	f.refreshGate = make(chan struct{})
	c, _ := newTestClient(t, f)
	signIn(t, c, f)
	f.expire()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/api/v1/data")
		done <- err
	}()

	require.Eventually(t, func() bool { return f.refreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.refreshGate)
	require.Eventually(t, func() bool { return c.Session().Snapshot().Version == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Session().Snapshot().Authenticated(), "refresh completed for the next caller")
}

func TestErrors(t *testing.T) {
	f := newFakePortal(t)
	c, srv := newTestClient(t, f)

	t.Run("http error carries server message", func(t *testing.T) {
		_, err := c.Get(context.Background(), "/api/v1/forbidden")
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusForbidden, httpErr.Status)
		assert.Equal(t, "Insufficient permissions", httpErr.Message)
		assert.True(t, IsStatus(err, http.StatusForbidden))
	})

	t.Run("transport failure is a network error", func(t *testing.T) {
		srv.Close()
		_, err := c.Get(context.Background(), "/api/v1/data")
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

func TestLoginAndLogout(t *testing.T) {
	f := newFakePortal(t)
	c, _ := newTestClient(t, f)

	_, err := c.Login(context.Background(), "ana@example.com", "wrong")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, StatusLoading, c.Session().Snapshot().Status, "failed login leaves the session alone")

	p, err := c.Login(context.Background(), "ana@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, f.principal.ID, p.ID)
	assert.True(t, c.Session().Snapshot().Authenticated())

	_, err = c.Get(context.Background(), "/api/v1/data")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, StatusUnauthenticated, c.Session().Snapshot().Status)
}

func TestRestore(t *testing.T) {
	t.Run("valid cookie authenticates", func(t *testing.T) {
		f := newFakePortal(t)
		c, _ := newTestClient(t, f)

		state, err := c.Restore(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusAuthenticated, state.Status)
		assert.Equal(t, f.principal.Role, state.Principal.Role)
	})

	t.Run("rejected cookie leaves loading for unauthenticated", func(t *testing.T) {
		f := newFakePortal(t)
		f.refreshStatus = http.StatusUnauthorized
		c, _ := newTestClient(t, f)

		state, err := c.Restore(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusUnauthenticated, state.Status)
	})

	t.Run("unreachable server", func(t *testing.T) {
		f := newFakePortal(t)
		c, srv := newTestClient(t, f)
		srv.Close()

		state, err := c.Restore(context.Background())
		assert.ErrorIs(t, err, ErrNetwork)
		assert.Equal(t, StatusUnauthenticated, state.Status)
	})
}

func TestResponseDecode(t *testing.T) {
	r := &Response{Body: []byte(`{"data":{"id":"x"}}`)}
	var v struct {
		ID string `json:"id"`
	}
	require.NoError(t, r.Decode(&v))
	assert.Equal(t, "x", v.ID)

	assert.Error(t, (&Response{Body: []byte(`{}`)}).Decode(&v))
	assert.Error(t, (&Response{Body: []byte(`nope`)}).Decode(&v))
}

func TestEncodeBody(t *testing.T) {
	data, err := encodeBody(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(data))

	raw, err := encodeBody([]byte(`{"raw":true}`))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "raw"))

	_, err = encodeBody(make(chan int))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNetwork))
}
