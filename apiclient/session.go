package apiclient

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/tokens"
)

// Status is the coarse authentication state of a session
type Status string

const (
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// ErrInconsistentSession is returned by Set when the access token does not
// belong to the given principal
var ErrInconsistentSession = errors.New("access token does not match principal")

// SessionState is an immutable snapshot of a Session
type SessionState struct {
	Status      Status
	AccessToken string
	Principal   *models.Principal

	// Version increases by one on every transition
	Version uint64
}

// Authenticated reports whether the snapshot holds a usable token
func (s SessionState) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Session holds the client's access token and principal. It is safe for
// concurrent use. Subscribers are called synchronously, in transition order,
// and must not call Set or Clear themselves.
type Session struct {
	// writeMu serializes transitions together with their notifications
	writeMu sync.Mutex

	mu    sync.RWMutex
	state SessionState

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]func(SessionState)
}

// NewSession creates a session in the loading state
func NewSession() *Session {
	return &Session{
		state:       SessionState{Status: StatusLoading},
		subscribers: make(map[int]func(SessionState)),
	}
}

// Snapshot returns the current state
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set stores a new access token and principal. The token's claims are read
// without verifying the signature and must name the same principal and role.
func (s *Session) Set(accessToken string, principal *models.Principal) error {
	if err := checkConsistent(accessToken, principal); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	copied := *principal
	next := s.transition(func(st *SessionState) {
		st.Status = StatusAuthenticated
		st.AccessToken = accessToken
		st.Principal = &copied
	})
	s.notify(next)
	return nil
}

// Clear drops the token and principal. Clearing an unauthenticated session
// is a no-op and notifies nobody.
func (s *Session) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Snapshot().Status == StatusUnauthenticated {
		return
	}
	next := s.transition(func(st *SessionState) {
		st.Status = StatusUnauthenticated
		st.AccessToken = ""
		st.Principal = nil
	})
	s.notify(next)
}

// Subscribe registers fn to receive every future state. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Session) transition(apply func(*SessionState)) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.state)
	s.state.Version++
	return s.state
}

func (s *Session) notify(state SessionState) {
	s.subMu.Lock()
	subs := make([]func(SessionState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// checkConsistent parses the token's claims without verification. The
// server verifies the signature on every request; the client only needs to
// know the token and principal describe the same identity.
func checkConsistent(accessToken string, principal *models.Principal) error {
	if accessToken == "" || principal == nil {
		return fmt.Errorf("%w: token and principal are required", ErrInconsistentSession)
	}

	claims := &tokens.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentSession, err)
	}
	if claims.TokenType != tokens.TypeAccess {
		return fmt.Errorf("%w: token type %q", ErrInconsistentSession, claims.TokenType)
	}
	if claims.Role != principal.Role {
		return fmt.Errorf("%w: token role %q, principal role %q", ErrInconsistentSession, claims.Role, principal.Role)
	}
	if claims.Subject != principal.ID.String() {
		return fmt.Errorf("%w: subject mismatch", ErrInconsistentSession)
	}
	return nil
}
