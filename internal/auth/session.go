package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/TotemHolder-js/EchoShock/internal/model"
)

// State is where a request's session is in its lifecycle.
//
//	Anonymous ──Begin──▶ Authenticating ──Succeed──▶ Authenticated
//	                          │                          │
//	                          └──Fail──▶ AuthFailed      ├──SignOut──▶ Anonymous
//	                                                     └──Expire───▶ Anonymous
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "anonymous"
	}
}

// Session is the per-request view of who is calling. It is created by
// LoadSession and read by handlers and services through FromContext.
type Session struct {
	mu      sync.Mutex
	state   State
	profile *model.Profile
	reason  error
}

func NewSession() *Session {
	return &Session{state: StateAnonymous}
}

func (s *Session) transition(from, to State) error {
	if s.state != from {
		return fmt.Errorf("auth: illegal session transition %s -> %s (current %s)", from, to, s.state)
	}
	s.state = to
	return nil
}

// Begin moves Anonymous to Authenticating.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StateAnonymous, StateAuthenticating)
}

// Succeed attaches profile and moves Authenticating to Authenticated.
func (s *Session) Succeed(profile *model.Profile) error {
	if profile == nil {
		return fmt.Errorf("auth: cannot authenticate a nil profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateAuthenticating, StateAuthenticated); err != nil {
		return err
	}
	s.profile = profile
	s.reason = nil
	return nil
}

// Fail records why authentication did not complete.
func (s *Session) Fail(reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateAuthenticating, StateAuthFailed); err != nil {
		return err
	}
	s.reason = reason
	return nil
}

// SignOut ends an authenticated session at the caller's request.
func (s *Session) SignOut() error {
	return s.end(nil)
}

// Expire ends an authenticated session because its token ran out while the
// request was still being served. LoadSession calls it from a timer, so
// anything checked after that instant sees an anonymous caller.
func (s *Session) Expire() error {
	return s.end(ErrTokenExpired)
}

func (s *Session) end(reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateAuthenticated, StateAnonymous); err != nil {
		return err
	}
	s.profile = nil
	s.reason = reason
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns the signed-in profile, or nil in every state other than
// Authenticated. Nothing is exposed while authentication is still in flight.
func (s *Session) Profile() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return nil
	}
	return s.profile
}

// Reason is why the session is not authenticated: the error recorded by
// Fail, or ErrTokenExpired after Expire. Nil otherwise.
func (s *Session) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

type contextKey string

const sessionKey contextKey = "session"

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the request's session. Requests that never went
// through LoadSession get a fresh anonymous one.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok && s != nil {
		return s
	}
	return NewSession()
}

// ProfileFromContext is shorthand for FromContext(ctx).Profile().
func ProfileFromContext(ctx context.Context) *model.Profile {
	return FromContext(ctx).Profile()
}
