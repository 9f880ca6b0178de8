package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
)

type fakeProfiles struct {
	profiles map[string]*model.Profile
	err      error
}

func (f *fakeProfiles) FindByID(_ context.Context, id string) (*model.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	return p, nil
}

// captureSession runs LoadSession and records the state the handler saw.
func captureSession(t *testing.T, profiles ProfileFinder, notifier *Notifier, cookie *http.Cookie) (State, *model.Profile, *httptest.ResponseRecorder) {
	t.Helper()

	ts := newTestTokenService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var state State
	var profile *model.Profile
	h := LoadSession(ts, profiles, notifier, false, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		state = sess.State()
		profile = sess.Profile()
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return state, profile, rec
}

func TestLoadSession_NoCookie(t *testing.T) {
	state, profile, _ := captureSession(t, &fakeProfiles{}, nil, nil)

	assert.Equal(t, StateAnonymous, state)
	assert.Nil(t, profile)
}

func TestLoadSession_ValidToken(t *testing.T) {
	alice := &model.Profile{UserID: "u1", UserName: "alice"}
	token, err := newTestTokenService(t).Generate("u1")
	require.NoError(t, err)

	state, profile, rec := captureSession(t,
		&fakeProfiles{profiles: map[string]*model.Profile{"u1": alice}}, nil,
		&http.Cookie{Name: CookieName, Value: token})

	assert.Equal(t, StateAuthenticated, state)
	assert.Equal(t, alice, profile)
	assert.Empty(t, rec.Result().Cookies(), "a good session must not touch the cookie")
}

func TestLoadSession_ExpiredTokenPublishesEvent(t *testing.T) {
	token, err := newTestTokenService(t).GenerateWithDuration("u1", -time.Minute)
	require.NoError(t, err)

	n := NewNotifier()
	var events []Event
	defer n.Subscribe(func(ev Event) { events = append(events, ev) })()

	state, profile, rec := captureSession(t, &fakeProfiles{}, n, &http.Cookie{Name: CookieName, Value: token})

	assert.Equal(t, StateAuthFailed, state)
	assert.Nil(t, profile)
	require.Len(t, events, 1)
	assert.Equal(t, EventExpired, events[0].Kind)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestLoadSession_TokenExpiresMidRequest(t *testing.T) {
	alice := &model.Profile{UserID: "u1", UserName: "alice", IsAdmin: true}
	// Expiry has second precision, so this token lives for 1 to 2 seconds.
	token, err := newTestTokenService(t).GenerateWithDuration("u1", 2*time.Second)
	require.NoError(t, err)

	n := NewNotifier()
	events := make(chan Event, 1)
	defer n.Subscribe(func(ev Event) { events <- ev })()

	var before, after State
	var profileAfter *model.Profile
	var reason error
	h := LoadSession(newTestTokenService(t), &fakeProfiles{profiles: map[string]*model.Profile{"u1": alice}}, n, false,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		before = sess.State()
		// A slow upload: the token runs out while the handler works.
		require.Eventually(t, func() bool { return sess.State() == StateAnonymous }, 5*time.Second, 10*time.Millisecond)
		after = sess.State()
		profileAfter = sess.Profile()
		reason = sess.Reason()
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/uploads", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, StateAuthenticated, before)
	assert.Equal(t, StateAnonymous, after)
	assert.Nil(t, profileAfter)
	assert.ErrorIs(t, reason, ErrTokenExpired)

	select {
	case ev := <-events:
		assert.Equal(t, EventExpired, ev.Kind)
		assert.Equal(t, "u1", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("no expiry event published")
	}
}

func TestLoadSession_SignOutBeforeExpiryPublishesNothing(t *testing.T) {
	alice := &model.Profile{UserID: "u1", UserName: "alice"}
	token, err := newTestTokenService(t).GenerateWithDuration("u1", 2*time.Second)
	require.NoError(t, err)

	n := NewNotifier()
	events := make(chan Event, 1)
	defer n.Subscribe(func(ev Event) { events <- ev })()

	h := LoadSession(newTestTokenService(t), &fakeProfiles{profiles: map[string]*model.Profile{"u1": alice}}, n, false,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, FromContext(r.Context()).SignOut())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(2500 * time.Millisecond):
	}
}

func TestLoadSession_UnknownProfileClearsCookie(t *testing.T) {
	token, err := newTestTokenService(t).Generate("ghost")
	require.NoError(t, err)

	state, _, rec := captureSession(t, &fakeProfiles{}, nil, &http.Cookie{Name: CookieName, Value: token})

	assert.Equal(t, StateAuthFailed, state)
	require.Len(t, rec.Result().Cookies(), 1)
}

func TestLoadSession_StoreOutageKeepsCookie(t *testing.T) {
	token, err := newTestTokenService(t).Generate("u1")
	require.NoError(t, err)

	state, profile, rec := captureSession(t,
		&fakeProfiles{err: errors.New("database is locked")}, nil,
		&http.Cookie{Name: CookieName, Value: token})

	assert.Equal(t, StateAuthFailed, state)
	assert.Nil(t, profile)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthenticated")
	})

	t.Run("authenticated passes", func(t *testing.T) {
		sess := NewSession()
		require.NoError(t, sess.Begin())
		require.NoError(t, sess.Succeed(&model.Profile{UserID: "u1"}))

		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req = req.WithContext(WithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		RequireAuth(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
