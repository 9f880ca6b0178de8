package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/cache"
	"github.com/TotemHolder-js/EchoShock/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// memStore is an in-memory cache.Store. Entries expire only when the test
// calls advance.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	purges  int
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

// advance lets d pass, dropping every entry whose TTL runs out.
func (s *memStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ttl := range s.ttls {
		if ttl <= d {
			delete(s.data, k)
			delete(s.ttls, k)
			continue
		}
		s.ttls[k] = ttl - d
	}
}

func (s *memStore) ttl(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := s.data[key]
	return b, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, v []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Purge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string][]byte{}
	s.ttls = map[string]time.Duration{}
	s.purges++
	return nil
}

func TestLogger_LevelsAndSession(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := auth.FromContext(r.Context())
		_ = sess.Begin()
		_ = sess.Succeed(&model.Profile{UserID: "u1", UserName: "ada"})
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/echoes/x", nil))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=404")
	assert.Contains(t, out, "bytes=4")
	assert.Contains(t, out, "user=ada")
	assert.Contains(t, out, "session=authenticated")
}

func TestLogger_FailedSessionReason(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := auth.FromContext(r.Context())
		_ = sess.Begin()
		_ = sess.Fail(auth.ErrTokenExpired)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/echoes", nil))

	out := buf.String()
	assert.Contains(t, out, "session=auth_failed")
	assert.Contains(t, out, `session_error="auth: token expired"`)
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(0, 2)
	h := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{204, 204, 429}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
	req.RemoteAddr = "203.0.113.8:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIPRateLimiter_PrunesIdleEntries(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	for i := 0; i <= cleanupThreshold; i++ {
		limiter.Limiter(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Greater(t, limiter.size(), cleanupThreshold)

	clock = clock.Add(maxIdleAge + time.Minute)
	limiter.Limiter("198.51.100.1")
	assert.Equal(t, 1, limiter.size())
}

func TestResponseCache_MissThenHit(t *testing.T) {
	store := newMemStore()
	calls := 0
	h := ResponseCache(store, time.Minute, nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/echoes?limit=5", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/echoes?limit=5", nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, `{"ok":true}`, second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestResponseCache_StopsAtGladeBoundary(t *testing.T) {
	store := newMemStore()
	exit := time.Now().Add(30 * time.Second)
	calls := 0
	h := ResponseCache(store, time.Minute, nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		current := `["g1"]`
		if calls > 1 {
			current = `[]`
		}
		w.Header().Set("Expires", exit.UTC().Format(http.TimeFormat))
		_, _ = w.Write([]byte(`{"current":` + current + `}`))
	}))
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/games", nil))
		return rec
	}

	assert.Equal(t, "MISS", get().Header().Get("X-Cache"))
	ttl := store.ttl(cache.Key(http.MethodGet, "/api/games", ""))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 30*time.Second)
	assert.Equal(t, "HIT", get().Header().Get("X-Cache"))

	// The game's exit passes while the default TTL would still hold.
	store.advance(45 * time.Second)

	rec := get()
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, `{"current":[]}`, rec.Body.String())
	assert.Equal(t, 2, calls)
}

func TestResponseCache_SkipsStaleAndNoStore(t *testing.T) {
	store := newMemStore()
	h := ResponseCache(store, time.Minute, nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/echoes":
			w.Header().Set("Expires", time.Now().Add(-time.Second).UTC().Format(http.TimeFormat))
		case "/api/games":
			w.Header().Set("Cache-Control", "no-store")
		}
		_, _ = w.Write([]byte("{}"))
	}))

	for _, path := range []string{"/api/echoes", "/api/games"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Empty(t, store.data)
}

func TestFreshFor(t *testing.T) {
	now := time.Date(2026, 10, 16, 11, 59, 0, 0, time.UTC)
	expires := func(d time.Duration) http.Header {
		return http.Header{"Expires": []string{now.Add(d).Format(http.TimeFormat)}}
	}

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"no hints", http.Header{}, time.Minute},
		{"expires sooner", expires(10 * time.Second), 10 * time.Second},
		{"expires later", expires(time.Hour), time.Minute},
		{"expires now", expires(0), 0},
		{"already expired", expires(-time.Minute), -time.Minute},
		{"unparseable expires", http.Header{"Expires": []string{"soon"}}, 0},
		{"no-store", http.Header{"Cache-Control": []string{"no-store"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, freshFor(tt.header, time.Minute, now))
		})
	}
}

func TestResponseCache_SkipsNon200AndSignedIn(t *testing.T) {
	store := newMemStore()
	h := ResponseCache(store, time.Minute, nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("admin view"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	sess := auth.NewSession()
	_ = sess.Begin()
	_ = sess.Succeed(&model.Profile{UserID: "a", IsAdmin: true})
	req := httptest.NewRequest(http.MethodGet, "/api/echoes/e1", nil)
	req = req.WithContext(auth.WithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, store.data)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestResponseCache_StoreFailurePassesThrough(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	h := ResponseCache(store, time.Minute, nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/games", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Body.String())
}

func TestPurgeOnWrite(t *testing.T) {
	store := newMemStore()
	store.data["k"] = []byte("v")
	status := http.StatusCreated
	h := PurgeOnWrite(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/echoes", nil))
	assert.Equal(t, 0, store.purges)

	status = http.StatusConflict
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/admin/echoes/e1/pin", nil))
	assert.Equal(t, 0, store.purges)

	status = http.StatusCreated
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/admin/echoes", nil))
	assert.Equal(t, 1, store.purges)
	assert.Empty(t, store.data)
}

func TestEncodeDecodePayload_Truncated(t *testing.T) {
	_, _, _, ok := decodePayload([]byte{0, 0, 0})
	assert.False(t, ok)

	b, err := encodePayload(200, http.Header{"A": {"b"}}, []byte("body"))
	require.NoError(t, err)
	_, _, _, ok = decodePayload(b[:9])
	assert.False(t, ok)
}
