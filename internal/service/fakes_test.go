package service

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================
//
// Hand-written in-memory collaborators. Each one can be told to fail so the
// error paths are reachable without a real database or backend.

var errBoom = errors.New("boom")

// t0 is a Wednesday.
var t0 = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func testTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// --- profiles ---

type fakeProfiles struct {
	mu        sync.Mutex
	byID      map[string]*model.Profile
	findCalls int
	insertErr error
	findErr   error
}

func newFakeProfiles(profiles ...model.Profile) *fakeProfiles {
	f := &fakeProfiles{byID: map[string]*model.Profile{}}
	for _, p := range profiles {
		f.byID[p.UserID] = &p
	}
	return f
}

func (f *fakeProfiles) FindByUsername(_ context.Context, username string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, p := range f.byID {
		if p.UserName == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("profile", username)
}

func (f *fakeProfiles) FindByID(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) Insert(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.byID {
		if existing.UserName == p.UserName {
			return apperror.UsernameTaken(p.UserName)
		}
	}
	p.CreatedAt = t0
	cp := *p
	f.byID[p.UserID] = &cp
	return nil
}

func (f *fakeProfiles) SetAdmin(_ context.Context, username string, isAdmin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.UserName == username {
			p.IsAdmin = isAdmin
			return nil
		}
	}
	return apperror.NotFound("profile", username)
}

// --- auth provider ---

type fakeProvider struct {
	mu          sync.Mutex
	principals  map[string]*model.Principal // by id
	passwords   map[string]string           // by id
	nextID      int
	createCalls int
	verifyCalls int
	deleted     []string
	createErr   error
	deleteErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{principals: map[string]*model.Principal{}, passwords: map[string]string{}}
}

func (f *fakeProvider) add(id, email, password string) {
	f.principals[id] = &model.Principal{ID: id, Email: email}
	f.passwords[id] = password
}

func (f *fakeProvider) CreatePrincipal(_ context.Context, email, password string) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, p := range f.principals {
		if p.Email == email {
			return nil, apperror.EmailTaken()
		}
	}
	f.nextID++
	id := fmt.Sprintf("principal-%d", f.nextID)
	f.add(id, email, password)
	cp := *f.principals[id]
	return &cp, nil
}

func (f *fakeProvider) VerifyCredentials(_ context.Context, email, password string) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	for id, p := range f.principals {
		if p.Email == email && f.passwords[id] == password {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.Unauthorized(apperror.CodeInvalidCredentials, "invalid username/email or password")
}

func (f *fakeProvider) DeletePrincipal(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.principals, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// --- orphans ---

type fakeOrphans struct {
	mu      sync.Mutex
	byID    map[string]*model.SignupOrphan
	listErr error
}

func newFakeOrphans() *fakeOrphans {
	return &fakeOrphans{byID: map[string]*model.SignupOrphan{}}
}

func (f *fakeOrphans) RecordOrphan(_ context.Context, o *model.SignupOrphan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.byID[o.PrincipalID] = &cp
	return nil
}

func (f *fakeOrphans) ListPendingOrphans(_ context.Context, before time.Time) ([]model.SignupOrphan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.SignupOrphan
	for _, o := range f.byID {
		if o.ResolvedAt == nil && o.CreatedAt.Before(before) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b model.SignupOrphan) int { return cmp.Compare(a.PrincipalID, b.PrincipalID) })
	return out, nil
}

func (f *fakeOrphans) ResolveOrphan(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return apperror.NotFound("orphan", id)
	}
	o.ResolvedAt = &at
	return nil
}

func (f *fakeOrphans) get(id string) *model.SignupOrphan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeOrphans) resolved(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	return ok && o.ResolvedAt != nil
}

// --- content ---

type fakeContent struct {
	mu      sync.Mutex
	echoes  map[string]*model.Echo
	games   map[string]*model.Game
	nextID  int
	listErr error
}

var _ repository.ContentStore = (*fakeContent)(nil)

func newFakeContent() *fakeContent {
	return &fakeContent{echoes: map[string]*model.Echo{}, games: map[string]*model.Game{}}
}

func (f *fakeContent) addEcho(e model.Echo) {
	f.echoes[e.ID] = &e
}

func (f *fakeContent) ListEchoes(_ context.Context, filter repository.EchoFilter) ([]model.Echo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.Echo{}
	for _, e := range f.echoes {
		if !filter.PublishedBefore.IsZero() && e.PublishDate.After(filter.PublishedBefore) {
			continue
		}
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b model.Echo) int {
		if filter.ByCreatedAt {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return b.PublishDate.Compare(a.PublishDate)
	})
	if filter.Offset > len(out) {
		return []model.Echo{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeContent) NextPublishDate(_ context.Context, after time.Time) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return time.Time{}, f.listErr
	}
	var next time.Time
	for _, e := range f.echoes {
		if e.PublishDate.After(after) && (next.IsZero() || e.PublishDate.Before(next)) {
			next = e.PublishDate
		}
	}
	return next, nil
}

func (f *fakeContent) GetEcho(_ context.Context, id string) (*model.Echo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.echoes[id]
	if !ok {
		return nil, apperror.NotFound("echo", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeContent) InsertEcho(_ context.Context, e *model.Echo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range e.GameIDs {
		if _, ok := f.games[id]; !ok {
			return apperror.ValidationFailed("gameIds", "game "+id+" does not exist")
		}
	}
	f.nextID++
	e.ID = fmt.Sprintf("echo-%d", f.nextID)
	cp := *e
	f.echoes[e.ID] = &cp
	return nil
}

func (f *fakeContent) DeleteEcho(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.echoes[id]; !ok {
		return apperror.NotFound("echo", id)
	}
	delete(f.echoes, id)
	return nil
}

// SetPinned behaves like the single-pin index: a second pin always fails.
func (f *fakeContent) SetPinned(_ context.Context, id string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.echoes[id]
	if !ok {
		return apperror.NotFound("echo", id)
	}
	if pinned {
		for _, other := range f.echoes {
			if other.Pinned {
				return apperror.Conflict(apperror.CodeAlreadyPinned, "another echo is already pinned")
			}
		}
	} else if !e.Pinned {
		return apperror.Conflict(apperror.CodeNotPinned, "this echo is not pinned")
	}
	e.Pinned = pinned
	return nil
}

func (f *fakeContent) addGame(g model.Game) {
	f.games[g.ID] = &g
}

func (f *fakeContent) ListGames(_ context.Context, opts repository.ListOptions) ([]model.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.Game{}
	for _, g := range f.games {
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b model.Game) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeContent) GetGame(_ context.Context, id string) (*model.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[id]
	if !ok {
		return nil, apperror.NotFound("game", id)
	}
	cp := *g
	return &cp, nil
}

func (f *fakeContent) InsertGame(_ context.Context, g *model.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	g.ID = fmt.Sprintf("game-%d", f.nextID)
	cp := *g
	f.games[g.ID] = &cp
	return nil
}

func (f *fakeContent) DeleteGame(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.games[id]; !ok {
		return apperror.NotFound("game", id)
	}
	delete(f.games, id)
	return nil
}

// --- blobs ---

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]string // path -> content type
	err     error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string]string{}} }

func (f *fakeBlobs) Upload(_ context.Context, path string, _ []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.objects[path] = contentType
	return "https://cdn.test/" + path, nil
}

// --- events ---

type published struct {
	Key  string
	Data any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{Key: key, Data: data})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.Key)
	}
	return keys
}

// --- profiles used as callers ---

var (
	adminProfile  = &model.Profile{UserID: "admin-1", UserName: "keeper", Email: "keeper@echoshock.test", IsAdmin: true}
	memberProfile = &model.Profile{UserID: "member-1", UserName: "wanderer", Email: "wanderer@echoshock.test"}
)
