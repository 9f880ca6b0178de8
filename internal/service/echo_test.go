package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

func newEchoFixture(t *testing.T, echoes ...model.Echo) (*EchoService, *fakeContent, *recordingPublisher) {
	t.Helper()
	store := newFakeContent()
	for _, e := range echoes {
		store.addEcho(e)
	}
	pub := &recordingPublisher{}
	svc := NewEchoService(store, pub, nil, testTracer(), testLogger())
	svc.now = fixedClock(t0)
	return svc, store, pub
}

func echoAt(id string, publish time.Time, pinned bool) model.Echo {
	return model.Echo{
		ID:          id,
		Title:       "Echo " + id,
		Excerpt:     "excerpt",
		Content:     "# body",
		CreatedAt:   publish.Add(-time.Hour),
		PublishDate: publish,
		Pinned:      pinned,
	}
}

func ids(echoes []model.Echo) []string {
	out := make([]string, 0, len(echoes))
	for _, e := range echoes {
		out = append(out, e.ID)
	}
	return out
}

func TestEchoList_OnlyPublished(t *testing.T) {
	svc, _, _ := newEchoFixture(t,
		echoAt("old", t0.Add(-48*time.Hour), false),
		echoAt("now", t0, false),
		echoAt("future", t0.Add(time.Minute), false),
	)

	list, err := svc.List(context.Background(), repository.ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"now", "old"}, ids(list))
}

func TestEchoList_Paging(t *testing.T) {
	var echoes []model.Echo
	for i := 0; i < 5; i++ {
		echoes = append(echoes, echoAt(string(rune('a'+i)), t0.Add(-time.Duration(i)*time.Hour), false))
	}
	svc, _, _ := newEchoFixture(t, echoes...)

	list, err := svc.List(context.Background(), repository.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(list))

	list, err = svc.List(context.Background(), repository.ListOptions{Offset: -3})
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestEchoList_StoreFailure(t *testing.T) {
	svc, store, _ := newEchoFixture(t)
	store.listErr = errBoom

	_, err := svc.List(context.Background(), repository.ListOptions{})
	assert.ErrorIs(t, err, errBoom)
}

func TestEchoNextChange(t *testing.T) {
	svc, store, _ := newEchoFixture(t,
		echoAt("old", t0.Add(-48*time.Hour), false),
		echoAt("now", t0, false),
		echoAt("later", t0.Add(time.Hour), false),
		echoAt("soon", t0.Add(time.Minute), true),
	)

	next, err := svc.NextChange(context.Background())
	require.NoError(t, err)
	assert.True(t, next.Equal(t0.Add(time.Minute)), "got %s", next)

	empty, _, _ := newEchoFixture(t, echoAt("old", t0.Add(-time.Hour), false))
	next, err = empty.NextChange(context.Background())
	require.NoError(t, err)
	assert.True(t, next.IsZero())

	store.listErr = errBoom
	_, err = svc.NextChange(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, DefaultListLimit, clampLimit(-1))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxListLimit, clampLimit(MaxListLimit+1))
}

func TestEchoGet(t *testing.T) {
	svc, _, _ := newEchoFixture(t,
		echoAt("live", t0.Add(-time.Hour), false),
		echoAt("draft", t0.Add(time.Hour), false),
	)

	tests := []struct {
		name    string
		viewer  *model.Profile
		id      string
		wantErr bool
	}{
		{name: "published for anonymous", id: "live"},
		{name: "scheduled hidden from anonymous", id: "draft", wantErr: true},
		{name: "scheduled hidden from member", viewer: memberProfile, id: "draft", wantErr: true},
		{name: "scheduled shown to admin", viewer: adminProfile, id: "draft"},
		{name: "missing", viewer: adminProfile, id: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := svc.Get(context.Background(), tt.viewer, tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperror.ErrNotFound))
				// Hidden and missing look the same from outside.
				assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, e.ID)
		})
	}
}

func TestEchoFeatured(t *testing.T) {
	t.Run("published pin", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t,
			echoAt("a", t0.Add(-time.Hour), false),
			echoAt("b", t0.Add(-2*time.Hour), true),
		)
		e, err := svc.Featured(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b", e.ID)
	})

	t.Run("scheduled pin is not featured yet", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t,
			echoAt("a", t0.Add(-time.Hour), false),
			echoAt("b", t0.Add(time.Hour), true),
		)
		_, err := svc.Featured(context.Background())
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
	})

	t.Run("nothing pinned", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t, echoAt("a", t0.Add(-time.Hour), false))
		_, err := svc.Featured(context.Background())
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
	})
}

func TestEchoListAll_AdminOnly(t *testing.T) {
	svc, _, _ := newEchoFixture(t,
		echoAt("live", t0.Add(-time.Hour), false),
		echoAt("draft", t0.Add(time.Hour), false),
	)

	_, err := svc.ListAll(context.Background(), nil, repository.ListOptions{})
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))

	_, err = svc.ListAll(context.Background(), memberProfile, repository.ListOptions{})
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	list, err := svc.ListAll(context.Background(), adminProfile, repository.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "live"}, ids(list))
}

// =========================================================================
// PINNING
// =========================================================================

func TestEchoPin(t *testing.T) {
	svc, store, pub := newEchoFixture(t,
		echoAt("a", t0.Add(-time.Hour), false),
		echoAt("b", t0.Add(-2*time.Hour), false),
	)
	ctx := context.Background()

	require.NoError(t, svc.Pin(ctx, adminProfile, "a"))
	got, _ := store.GetEcho(ctx, "a")
	assert.True(t, got.Pinned)

	err := svc.Pin(ctx, adminProfile, "b")
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, apperror.CodeAlreadyPinned, apperror.CodeOf(err))

	err = svc.Pin(ctx, adminProfile, "a")
	assert.Equal(t, apperror.CodeAlreadyPinned, apperror.CodeOf(err))

	require.NoError(t, svc.Unpin(ctx, adminProfile, "a"))
	require.NoError(t, svc.Pin(ctx, adminProfile, "b"))

	assert.Equal(t, []string{events.EchoPinned, events.EchoUnpinned, events.EchoPinned}, pub.keys())
}

// A scheduled pinned echo is invisible to the public but still blocks pins.
func TestEchoPin_ScheduledPinBlocks(t *testing.T) {
	svc, _, _ := newEchoFixture(t,
		echoAt("live", t0.Add(-time.Hour), false),
		echoAt("soon", t0.Add(24*time.Hour), true),
	)

	err := svc.Pin(context.Background(), adminProfile, "live")
	assert.Equal(t, apperror.CodeAlreadyPinned, apperror.CodeOf(err))
}

func TestEchoPin_Errors(t *testing.T) {
	svc, _, pub := newEchoFixture(t, echoAt("a", t0.Add(-time.Hour), false))
	ctx := context.Background()

	err := svc.Pin(ctx, memberProfile, "a")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	err = svc.Pin(ctx, adminProfile, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = svc.Unpin(ctx, adminProfile, "a")
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, apperror.CodeNotPinned, apperror.CodeOf(err))

	err = svc.Unpin(ctx, adminProfile, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assert.Empty(t, pub.keys())
}

// =========================================================================
// CREATE / DELETE
// =========================================================================

func validEchoInput() CreateEchoInput {
	return CreateEchoInput{
		Title:   "  Patch notes  ",
		Excerpt: "What changed this week",
		Content: "## Fixed\n- everything",
	}
}

func TestEchoCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CreateEchoInput)
		wantField string
	}{
		{name: "blank title", mutate: func(in *CreateEchoInput) { in.Title = "   " }, wantField: "title"},
		{name: "long title", mutate: func(in *CreateEchoInput) { in.Title = strings.Repeat("x", MaxTitleLength+1) }, wantField: "title"},
		{name: "no excerpt", mutate: func(in *CreateEchoInput) { in.Excerpt = "" }, wantField: "excerpt"},
		{name: "long excerpt", mutate: func(in *CreateEchoInput) { in.Excerpt = strings.Repeat("é", MaxExcerptLength+1) }, wantField: "excerpt"},
		{name: "no content", mutate: func(in *CreateEchoInput) { in.Content = "\n\t" }, wantField: "content"},
		{name: "too many games", mutate: func(in *CreateEchoInput) { in.GameIDs = make([]string, model.MaxEchoGames+1) }, wantField: "gameIds"},
		{name: "bad date", mutate: func(in *CreateEchoInput) { in.PublishDate = "blorp" }, wantField: "publishDate"},
		{name: "impossible calendar date", mutate: func(in *CreateEchoInput) { in.PublishDate = "2027-02-30" }, wantField: "publishDate"},
		{name: "phrase with trailing junk", mutate: func(in *CreateEchoInput) { in.PublishDate = "tomorrow lol nope" }, wantField: "publishDate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, pub := newEchoFixture(t)
			in := validEchoInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), adminProfile, in)

			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Empty(t, pub.keys())
		})
	}
}

func TestEchoCreate(t *testing.T) {
	t.Run("empty publish date means now", func(t *testing.T) {
		svc, store, pub := newEchoFixture(t)

		e, err := svc.Create(context.Background(), adminProfile, validEchoInput())
		require.NoError(t, err)

		assert.Equal(t, "Patch notes", e.Title)
		assert.True(t, e.PublishDate.Equal(t0))
		assert.True(t, e.CreatedAt.Equal(t0))
		assert.False(t, e.Pinned)
		_, err = store.GetEcho(context.Background(), e.ID)
		assert.NoError(t, err)
		assert.Equal(t, []string{events.EchoCreated}, pub.keys())
	})

	t.Run("scheduled date stays hidden", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t)
		in := validEchoInput()
		in.PublishDate = "2026-10-20T08:00:00+02:00"

		e, err := svc.Create(context.Background(), adminProfile, in)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC), e.PublishDate)

		list, err := svc.List(context.Background(), repository.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("unknown game reference", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t)
		in := validEchoInput()
		in.GameIDs = []string{"game-404"}

		_, err := svc.Create(context.Background(), adminProfile, in)
		assert.True(t, errors.Is(err, apperror.ErrValidation))
	})

	t.Run("member refused", func(t *testing.T) {
		svc, _, _ := newEchoFixture(t)
		_, err := svc.Create(context.Background(), memberProfile, validEchoInput())
		assert.True(t, errors.Is(err, apperror.ErrForbidden))
	})
}

func TestEchoDelete(t *testing.T) {
	svc, store, pub := newEchoFixture(t, echoAt("a", t0.Add(-time.Hour), false))
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, adminProfile, "a"))
	_, err := store.GetEcho(ctx, "a")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.Equal(t, []string{events.EchoDeleted}, pub.keys())

	err = svc.Delete(ctx, adminProfile, "a")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
