package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/metrics"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/policy"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// EchoService serves the blog: public listings that only ever contain
// published echoes, and the admin operations that create, delete and pin.
type EchoService struct {
	store     repository.EchoStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       Clock
}

func NewEchoService(store repository.EchoStore, publisher events.Publisher, m *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) *EchoService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &EchoService{
		store:     store,
		publisher: publisher,
		metrics:   m,
		tracer:    tracer,
		logger:    logger,
		now:       systemClock,
	}
}

// List returns published echoes, newest publish date first.
func (s *EchoService) List(ctx context.Context, opts repository.ListOptions) (list []model.Echo, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.List")
	defer func() { endSpan(span, err) }()

	now := s.now()
	opts.Limit = clampLimit(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	list, err = s.store.ListEchoes(ctx, repository.EchoFilter{PublishedBefore: now, ListOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("service/echo: listing: %w", err)
	}
	// The store already filtered by publish date; this is the policy's word.
	return policy.FilterVisibleEchoes(list, now), nil
}

// NextChange returns the earliest scheduled publish date after now, which
// is when the public listing next changes without an admin write. The zero
// time means nothing is scheduled.
func (s *EchoService) NextChange(ctx context.Context) (next time.Time, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.NextChange")
	defer func() { endSpan(span, err) }()

	next, err = s.store.NextPublishDate(ctx, s.now())
	if err != nil {
		return time.Time{}, fmt.Errorf("service/echo: next publish date: %w", err)
	}
	return next, nil
}

// Get returns one echo. An echo that is not published yet is reported
// exactly like a missing one, unless viewer is an admin.
func (s *EchoService) Get(ctx context.Context, viewer *model.Profile, id string) (e *model.Echo, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Get", attribute.String("echo.id", id))
	defer func() { endSpan(span, err) }()

	e, err = s.store.GetEcho(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("echo", id)
		}
		return nil, fmt.Errorf("service/echo: getting %s: %w", id, err)
	}
	if !policy.EchoVisible(*e, s.now()) && policy.RequireAdmin(viewer) != nil {
		return nil, apperror.NotFound("echo", id)
	}
	return e, nil
}

// Featured returns the pinned echo if it is published. A pinned echo with a
// future publish date is not featured yet, although it still blocks new pins.
func (s *EchoService) Featured(ctx context.Context) (e *model.Echo, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Featured")
	defer func() { endSpan(span, err) }()

	now := s.now()
	list, err := s.store.ListEchoes(ctx, repository.EchoFilter{PublishedBefore: now})
	if err != nil {
		return nil, fmt.Errorf("service/echo: listing for featured: %w", err)
	}
	featured := policy.SelectFeatured(policy.FilterVisibleEchoes(list, now))
	if featured == nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Code:    apperror.CodeNotFound,
			Message: "no echo is featured right now",
		}
	}
	return featured, nil
}

// ListAll is the admin listing: every echo, newest created first.
func (s *EchoService) ListAll(ctx context.Context, admin *model.Profile, opts repository.ListOptions) (list []model.Echo, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.ListAll")
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return nil, err
	}
	list, err = s.store.ListEchoes(ctx, repository.EchoFilter{ByCreatedAt: true, ListOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("service/echo: listing all: %w", err)
	}
	return list, nil
}

type CreateEchoInput struct {
	Title        string
	Excerpt      string
	Content      string
	PublishDate  string // RFC 3339, YYYY-MM-DD or a phrase; empty means now
	ThumbnailURL string
	GameIDs      []string
}

func (s *EchoService) Create(ctx context.Context, admin *model.Profile, in CreateEchoInput) (e *model.Echo, err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Create")
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return nil, err
	}

	e = &model.Echo{
		Title:        strings.TrimSpace(in.Title),
		Excerpt:      strings.TrimSpace(in.Excerpt),
		Content:      in.Content,
		ThumbnailURL: strings.TrimSpace(in.ThumbnailURL),
		GameIDs:      in.GameIDs,
	}
	switch {
	case e.Title == "":
		return nil, apperror.ValidationFailed("title", "title is required")
	case utf8.RuneCountInString(e.Title) > MaxTitleLength:
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	case e.Excerpt == "":
		return nil, apperror.ValidationFailed("excerpt", "excerpt is required")
	case utf8.RuneCountInString(e.Excerpt) > MaxExcerptLength:
		return nil, apperror.ValidationFailed("excerpt",
			fmt.Sprintf("excerpt must be %d characters or less", MaxExcerptLength))
	case strings.TrimSpace(e.Content) == "":
		return nil, apperror.ValidationFailed("content", "content is required")
	case len(e.GameIDs) > model.MaxEchoGames:
		return nil, apperror.ValidationFailed("gameIds",
			fmt.Sprintf("an echo can reference at most %d games", model.MaxEchoGames))
	}

	now := s.now()
	publish, err := policy.ParseSchedule(in.PublishDate, now)
	if err != nil {
		return nil, apperror.ValidationFailed("publishDate",
			fmt.Sprintf("could not understand publish date %q", in.PublishDate))
	}
	if publish.IsZero() {
		publish = now
	}
	e.PublishDate = publish
	e.CreatedAt = now

	if err := s.store.InsertEcho(ctx, e); err != nil {
		return nil, fmt.Errorf("service/echo: creating: %w", err)
	}

	publishEvent(ctx, s.publisher, s.logger, events.EchoCreated, map[string]any{
		"id":          e.ID,
		"title":       e.Title,
		"publishDate": e.PublishDate,
		"createdBy":   admin.UserName,
	})
	s.logger.Info("echo created",
		slog.String("id", e.ID),
		slog.String("admin", admin.UserName),
		slog.Time("publishDate", e.PublishDate),
	)
	return e, nil
}

func (s *EchoService) Delete(ctx context.Context, admin *model.Profile, id string) (err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Delete", attribute.String("echo.id", id))
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return err
	}
	if err := s.store.DeleteEcho(ctx, id); err != nil {
		return fmt.Errorf("service/echo: deleting %s: %w", id, err)
	}
	publishEvent(ctx, s.publisher, s.logger, events.EchoDeleted, map[string]string{"id": id, "deletedBy": admin.UserName})
	return nil
}

// Pin makes id the featured echo. Only legal while nothing is pinned; the
// policy decides on a snapshot and the store's single-pin index settles a
// concurrent race, so either way the loser gets already_pinned.
func (s *EchoService) Pin(ctx context.Context, admin *model.Profile, id string) (err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Pin", attribute.String("echo.id", id))
	defer func() {
		s.metrics.PinChange("pin", err)
		endSpan(span, err)
	}()

	if err := policy.RequireAdmin(admin); err != nil {
		return err
	}

	all, err := s.store.ListEchoes(ctx, repository.EchoFilter{})
	if err != nil {
		return fmt.Errorf("service/echo: loading echoes for pin: %w", err)
	}
	found := false
	for _, e := range all {
		if e.ID == id {
			found = true
			break
		}
	}
	if !found {
		return apperror.NotFound("echo", id)
	}
	if err := policy.CanPin(all, id); err != nil {
		return err
	}

	if err := s.store.SetPinned(ctx, id, true); err != nil {
		return fmt.Errorf("service/echo: pinning %s: %w", id, err)
	}
	publishEvent(ctx, s.publisher, s.logger, events.EchoPinned, map[string]string{"id": id, "pinnedBy": admin.UserName})
	return nil
}

func (s *EchoService) Unpin(ctx context.Context, admin *model.Profile, id string) (err error) {
	ctx, span := startSpan(ctx, s.tracer, "EchoService.Unpin", attribute.String("echo.id", id))
	defer func() {
		s.metrics.PinChange("unpin", err)
		endSpan(span, err)
	}()

	if err := policy.RequireAdmin(admin); err != nil {
		return err
	}

	e, err := s.store.GetEcho(ctx, id)
	if err != nil {
		return fmt.Errorf("service/echo: getting %s: %w", id, err)
	}
	if err := policy.CanUnpin(*e); err != nil {
		return err
	}
	if err := s.store.SetPinned(ctx, id, false); err != nil {
		return fmt.Errorf("service/echo: unpinning %s: %w", id, err)
	}
	publishEvent(ctx, s.publisher, s.logger, events.EchoUnpinned, map[string]string{"id": id, "unpinnedBy": admin.UserName})
	return nil
}
