package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/policy"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// GameService runs The Glade: the public current/previous split and the
// admin operations for featured games and their cover images.
type GameService struct {
	store     repository.GameStore
	blobs     repository.BlobStore
	publisher events.Publisher
	tracer    trace.Tracer
	logger    *slog.Logger
	now       Clock
}

func NewGameService(store repository.GameStore, blobs repository.BlobStore, publisher events.Publisher, tracer trace.Tracer, logger *slog.Logger) *GameService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &GameService{
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		tracer:    tracer,
		logger:    logger,
		now:       systemClock,
	}
}

// Glade is the public view. Upcoming games are in neither list.
//
// ChangesAt is the next instant a game enters or leaves a list; the view is
// stale from then on. Zero means it never goes stale on its own.
type Glade struct {
	Current   []model.Game `json:"current"`
	Previous  []model.Game `json:"previous"`
	ChangesAt time.Time    `json:"-"`
}

func (s *GameService) Glade(ctx context.Context) (g *Glade, err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.Glade")
	defer func() { endSpan(span, err) }()

	games, err := s.store.ListGames(ctx, repository.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("service/game: listing: %w", err)
	}
	now := s.now()
	current, previous := policy.PartitionGames(games, now)
	return &Glade{
		Current:   current,
		Previous:  previous,
		ChangesAt: policy.NextGladeChange(games, now),
	}, nil
}

// Get hides upcoming games from everyone but admins.
func (s *GameService) Get(ctx context.Context, viewer *model.Profile, id string) (game *model.Game, err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.Get", attribute.String("game.id", id))
	defer func() { endSpan(span, err) }()

	game, err = s.store.GetGame(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("game", id)
		}
		return nil, fmt.Errorf("service/game: getting %s: %w", id, err)
	}
	if policy.GameWindowAt(*game, s.now()) == policy.WindowUpcoming && policy.RequireAdmin(viewer) != nil {
		return nil, apperror.NotFound("game", id)
	}
	return game, nil
}

func (s *GameService) ListAll(ctx context.Context, admin *model.Profile, opts repository.ListOptions) (list []model.Game, err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.ListAll")
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return nil, err
	}
	list, err = s.store.ListGames(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/game: listing all: %w", err)
	}
	return list, nil
}

// Image is an uploaded cover image.
type Image struct {
	Filename string
	Data     []byte
}

type CreateGameInput struct {
	Title       string
	Description string
	GameURL     string
	ImageURL    string
	Image       *Image // takes precedence over ImageURL
	GladeEntry  string // same formats as an echo's publish date; empty means next Friday noon
	GladeExit   string // empty means entry + one week
}

func (s *GameService) Create(ctx context.Context, admin *model.Profile, in CreateGameInput) (game *model.Game, err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.Create")
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return nil, err
	}

	game = &model.Game{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		GameURL:     strings.TrimSpace(in.GameURL),
		ImageURL:    strings.TrimSpace(in.ImageURL),
	}
	switch {
	case game.Title == "":
		return nil, apperror.ValidationFailed("title", "title is required")
	case utf8.RuneCountInString(game.Title) > MaxTitleLength:
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	case game.Description == "":
		return nil, apperror.ValidationFailed("description", "description is required")
	case !isHTTPURL(game.GameURL):
		return nil, apperror.ValidationFailed("gameUrl", "game URL must be an http(s) link")
	case in.Image == nil && game.ImageURL == "":
		return nil, apperror.ValidationFailed("image", "an image file or image URL is required")
	case in.Image == nil && !isHTTPURL(game.ImageURL) && !strings.HasPrefix(game.ImageURL, "/"):
		return nil, apperror.ValidationFailed("imageUrl", "image URL must be an http(s) link")
	}

	now := s.now()
	entry, err := policy.ParseSchedule(in.GladeEntry, now)
	if err != nil {
		return nil, apperror.ValidationFailed("gladeEntry",
			fmt.Sprintf("could not understand entry date %q", in.GladeEntry))
	}
	exit, err := policy.ParseSchedule(in.GladeExit, now)
	if err != nil {
		return nil, apperror.ValidationFailed("gladeExit",
			fmt.Sprintf("could not understand exit date %q", in.GladeExit))
	}
	game.GladeEntry, game.GladeExit = policy.DefaultGladeWindow(entry, exit, now)
	if !game.GladeExit.After(game.GladeEntry) {
		return nil, apperror.ValidationFailed("gladeExit", "exit must be after entry")
	}

	if in.Image != nil {
		imageURL, err := s.putImage(ctx, "", *in.Image, now)
		if err != nil {
			return nil, err
		}
		game.ImageURL = imageURL
	}

	game.CreatedAt = now
	if err := s.store.InsertGame(ctx, game); err != nil {
		return nil, fmt.Errorf("service/game: creating: %w", err)
	}

	publishEvent(ctx, s.publisher, s.logger, events.GameCreated, map[string]any{
		"id":         game.ID,
		"title":      game.Title,
		"gladeEntry": game.GladeEntry,
		"gladeExit":  game.GladeExit,
	})
	s.logger.Info("game created",
		slog.String("id", game.ID),
		slog.String("admin", admin.UserName),
		slog.Time("gladeEntry", game.GladeEntry),
	)
	return game, nil
}

func (s *GameService) Delete(ctx context.Context, admin *model.Profile, id string) (err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.Delete", attribute.String("game.id", id))
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return err
	}
	if err := s.store.DeleteGame(ctx, id); err != nil {
		return fmt.Errorf("service/game: deleting %s: %w", id, err)
	}
	publishEvent(ctx, s.publisher, s.logger, events.GameDeleted, map[string]string{"id": id, "deletedBy": admin.UserName})
	return nil
}

// Upload stores an arbitrary admin file (echo thumbnails, inline images)
// under folder and returns its public URL.
func (s *GameService) Upload(ctx context.Context, admin *model.Profile, folder string, img Image) (u string, err error) {
	ctx, span := startSpan(ctx, s.tracer, "GameService.Upload")
	defer func() { endSpan(span, err) }()

	if err := policy.RequireAdmin(admin); err != nil {
		return "", err
	}
	if folder == "" {
		folder = "uploads"
	}
	if !folderPattern.MatchString(folder) {
		return "", apperror.ValidationFailed("folder", "folder may only contain letters, digits, '-' and '_'")
	}
	return s.putImage(ctx, folder, img, s.now())
}

var (
	folderPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// putImage writes img as "[<folder>/]<unix millis>_<sanitised name>". Game
// covers go at the top of the bucket.
func (s *GameService) putImage(ctx context.Context, folder string, img Image, now time.Time) (string, error) {
	if len(img.Data) == 0 {
		return "", apperror.ValidationFailed("image", "uploaded file is empty")
	}
	if len(img.Data) > MaxImageBytes {
		return "", apperror.ValidationFailed("image",
			fmt.Sprintf("uploaded file must be %d MB or less", MaxImageBytes>>20))
	}

	contentType := http.DetectContentType(img.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperror.ValidationFailed("image", "uploaded file is not an image")
	}

	name := unsafeFilename.ReplaceAllString(path.Base(img.Filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "image"
	}
	key := fmt.Sprintf("%d_%s", now.UnixMilli(), name)
	if folder != "" {
		key = folder + "/" + key
	}

	u, err := s.blobs.Upload(ctx, key, img.Data, contentType)
	if err != nil {
		return "", fmt.Errorf("service/game: uploading %s: %w", key, err)
	}
	return u, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
