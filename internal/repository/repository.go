// Package repository declares the collaborator contracts the services depend
// on. Implementations live in sub-packages (sqlite) and in internal/backend
// and internal/storage; services never import those directly.
package repository

import (
	"context"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// EchoFilter narrows ListEchoes. A zero PublishedBefore lists everything,
// which only admin paths should ask for.
//
// Results are newest publish_date first, or newest created_at first when
// ByCreatedAt is set.
type EchoFilter struct {
	PublishedBefore time.Time
	ByCreatedAt     bool
	ListOptions
}

// ProfileStore holds profiles keyed by user id.
//
// Insert must report a username uniqueness violation as an error matching
// apperror.ErrConflict with code username_taken, even when a prior
// FindByUsername said the name was free.
type ProfileStore interface {
	FindByUsername(ctx context.Context, username string) (*model.Profile, error)
	FindByID(ctx context.Context, userID string) (*model.Profile, error)
	Insert(ctx context.Context, profile *model.Profile) error
	SetAdmin(ctx context.Context, username string, isAdmin bool) error
}

// EchoStore is the Echo half of the content store.
//
// SetPinned(id, true) must fail with apperror.ErrConflict when another echo
// is already pinned at write time, so two racing pins cannot both win.
type EchoStore interface {
	ListEchoes(ctx context.Context, filter EchoFilter) ([]model.Echo, error)
	GetEcho(ctx context.Context, id string) (*model.Echo, error)
	InsertEcho(ctx context.Context, echo *model.Echo) error
	DeleteEcho(ctx context.Context, id string) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	// NextPublishDate returns the earliest publish_date strictly after
	// after, or the zero time when nothing is scheduled.
	NextPublishDate(ctx context.Context, after time.Time) (time.Time, error)
}

// GameStore is the FeaturedGame half of the content store.
type GameStore interface {
	ListGames(ctx context.Context, opts ListOptions) ([]model.Game, error)
	GetGame(ctx context.Context, id string) (*model.Game, error)
	InsertGame(ctx context.Context, game *model.Game) error
	DeleteGame(ctx context.Context, id string) error
}

// ContentStore is everything the content services read and write.
type ContentStore interface {
	EchoStore
	GameStore
}

// AuthProvider creates and checks credential-bearing principals.
//
// CreatePrincipal reports an existing email as apperror.ErrConflict with code
// email_taken; VerifyCredentials reports a bad email/password pair as
// apperror.ErrUnauthorized with code invalid_credentials. Anything else is an
// upstream failure.
type AuthProvider interface {
	CreatePrincipal(ctx context.Context, email, password string) (*model.Principal, error)
	VerifyCredentials(ctx context.Context, email, password string) (*model.Principal, error)
	DeletePrincipal(ctx context.Context, id string) error
}

// PrincipalStore persists principals for the local AuthProvider.
type PrincipalStore interface {
	InsertPrincipal(ctx context.Context, p *model.Principal) error
	FindPrincipalByEmail(ctx context.Context, email string) (*model.Principal, error)
	DeletePrincipal(ctx context.Context, id string) error
}

// BlobStore uploads bytes and returns a public URL for them.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// OrphanStore tracks principals left without a profile by a failed sign-up.
type OrphanStore interface {
	RecordOrphan(ctx context.Context, orphan *model.SignupOrphan) error
	ListPendingOrphans(ctx context.Context, createdBefore time.Time) ([]model.SignupOrphan, error)
	ResolveOrphan(ctx context.Context, principalID string, at time.Time) error
}
