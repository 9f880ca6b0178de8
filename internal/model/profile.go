// Package model defines the data structures used throughout the application.
package model

import "time"

// Profile is the application-side record for an auth principal.
//
// UserID is the principal's identity and never changes. IsAdmin is only ever
// set out-of-band (see cmd/echoshockctl); no HTTP route can flip it.
type Profile struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is a credential-bearing identity owned by the auth provider.
// PasswordHash is only populated by the local provider and is never serialised.
type Principal struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SignupOrphan records a principal whose profile insert failed. The
// reconciler either finds a profile for it later or deletes the principal.
type SignupOrphan struct {
	PrincipalID string
	Email       string
	UserName    string
	Reason      string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
