package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// LocalProvider is the embedded AuthProvider: principals in the local
// database, passwords hashed with bcrypt.
type LocalProvider struct {
	store     repository.PrincipalStore
	passwords *PasswordService
}

var _ repository.AuthProvider = (*LocalProvider)(nil)

func NewLocalProvider(store repository.PrincipalStore, passwords *PasswordService) *LocalProvider {
	return &LocalProvider{store: store, passwords: passwords}
}

func (p *LocalProvider) CreatePrincipal(ctx context.Context, email, password string) (*model.Principal, error) {
	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, apperror.Invalid(apperror.CodeWeakPassword, "password", err.Error())
	}

	principal := &model.Principal{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.InsertPrincipal(ctx, principal); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.EmailTaken()
		}
		return nil, fmt.Errorf("auth/local: creating principal: %w", err)
	}
	return principal, nil
}

// VerifyCredentials returns the same error for an unknown email and a wrong
// password.
func (p *LocalProvider) VerifyCredentials(ctx context.Context, email, password string) (*model.Principal, error) {
	principal, err := p.store.FindPrincipalByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("auth/local: finding principal: %w", err)
	}

	if err := p.passwords.Verify(principal.PasswordHash, password); err != nil {
		if errors.Is(err, ErrWrongPassword) {
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("auth/local: verifying password: %w", err)
	}
	return principal, nil
}

func (p *LocalProvider) DeletePrincipal(ctx context.Context, id string) error {
	if err := p.store.DeletePrincipal(ctx, id); err != nil {
		return fmt.Errorf("auth/local: deleting principal %s: %w", id, err)
	}
	return nil
}

func invalidCredentials() error {
	return apperror.Unauthorized(apperror.CodeInvalidCredentials, "invalid username/email or password")
}
