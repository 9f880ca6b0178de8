package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// AuthProvider implements repository.AuthProvider against the hosted auth API.
type AuthProvider struct {
	c *Client
}

var _ repository.AuthProvider = (*AuthProvider)(nil)

func NewAuthProvider(c *Client) *AuthProvider {
	return &AuthProvider{c: c}
}

type remoteUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u remoteUser) principal() *model.Principal {
	return &model.Principal{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// CreatePrincipal uses the admin endpoint so the account is confirmed
// immediately; the profile row is written by the caller right after.
func (p *AuthProvider) CreatePrincipal(ctx context.Context, email, password string) (*model.Principal, error) {
	resp, err := p.c.doJSON(ctx, http.MethodPost, "/auth/v1/admin/users", map[string]any{
		"email":         email,
		"password":      password,
		"email_confirm": true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusOK || resp.status == http.StatusCreated:
		var u remoteUser
		if err := json.Unmarshal(resp.body, &u); err != nil || u.ID == "" {
			return nil, apperror.Upstream(apperror.CodeUpstreamFailure,
				"the account service returned an unexpected response",
				fmt.Errorf("backend: decoding created user: %v", err))
		}
		return u.principal(), nil
	case isEmailTaken(resp):
		return nil, apperror.EmailTaken()
	case resp.status == http.StatusUnprocessableEntity || resp.status == http.StatusBadRequest:
		return nil, apperror.Invalid(apperror.CodeInvalidInput, "email", resp.decodeError().text())
	default:
		return nil, unexpected("create user", resp)
	}
}

func isEmailTaken(r response) bool {
	if r.status == http.StatusConflict {
		return true
	}
	e := r.decodeError()
	if e.ErrorCode == "email_exists" || e.ErrorCode == "user_already_exists" {
		return true
	}
	return strings.Contains(strings.ToLower(e.text()), "already") &&
		(r.status == http.StatusUnprocessableEntity || r.status == http.StatusBadRequest)
}

// VerifyCredentials runs the password grant. The issued access token is
// discarded; sessions are this server's own JWTs.
func (p *AuthProvider) VerifyCredentials(ctx context.Context, email, password string) (*model.Principal, error) {
	resp, err := p.c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		var out struct {
			User remoteUser `json:"user"`
		}
		if err := json.Unmarshal(resp.body, &out); err != nil || out.User.ID == "" {
			return nil, apperror.Upstream(apperror.CodeUpstreamFailure,
				"the account service returned an unexpected response",
				fmt.Errorf("backend: decoding token response: %v", err))
		}
		return out.User.principal(), nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return nil, apperror.Unauthorized(apperror.CodeInvalidCredentials, "invalid username/email or password")
	default:
		return nil, unexpected("password grant", resp)
	}
}

// DeletePrincipal treats an already-missing user as deleted.
func (p *AuthProvider) DeletePrincipal(ctx context.Context, id string) error {
	resp, err := p.c.doJSON(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return unexpected("delete user", resp)
	}
}
