package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/metrics"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// AuthService resolves identifiers, signs users up and in, and keeps the
// session notifier informed.
//
//	AuthHandler (HTTP) → AuthService → ProfileStore   (usernames, admin flag)
//	                                 → AuthProvider   (credentials)
//	                                 → OrphanStore    (half-finished sign-ups)
//	                   ↘ TokenService (JWT)
type AuthService struct {
	profiles  repository.ProfileStore
	provider  repository.AuthProvider
	orphans   repository.OrphanStore
	tokens    *auth.TokenService
	notifier  *auth.Notifier
	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       Clock
}

func NewAuthService(
	profiles repository.ProfileStore,
	provider repository.AuthProvider,
	orphans repository.OrphanStore,
	tokens *auth.TokenService,
	notifier *auth.Notifier,
	publisher events.Publisher,
	m *metrics.Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &AuthService{
		profiles:  profiles,
		provider:  provider,
		orphans:   orphans,
		tokens:    tokens,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		tracer:    tracer,
		logger:    logger,
		now:       systemClock,
	}
}

// AuthResult bundles the profile and the issued JWT so the handler can set
// the cookie and respond in one step.
type AuthResult struct {
	Profile *model.Profile
	Token   string
}

type SignUpInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// ResolveIdentifierToEmail maps a sign-in identifier to an email address.
//
// Anything containing "@" is taken to be an email and returned as is, with no
// lookup. Otherwise the identifier is a username and its profile's email is
// returned, or an UnknownIdentifier not-found error.
func (s *AuthService) ResolveIdentifierToEmail(ctx context.Context, identifier string) (email string, err error) {
	ctx, span := startSpan(ctx, s.tracer, "AuthService.ResolveIdentifierToEmail")
	defer func() { endSpan(span, err) }()

	if strings.Contains(identifier, "@") {
		return identifier, nil
	}

	profile, err := s.profiles.FindByUsername(ctx, identifier)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", apperror.UnknownIdentifier(identifier)
	}
	if err != nil {
		return "", fmt.Errorf("service/auth: looking up %q: %w", identifier, err)
	}
	return profile.Email, nil
}

// SignIn resolves identifier, verifies the password and issues a token.
// An unknown username stops here; credentials are never checked for it.
func (s *AuthService) SignIn(ctx context.Context, identifier, password string) (result *AuthResult, err error) {
	ctx, span := startSpan(ctx, s.tracer, "AuthService.SignIn")
	defer func() { endSpan(span, err) }()

	email, err := s.ResolveIdentifierToEmail(ctx, identifier)
	if err != nil {
		return nil, err
	}

	principal, err := s.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.FindByID(ctx, principal.ID)
	if errors.Is(err, apperror.ErrNotFound) {
		// A principal with no profile is a sign-up that never finished.
		return nil, apperror.Upstream(apperror.CodeSignupIncomplete,
			"your account setup did not complete; please contact support", err)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading profile %s: %w", principal.ID, err)
	}

	return s.issue(profile)
}

// SignUp validates locally, then creates the principal and the profile.
//
// VALIDATION ORDER:
//  1. username format     → invalid_username
//  2. password strength   → weak_password
//  3. confirmation match  → password_mismatch
//  4. email syntax        → invalid_email
//
// Only then are the stores touched: a username pre-check, principal creation
// and the profile insert. The pre-check is advisory; the insert's unique index
// is what actually decides a race for the same name.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (result *AuthResult, err error) {
	ctx, span := startSpan(ctx, s.tracer, "AuthService.SignUp",
		attribute.String("username", in.Username))
	defer func() { endSpan(span, err) }()

	if err := auth.ValidateSignUp(in.Username, in.Email, in.Password, in.ConfirmPassword); err != nil {
		s.metrics.Signup("rejected")
		return nil, err
	}

	_, err = s.profiles.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		s.metrics.Signup("conflict")
		return nil, apperror.UsernameTaken(in.Username)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: checking username %q: %w", in.Username, err)
	}

	principal, err := s.provider.CreatePrincipal(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.metrics.Signup("conflict")
		}
		return nil, err
	}

	profile := &model.Profile{
		UserID:   principal.ID,
		UserName: in.Username,
		Email:    principal.Email,
	}
	if err := s.profiles.Insert(ctx, profile); err != nil {
		return nil, s.abandonSignup(ctx, principal, in.Username, err)
	}

	s.metrics.Signup("completed")
	publishEvent(ctx, s.publisher, s.logger, events.SignupCompleted, map[string]string{
		"userId":   profile.UserID,
		"userName": profile.UserName,
	})
	s.logger.Info("user signed up",
		slog.String("userID", profile.UserID),
		slog.String("userName", profile.UserName),
	)

	return s.issue(profile)
}

// abandonSignup handles a principal whose profile could not be written.
//
// The orphan is recorded before anything else so the reconciler can finish
// the job if this process dies or the compensating delete fails. Cleanup
// runs detached from ctx: a client hanging up must not strand the principal.
func (s *AuthService) abandonSignup(ctx context.Context, principal *model.Principal, username string, insertErr error) error {
	ctx = context.WithoutCancel(ctx)
	raced := apperror.CodeOf(insertErr) == apperror.CodeUsernameTaken

	orphan := &model.SignupOrphan{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		UserName:    username,
		Reason:      insertErr.Error(),
		CreatedAt:   s.now(),
	}
	if err := s.orphans.RecordOrphan(ctx, orphan); err != nil {
		s.logger.Error("recording signup orphan",
			slog.String("principalID", principal.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.Orphan("recorded")
	}

	if err := s.provider.DeletePrincipal(ctx, principal.ID); err != nil {
		s.logger.Warn("compensating principal delete failed; left for reconciler",
			slog.String("principalID", principal.ID),
			slog.String("error", err.Error()),
		)
	} else if err := s.orphans.ResolveOrphan(ctx, principal.ID, s.now()); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		s.logger.Warn("resolving signup orphan",
			slog.String("principalID", principal.ID),
			slog.String("error", err.Error()),
		)
	}

	if raced {
		s.metrics.Signup("conflict")
		return insertErr
	}

	s.metrics.Signup("incomplete")
	publishEvent(ctx, s.publisher, s.logger, events.SignupIncomplete, map[string]string{
		"principalId": principal.ID,
		"userName":    username,
	})
	s.logger.Error("profile insert failed after principal creation",
		slog.String("principalID", principal.ID),
		slog.String("userName", username),
		slog.String("error", insertErr.Error()),
	)
	return apperror.Upstream(apperror.CodeSignupIncomplete,
		"sign-up partially completed: your account could not be finished. "+
			"Please do not retry with the same email; contact support instead.",
		insertErr)
}

// SignOut ends sess if it is signed in. Signing out twice is not an error.
func (s *AuthService) SignOut(ctx context.Context, sess *auth.Session) error {
	profile := sess.Profile()
	if profile == nil {
		return nil
	}
	if err := sess.SignOut(); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	s.notify(auth.EventSignedOut, profile.UserID)
	s.logger.InfoContext(ctx, "user signed out", slog.String("userID", profile.UserID))
	return nil
}

// Me returns the caller's own profile.
func (s *AuthService) Me(ctx context.Context) (*model.Profile, error) {
	profile := auth.ProfileFromContext(ctx)
	if profile == nil {
		return nil, apperror.Unauthorized(apperror.CodeUnauthenticated, "sign in to view your profile")
	}
	return profile, nil
}

func (s *AuthService) issue(profile *model.Profile) (*AuthResult, error) {
	token, err := s.tokens.Generate(profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", profile.UserID, err)
	}
	s.notify(auth.EventSignedIn, profile.UserID)
	return &AuthResult{Profile: profile, Token: token}, nil
}

func (s *AuthService) notify(kind auth.EventKind, userID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(auth.Event{Kind: kind, UserID: userID, At: s.now()})
}
