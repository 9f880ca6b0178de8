// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces policy, orchestrates
//	Repository (Data layer)  → profiles, content, principals, blobs
//
// Every decision about WHO may see or change WHAT is made by the pure
// functions in internal/policy. A service loads the records, asks the policy,
// then performs the write. Services never read the caller's identity from
// anything but the *model.Profile they are handed, which the session
// middleware loaded server-side for this request.
//
// DEPENDENCY INJECTION:
// Services take repository interfaces, never *sqlite.DB or *backend.Client,
// so the same code runs against the embedded stores, the remote backend and
// the in-memory fakes in the tests.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/events"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Validation limits for admin-created content.
const (
	MaxTitleLength   = 200
	MaxExcerptLength = 500
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxImageBytes    = 10 << 20
)

// startSpan opens a span named "<Service>.<Method>".
func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan marks the span failed for errors the caller could not have
// prevented. Validation, not-found and conflict outcomes are ordinary
// answers and leave the span OK.
func endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrNotFound) ||
		errors.Is(err, apperror.ErrConflict) ||
		errors.Is(err, apperror.ErrForbidden) ||
		errors.Is(err, apperror.ErrUnauthorized) {
		span.SetAttributes(attribute.String("error.code", apperror.CodeOf(err)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// clampLimit applies the list defaults.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// publishEvent is fire-and-forget: a broker outage is logged and otherwise
// ignored, never surfaced to the user whose request triggered it.
func publishEvent(ctx context.Context, p events.Publisher, logger *slog.Logger, key string, data any) {
	if err := p.Publish(ctx, key, data); err != nil {
		logger.Warn("publishing event",
			slog.String("event", key),
			slog.String("error", err.Error()),
		)
	}
}
