package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/metrics"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// Reconciler cleans up after sign-ups that created a principal but no
// profile. Each pass looks at orphans older than the grace period:
//
//   - a profile exists for the principal after all → mark resolved
//   - no profile → delete the principal, then mark resolved
//
// Anything that fails stays pending and is retried on the next pass.
type Reconciler struct {
	orphans   repository.OrphanStore
	profiles  repository.ProfileStore
	provider  repository.AuthProvider
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	grace     time.Duration
	now       Clock
}

func NewReconciler(
	orphans repository.OrphanStore,
	profiles repository.ProfileStore,
	provider repository.AuthProvider,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval, grace time.Duration,
) *Reconciler {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Reconciler{
		orphans:   orphans,
		profiles:  profiles,
		provider:  provider,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		interval:  interval,
		grace:     grace,
		now:       systemClock,
	}
}

// PassResult counts what one pass did.
type PassResult struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"` // profile turned up
	Deleted  int `json:"deleted"`  // principal removed
	Failed   int `json:"failed"`
}

// Run reconciles every interval until ctx is cancelled. It returns nil on
// cancellation so it can sit in an errgroup next to the HTTP server.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("signup reconciler disabled")
		<-ctx.Done()
		return nil
	}

	r.logger.Info("starting signup reconciler",
		slog.Duration("interval", r.interval),
		slog.Duration("grace", r.grace),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("signup reconciler stopped")
			return nil
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconcile pass failed", slog.String("error", err.Error()))
				continue
			}
			if res.Checked > 0 {
				r.logger.Info("reconcile pass",
					slog.Int("checked", res.Checked),
					slog.Int("resolved", res.Resolved),
					slog.Int("deleted", res.Deleted),
					slog.Int("failed", res.Failed),
				)
			}
		}
	}
}

// RunOnce performs a single pass. The error is only for failing to list
// the pending orphans; per-orphan failures are counted in Failed.
func (r *Reconciler) RunOnce(ctx context.Context) (PassResult, error) {
	var res PassResult

	pending, err := r.orphans.ListPendingOrphans(ctx, r.now().Add(-r.grace))
	if err != nil {
		return res, fmt.Errorf("service/reconciler: listing orphans: %w", err)
	}

	for _, o := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++

		outcome, err := r.reconcile(ctx, o.PrincipalID)
		if err != nil {
			res.Failed++
			r.metrics.Orphan("failed")
			r.logger.Warn("reconciling signup orphan",
				slog.String("principalID", o.PrincipalID),
				slog.String("userName", o.UserName),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch outcome {
		case "resolved":
			res.Resolved++
		case "deleted":
			res.Deleted++
		}
		r.metrics.Orphan(outcome)
		publishEvent(ctx, r.publisher, r.logger, events.OrphanResolved, map[string]string{
			"principalId": o.PrincipalID,
			"outcome":     outcome,
		})
	}
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, principalID string) (string, error) {
	outcome := "resolved"

	_, err := r.profiles.FindByID(ctx, principalID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		if err := r.provider.DeletePrincipal(ctx, principalID); err != nil {
			return "", fmt.Errorf("deleting principal: %w", err)
		}
		outcome = "deleted"
	default:
		return "", fmt.Errorf("checking profile: %w", err)
	}

	if err := r.orphans.ResolveOrphan(ctx, principalID, r.now()); err != nil {
		return "", fmt.Errorf("marking resolved: %w", err)
	}
	return outcome, nil
}
