// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which backend implementations back the repository interfaces
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server and its background reconciler start and stop
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlite.DB                      (profiles, content, orphans, local principals)
//	  → AuthProvider + BlobStore       (local: bcrypt + filesystem, remote: backend client)
//	  → Redis cache, AMQP publisher    (both optional)
//	  → services                       (policy decisions, orchestration)
//	  → handlers                       (HTTP in, JSON out)
//
// This is the "composition root": every dependency is built here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/backend"
	"github.com/TotemHolder-js/EchoShock/internal/cache"
	"github.com/TotemHolder-js/EchoShock/internal/config"
	"github.com/TotemHolder-js/EchoShock/internal/events"
	"github.com/TotemHolder-js/EchoShock/internal/handler"
	"github.com/TotemHolder-js/EchoShock/internal/metrics"
	"github.com/TotemHolder-js/EchoShock/internal/middleware"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
	sqliteRepo "github.com/TotemHolder-js/EchoShock/internal/repository/sqlite"
	"github.com/TotemHolder-js/EchoShock/internal/service"
	"github.com/TotemHolder-js/EchoShock/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	tracerName      = "github.com/TotemHolder-js/EchoShock"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database, the Redis client and the AMQP connection.
// Close releases all three; Start calls it on the way out.
type Server struct {
	router      *chi.Mux
	cfg         *config.Config
	logger      *slog.Logger
	db          *sqliteRepo.DB
	rdb         *redis.Client
	publisher   events.Publisher
	metrics     *metrics.Metrics
	reconciler  *service.Reconciler
	unsubscribe func()
}

// New builds every dependency from cfg and wires the routes.
//
// Optional collaborators degrade instead of failing: no Redis means no
// response cache, no AMQP means events are dropped. The database and the
// auth/blob backends are required.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		logger:    logger,
		db:        db,
		publisher: events.Noop{},
		metrics:   metrics.New(),
	}

	if err := s.setup(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setup() error {
	cfg := s.cfg

	// === BACKENDS ===
	var (
		provider  repository.AuthProvider
		blobs     repository.BlobStore
		uploadDir string
	)
	switch cfg.Backend.Mode {
	case config.BackendRemote:
		client := backend.New(cfg.Backend.URL, cfg.Backend.ServiceKey, nil)
		provider = backend.NewAuthProvider(client)
		blobs = backend.NewBlobStore(client, cfg.Backend.Bucket)
	default:
		local, err := storage.NewLocal(cfg.Server.UploadDir, cfg.Server.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("creating upload store: %w", err)
		}
		provider = auth.NewLocalProvider(s.db, auth.NewPasswordService(cfg.Auth.BcryptCost))
		blobs = local
		uploadDir = local.Root()
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// === OPTIONAL INFRASTRUCTURE ===
	var store cache.Store
	if s.rdb = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, s.logger); s.rdb != nil {
		store = cache.NewRedis(s.rdb)
	}

	if cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			s.logger.Warn("event broker unavailable, events will be dropped",
				slog.String("error", err.Error()),
			)
		} else {
			s.publisher = pub
		}
	}

	// Session changes go to the debug log. Anything else that cares about
	// sign-ins subscribes the same way.
	notifier := auth.NewNotifier()
	s.unsubscribe = notifier.Subscribe(func(ev auth.Event) {
		s.logger.Debug("session event",
			slog.String("kind", string(ev.Kind)),
			slog.String("userID", ev.UserID),
		)
	})

	// === SERVICES ===
	tracer := otel.Tracer(tracerName)
	authService := service.NewAuthService(s.db, provider, s.db, tokens, notifier, s.publisher, s.metrics, tracer, s.logger)
	echoService := service.NewEchoService(s.db, s.publisher, s.metrics, tracer, s.logger)
	gameService := service.NewGameService(s.db, blobs, s.publisher, tracer, s.logger)
	s.reconciler = service.NewReconciler(s.db, s.db, provider, s.publisher, s.metrics, s.logger,
		cfg.Reconcile.Interval, cfg.Reconcile.Grace)

	// === HANDLERS ===
	authHandler := handler.NewAuthHandler(authService, tokens, cfg.Server.SecureCookies, s.logger)
	echoHandler := handler.NewEchoHandler(echoService, s.logger)
	gameHandler := handler.NewGameHandler(gameService, int64(cfg.Server.MaxUploadMB)<<20, s.logger)

	s.routes(routeDeps{
		tokens:    tokens,
		notifier:  notifier,
		cache:     store,
		limiter:   middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		uploadDir: uploadDir,
		auth:      authHandler,
		echoes:    echoHandler,
		games:     gameHandler,
	})
	return nil
}

type routeDeps struct {
	tokens    *auth.TokenService
	notifier  *auth.Notifier
	cache     cache.Store
	limiter   *middleware.IPRateLimiter
	uploadDir string
	auth      *handler.AuthHandler
	echoes    *handler.EchoHandler
	games     *handler.GameHandler
}

// routes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                       → database ping
//	GET    /metrics                       → Prometheus
//	GET    /uploads/*                     → uploaded files (local mode)
//	POST   /api/auth/signup|signin        → rate limited per IP
//	POST   /api/auth/signout
//	GET    /api/me                        → signed in only
//	GET    /api/echoes[/featured|/{id}]   → public, cached for anonymous callers
//	GET    /api/games[/{id}]              → public, cached for anonymous callers
//	*      /api/admin/...                 → admins only, writes purge the cache
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: tags the request for the log line
//  2. RealIP: the rate limiter keys on the client, not the proxy
//  3. Logger: outside everything that can fail, so every request is logged
//  4. Recoverer: a panic becomes a 500 instead of a dead process
//  5. Metrics: counted by route pattern
//  6. LoadSession: resolves the cookie before any handler or policy runs
func (s *Server) routes(d routeDeps) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(auth.LoadSession(d.tokens, s.db, d.notifier, s.cfg.Server.SecureCookies, s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	if d.uploadDir != "" {
		fileServer := http.FileServer(http.Dir(d.uploadDir))
		r.Handle(storage.URLPrefix+"*", http.StripPrefix(storage.URLPrefix, fileServer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.limiter))
			r.Post("/auth/signup", d.auth.HandleSignUp)
			r.Post("/auth/signin", d.auth.HandleSignIn)
		})
		r.Post("/auth/signout", d.auth.HandleSignOut)
		r.With(auth.RequireAuth).Get("/me", d.auth.HandleMe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ResponseCache(d.cache, s.cfg.Cache.TTL, s.metrics, s.logger))
			r.Get("/echoes", d.echoes.HandleList)
			r.Get("/echoes/featured", d.echoes.HandleFeatured)
			r.Get("/echoes/{id}", d.echoes.HandleGet)
			r.Get("/games", d.games.HandleGlade)
			r.Get("/games/{id}", d.games.HandleGet)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminOnly)
			r.Use(middleware.PurgeOnWrite(d.cache, s.logger))

			r.Get("/echoes", d.echoes.HandleListAll)
			r.Post("/echoes", d.echoes.HandleCreate)
			r.Delete("/echoes/{id}", d.echoes.HandleDelete)
			r.Post("/echoes/{id}/pin", d.echoes.HandlePin)
			r.Delete("/echoes/{id}/pin", d.echoes.HandleUnpin)

			r.Get("/games", d.games.HandleListAll)
			r.Post("/games", d.games.HandleCreate)
			r.Delete("/games/{id}", d.games.HandleDelete)

			r.Post("/uploads", d.games.HandleUpload)
		})
	})
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until SIGINT or SIGTERM, then shuts down gracefully
// and releases every resource.
func (s *Server) Start() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves HTTP and runs the reconciler until ctx is done or either of
// them fails.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Give in-flight requests shutdownTimeout to finish
//  3. Stop the reconciler (it watches the same context)
//
// errgroup ties the three goroutines together: the first error cancels
// gctx, which triggers the shutdown path for the others.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("backend", s.cfg.Backend.Mode),
			slog.String("database", s.cfg.Database.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// Close releases the database, the cache client and the broker connection.
// It is safe to call on a partially built Server.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("closing event publisher", slog.String("error", err.Error()))
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
}
