// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
//   - which backing services are used (SQLite or MongoDB, Redis fan-out or
//     the in-process hub, SMTP or log mail, Gemini or the canned assistant)
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → New() opens the store and optional integrations
//	             → NewWithDependencies() builds services → handlers → routes
//
// Tests skip New() and hand NewWithDependencies an in-memory store, so the
// whole HTTP surface can be exercised without any network services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/ecoloop/internal/assistant"
	"github.com/sakif/ecoloop/internal/auth"
	"github.com/sakif/ecoloop/internal/config"
	"github.com/sakif/ecoloop/internal/handler"
	"github.com/sakif/ecoloop/internal/mailer"
	"github.com/sakif/ecoloop/internal/middleware"
	"github.com/sakif/ecoloop/internal/realtime"
	"github.com/sakif/ecoloop/internal/repository"
	"github.com/sakif/ecoloop/internal/repository/mongodb"
	sqliteRepo "github.com/sakif/ecoloop/internal/repository/sqlite"
	"github.com/sakif/ecoloop/internal/service"
	"github.com/sakif/ecoloop/internal/upload"
)

// Store is a repository backend the health check can ping.
type Store interface {
	repository.Store
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the router is built from. Optional
// ones may be nil: GitHub and Uploads disable their endpoints, Mailer falls
// back to logging, Assistant to the canned reply.
type Dependencies struct {
	Store     Store
	Hub       *realtime.Hub
	Publisher realtime.Publisher // defaults to Hub
	Passwords *auth.PasswordService
	Mailer    mailer.Mailer
	Assistant assistant.Assistant
	GitHub    handler.GitHubAuth
	Uploads   handler.UploadSigner
}

// Server owns the router and every long-lived resource; Start closes them
// on shutdown.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies
	tokens *auth.TokenService

	redis  *redis.Client          // nil without REDIS_ADDR
	broker *realtime.RedisBroker // nil without REDIS_ADDR
}

// New opens the configured store and optional integrations, then builds the
// router.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Store:     store,
		Hub:       realtime.NewHub(logger),
		Passwords: auth.NewPasswordService(),
	}

	var (
		rdb    *redis.Client
		broker *realtime.RedisBroker
	)
	if cfg.Redis.Addr != "" {
		rdb, err = realtime.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		broker = realtime.NewRedisBroker(rdb, cfg.Redis.Channel, deps.Hub, logger)
		deps.Publisher = broker
		logger.Info("realtime fan-out via redis", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.SMTPEnabled() {
		deps.Mailer = mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logger.Warn("SMTP_HOST not set, password reset emails will only be logged")
	}

	if cfg.Gemini.APIKey != "" {
		deps.Assistant = assistant.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model)
	} else {
		logger.Warn("GEMINI_API_KEY not set, chatbot answers with a canned reply")
	}

	if cfg.GitHubEnabled() {
		deps.GitHub = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.CallbackURL())
	}

	if cfg.UploadEnabled() {
		signer, err := upload.NewSigner(ctx,
			cfg.Upload.Endpoint, cfg.Upload.AccessKey, cfg.Upload.SecretKey,
			cfg.Upload.Bucket, cfg.Upload.Region, cfg.Upload.UseSSL, cfg.Upload.PublicURL,
		)
		if err != nil {
			// Uploads are optional; listings still work with external image URLs.
			logger.Warn("object storage unavailable, image uploads disabled",
				slog.String("error", err.Error()),
			)
		} else {
			deps.Uploads = signer
		}
	}

	s, err := NewWithDependencies(cfg, logger, deps)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		store.Close()
		return nil, err
	}
	s.redis = rdb
	s.broker = broker
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		store, err := mongodb.New(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("opening mongodb: %w", err)
		}
		return store, nil
	default:
		// The "data" directory is created on first run (like `mkdir -p`).
		if cfg.Store.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err := sqliteRepo.New(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return store, nil
	}
}

// NewWithDependencies builds the router around already-open collaborators.
func NewWithDependencies(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Hub == nil {
		deps.Hub = realtime.NewHub(logger)
	}
	if deps.Publisher == nil {
		deps.Publisher = deps.Hub
	}
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswordService()
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.NewLogMailer(logger)
	}
	if deps.Assistant == nil {
		deps.Assistant = assistant.Fallback{}
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		tokens: tokens,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the client IP from proxy headers
//  3. Logger: logs each request with timing info and the request ID
//  4. Recoverer: turns panics into a 500 instead of crashing
//  5. CORS: answers preflights before any auth runs
//
// Per-route auth is applied with r.With / r.Group:
//   - requireAuth: 401 without a valid token
//   - optionalAuth: identifies the caller when a token is present
//   - requireAdmin: 403 unless the caller's role is admin
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	store := s.deps.Store

	// === Services ===
	authService := service.NewAuthService(store, store, s.tokens, s.deps.Passwords, s.deps.Mailer, s.cfg.FrontendURL, s.logger)
	itemService := service.NewItemService(store, store, s.logger)
	messageService := service.NewMessageService(store, store, store, s.deps.Publisher, s.logger)
	leaderboardService := service.NewLeaderboardService(store)
	favoriteService := service.NewFavoriteService(store)
	adminService := service.NewAdminService(store, store, s.logger)
	chatService := service.NewChatService(s.deps.Assistant, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(authService, s.deps.GitHub, s.tokens.TTL(), s.cfg.FrontendURL, s.logger)
	itemHandler := handler.NewItemHandler(itemService, s.logger)
	messageHandler := handler.NewMessageHandler(messageService, s.logger)
	leaderboardHandler := handler.NewLeaderboardHandler(leaderboardService)
	favoriteHandler := handler.NewFavoriteHandler(favoriteService)
	adminHandler := handler.NewAdminHandler(adminService)
	chatHandler := handler.NewChatHandler(chatService)
	uploadHandler := handler.NewUploadHandler(s.deps.Uploads)
	healthHandler := handler.NewHealthHandler(store, s.logger)

	requireAuth := auth.RequireAuth(s.tokens)
	optionalAuth := auth.OptionalAuth(s.tokens)
	requireAdmin := auth.RequireAdmin(store)

	// === Realtime ===
	s.router.Handle("/ws", realtime.NewServer(s.deps.Hub, s.deps.Publisher, s.tokens, s.cfg.CORSOrigins, s.logger))

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/forgot-password", authHandler.HandleForgotPassword)
			r.Post("/reset-password", authHandler.HandleResetPassword)
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)

			r.With(requireAuth).Get("/profile", authHandler.HandleProfile)
			r.With(requireAuth).Put("/profile", authHandler.HandleUpdateProfile)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.HandleList)
			r.Get("/towns", itemHandler.HandleTowns)
			r.Get("/{id}", itemHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/mine", itemHandler.HandleMine)
				r.Get("/recommendations", itemHandler.HandleRecommendations)
				r.Post("/", itemHandler.HandleCreate)
				r.Put("/{id}", itemHandler.HandleUpdate)
				r.Patch("/{id}/status", itemHandler.HandleUpdateStatus)
				r.Delete("/{id}", itemHandler.HandleDelete)
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", messageHandler.HandleSend)
			r.Get("/", messageHandler.HandleUnreadCount)
			r.Get("/conversations", messageHandler.HandleConversations)
			r.Post("/read", messageHandler.HandleMarkAllRead)
			r.Post("/read/{otherUserId}", messageHandler.HandleMarkConversationRead)
			r.Get("/{userId}", messageHandler.HandleListForUser)
		})

		r.With(optionalAuth).Get("/leaderboard", leaderboardHandler.HandleLeaderboard)
		r.Get("/ecopoints/preview", leaderboardHandler.HandlePreview)

		r.Route("/favorites", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", favoriteHandler.HandleList)
			r.Get("/check/{itemId}", favoriteHandler.HandleCheck)
			r.Post("/{itemId}", favoriteHandler.HandleAdd)
			r.Delete("/{itemId}", favoriteHandler.HandleRemove)
		})

		r.With(requireAuth).Post("/chatbot/chat", chatHandler.HandleChat)
		r.With(requireAuth).Post("/uploads/signature", uploadHandler.HandleSign)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, requireAdmin)
			r.Get("/stats", adminHandler.HandleStats)
			r.Get("/users", adminHandler.HandleUsers)
			r.Patch("/users/{id}/suspend", adminHandler.HandleSuspend)
			r.Patch("/users/{id}/role", adminHandler.HandleRole)
		})
	})
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the Redis subscription and close Redis
//  4. Close the store (flushes the SQLite WAL / disconnects Mongo)
func (s *Server) Start() error {
	defer s.deps.Store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.redis != nil {
		defer s.redis.Close()
	}
	if s.broker != nil {
		go s.broker.Serve(ctx)
	}

	// Websocket connections are hijacked, so WriteTimeout does not cut them
	// off; the realtime pumps manage their own deadlines.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.cfg.Port)),
			slog.String("store", s.cfg.Store.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
