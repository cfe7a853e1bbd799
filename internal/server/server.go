// Package server is the composition root: it opens storage, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config → sqlite.DB → services → handlers → chi router
//
// Everything is wired in New, so tests can build the whole API against an
// in-memory database and drive it with httptest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/config"
	"github.com/sakif/lms/internal/handler"
	"github.com/sakif/lms/internal/mailer"
	"github.com/sakif/lms/internal/middleware"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/payment"
	"github.com/sakif/lms/internal/ratelimit"
	sqliteRepo "github.com/sakif/lms/internal/repository/sqlite"
	"github.com/sakif/lms/internal/service"
)

// Server owns the database and Redis connections; Run closes them on exit.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client
}

// New wires the application. ctx bounds startup work such as OIDC
// discovery for Google.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// DB exposes the store, mainly for tests and operator tooling.
func (s *Server) DB() *sqliteRepo.DB {
	return s.db
}

func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.cfg

	// === Core services ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	passwords := auth.NewPasswordService()
	users := s.db.Users()

	providers, err := s.oauthProviders(ctx)
	if err != nil {
		return err
	}

	gateway := payment.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.BaseURL, cfg.Razorpay.Timeout)

	accounts := service.NewAuthService(users, tokens, passwords, cfg.DefaultAvatarURL, s.logger)
	resets := service.NewPasswordResetService(users, auth.NewResetTokenService(), passwords,
		s.mailer(), cfg.FrontendURL, s.logger)
	linker := service.NewIdentityLinker(users, tokens, cfg.DefaultAvatarURL, s.logger, providers...)
	payments := service.NewPaymentService(users, s.db.Courses(), s.db.Payments(), gateway, s.logger)

	// === Handlers ===
	cookies := handler.Cookies{Secure: cfg.IsProduction(), TokenTTL: tokens.TTL()}
	userHandler := handler.NewUserHandler(accounts, resets, linker, cookies, s.logger)
	oauthHandler, err := handler.NewOAuthHandler(linker, tokens, cookies, cfg.FrontendOrigin(), s.logger)
	if err != nil {
		return fmt.Errorf("creating oauth handler: %w", err)
	}
	paymentHandler := handler.NewPaymentHandler(payments, s.logger)

	// === Middleware ===
	// Order: request id first so every later layer can log it; RealIP
	// before the rate limiter keys on the client address.
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendOrigin()},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	authn := auth.Authenticate(tokens, s.logger)
	limit := s.rateLimiter()

	// === Routes ===
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.With(limit("register")).Post("/register", userHandler.HandleRegister)
			r.With(limit("login")).Post("/login", userHandler.HandleLogin)
			r.With(limit("forgotpassword")).Post("/forgotpassword", userHandler.HandleForgotPassword)
			r.Post("/forgotpassword/{resetToken}", userHandler.HandleResetPassword)

			r.Get("/auth/{provider}", oauthHandler.HandleStart)
			r.Get("/auth/{provider}/callback", oauthHandler.HandleCallback)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Get("/me", userHandler.HandleMe)
				r.Get("/logout", userHandler.HandleLogout)
				r.Put("/update-profile", userHandler.HandleUpdateProfile)
				r.Post("/change-password", userHandler.HandleChangePassword)
				r.Post("/link-oauth", userHandler.HandleLinkOAuth)
				r.Post("/unlink-oauth", userHandler.HandleUnlinkOAuth)
			})
		})

		r.Route("/payment", func(r chi.Router) {
			r.Use(authn)
			r.Get("/razorpay-key", paymentHandler.HandleKey)
			r.Post("/subscribe/{courseId}", paymentHandler.HandleSubscribe)
			r.Post("/verify", paymentHandler.HandleVerify)
			r.With(auth.Authorize(model.RoleAdmin)).Get("/", paymentHandler.HandleList)
		})
	})

	return nil
}

// oauthProviders builds a strategy for every provider with a client id.
func (s *Server) oauthProviders(ctx context.Context) ([]auth.Provider, error) {
	var providers []auth.Provider

	if app := s.cfg.GitHub; app.Enabled() {
		providers = append(providers, auth.NewGitHubProvider(app.ClientID, app.ClientSecret, app.CallbackURL))
	}
	if app := s.cfg.Google; app.Enabled() {
		google, err := auth.NewGoogleProvider(ctx, app.ClientID, app.ClientSecret, app.CallbackURL)
		if err != nil {
			return nil, fmt.Errorf("configuring google sign-in: %w", err)
		}
		providers = append(providers, google)
	}

	if len(providers) == 0 {
		s.logger.Warn("no OAuth providers configured; social sign-in is disabled")
	}
	return providers, nil
}

func (s *Server) mailer() mailer.Sender {
	smtp := s.cfg.SMTP
	if smtp.Host == "" {
		s.logger.Warn("SMTP_HOST not set; password reset emails cannot be sent")
		return mailer.Disabled{}
	}
	return mailer.NewSMTP(mailer.Config{
		Host:     smtp.Host,
		Port:     smtp.Port,
		Username: smtp.Username,
		Password: smtp.Password,
		From:     smtp.From,
		Timeout:  smtp.Timeout,
	})
}

// rateLimiter returns a per-rule middleware factory. Without REDIS_ADDR
// the middleware passes everything through.
func (s *Server) rateLimiter() func(name string) func(http.Handler) http.Handler {
	var checker ratelimit.Checker
	if addr := s.cfg.Redis.Addr; addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		})
		checker = ratelimit.NewLimiter(s.redis, s.cfg.Redis.KeyPrefix)
	} else {
		s.logger.Warn("REDIS_ADDR not set; rate limiting is disabled")
	}

	return func(name string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(checker, ratelimit.Rule{
			Name:   name,
			Limit:  s.cfg.RateLimit.Limit,
			Window: s.cfg.RateLimit.Window,
		}, s.logger)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q,"environment":%q}`+"\n", status, s.cfg.Env)
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to HTTP.ShutdownTimeout and closes the database and Redis.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.HTTP.Port),
			slog.String("env", s.cfg.Env),
			slog.String("database", s.cfg.DBPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("closing database", slog.String("error", err.Error()))
	}
}
