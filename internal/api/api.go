package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ai-agency/agency/internal/analytics"
	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/mailer"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/processor"
	"github.com/ai-agency/agency/internal/storage"
	"github.com/ai-agency/agency/internal/subscription"
	"github.com/ai-agency/agency/internal/validator"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	DB        *database.DB
	Processor *processor.Processor
	Catalog   *subscription.Catalog
	Analytics *analytics.Service
	Files     storage.FileStore
	Mailer    mailer.Sender
}

type Api struct {
	Config *config.Config
	Router *chi.Mux

	db        *database.DB
	users     auth.UserLookup
	tokens    *auth.TokenManager
	proc      *processor.Processor
	catalog   *subscription.Catalog
	analytics *analytics.Service
	files     storage.FileStore
	mail      mailer.Sender
	validate  *validator.Validator

	limits   *LimiterStore
	aiLimits *LimiterStore
	now      func() time.Time
}

func NewApi(cfg *config.Config, deps Deps) (*Api, error) {
	if cfg == nil || cfg.Server.Port <= 0 {
		return nil, errors.New("must have at least a port to start API")
	}
	if deps.DB == nil || deps.Processor == nil || deps.Catalog == nil || deps.Files == nil {
		return nil, errors.New("database, processor, plan catalog and file store are required")
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewService(deps.DB, nil, 0)
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.Log{}
	}

	api := &Api{
		Config:    cfg,
		Router:    chi.NewRouter(),
		db:        deps.DB,
		users:     userLookup(deps.DB),
		tokens:    auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn),
		proc:      deps.Processor,
		catalog:   deps.Catalog,
		analytics: deps.Analytics,
		files:     deps.Files,
		mail:      deps.Mailer,
		validate:  validator.New(),
		limits:    NewLimiterStore(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		aiLimits:  NewLimiterStore(cfg.RateLimit.AIRequests, cfg.RateLimit.AIWindow),
		now:       func() time.Time { return time.Now().UTC() },
	}
	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token", "X-Request-Source"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.fail(w, r, apperrors.NotFound(fmt.Sprintf("route %s %s", r.Method, r.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.fail(w, r, apperrors.NotFound(fmt.Sprintf("route %s %s", r.Method, r.URL.Path)))
	})

	r.Get("/heartbeat", api.Heartbeat)

	authenticated := auth.Middleware(api.tokens, api.users)
	quota := subscription.Gate(api.users, api.now)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(api.limits))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", api.Register)
			r.Post("/login", api.Login)
			r.Group(func(r chi.Router) {
				r.Use(authenticated, rememberUser)
				r.Get("/me", api.Me)
				r.Post("/logout", api.Logout)
				r.Put("/change-password", api.ChangePassword)
			})
		})

		r.Get("/public/requests/{id}", api.GetPublicRequest)

		r.Group(func(r chi.Router) {
			r.Use(authenticated, rememberUser)

			r.Route("/ai", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(rateLimit(api.aiLimits), quota)
					r.Post("/chat", api.Chat)
					r.Post("/job-search", api.JobSearch)
					r.Post("/requests/{id}/retry", api.RetryRequest)

					r.Group(func(r chi.Router) {
						r.Use(subscription.RequirePlan(models.PlanBasic))
						r.Post("/analyze-file", api.AnalyzeFile)
						r.Post("/generate-code", api.GenerateCode)
					})
				})

				r.Get("/requests", api.ListRequests)
				r.Get("/requests/{id}", api.GetRequest)
				r.Post("/requests/{id}/feedback", api.RequestFeedback)
				r.Post("/requests/{id}/share", api.ShareRequest)
				r.Post("/requests/{id}/public", api.PublishRequest)
				r.Post("/requests/{id}/archive", api.ArchiveRequest)
				r.Post("/requests/{id}/cancel", api.CancelRequest)
			})

			// /user is kept for older clients.
			r.Route("/users", api.userRoutes)
			r.Route("/user", api.userRoutes)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin, models.RoleModerator))
				r.Get("/analytics/system", api.SystemAnalytics)
				r.Get("/analytics/performance", api.PerformanceAnalytics)
				r.Get("/analytics/users/active", api.ActiveUsers)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Post("/analytics/report", api.Report)
				r.Post("/admin/reset-usage", api.ResetUsage)
				r.Put("/admin/users/{id}", api.UpdateUser)
			})
		})
	})

	r.Get("/files/users/{userID}/avatar/{name}", api.ServeAvatar)
}

func (api *Api) userRoutes(r chi.Router) {
	r.Get("/profile", api.GetProfile)
	r.Put("/profile", api.UpdateProfile)
	r.Put("/preferences", api.UpdatePreferences)
	r.Post("/avatar", api.UploadAvatar)
	r.Get("/projects", api.ListProjects)
	r.Post("/projects", api.CreateProject)
	r.Put("/projects/{projectId}", api.UpdateProject)
	r.Delete("/projects/{projectId}", api.DeleteProject)
	r.Get("/stats", api.UserStats)
	r.Delete("/account", api.DeleteAccount)
}

// Handler returns the root handler.
func (api *Api) Handler() http.Handler {
	return api.Router
}

// Serve listens on the configured address until ctx is cancelled, then
// drains in-flight requests for up to the shutdown timeout.
func (api *Api) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", api.Config.Server.Host, api.Config.Server.Port),
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go api.pruneLimiters(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "env", api.Config.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	timeout := api.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutting down API server", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func (api *Api) pruneLimiters(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.limits.Prune()
			api.aiLimits.Prune()
		}
	}
}

func (api *Api) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := api.db.Ping(r.Context()); err != nil {
		api.fail(w, r, apperrors.Wrap(err, apperrors.CodeInternal, "database unavailable").With("status", "degraded"))
		return
	}
	respond(w, http.StatusOK, "service is running", envelope{
		"status":    "ok",
		"timestamp": api.now(),
	})
}
