package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	gridmiddleware "github.com/terraconstructs/grid/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/policy"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
)

// RouterOptions controls the construction of the gridauth HTTP router.
// IAMService and Policy are required; the rest fall back to defaults.
type RouterOptions struct {
	IAMService  iamService
	Policy      *policy.Version
	Checker     *auth.PermissionChecker
	RateLimiter *gridmiddleware.RateLimiter
	Metrics     *telemetry.ServerMetrics
	Cfg         *config.Config
	CORSOptions *cors.Options
	Middleware  []func(http.Handler) http.Handler

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	ExtraRoutes    func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			gridmiddleware.CorrelationIDHeader,
		},
		ExposedHeaders: []string{
			gridmiddleware.CorrelationIDHeader,
			policy.Header,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the gridauth handlers mounted.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.IAMService == nil {
		return nil, errors.New("router requires an IAM service")
	}
	if opts.Policy == nil {
		return nil, errors.New("router requires a policy version")
	}

	errs := apierror.Writer{Production: opts.Cfg != nil && opts.Cfg.IsProduction()}

	checker := opts.Checker
	if checker == nil {
		var err error
		if checker, err = auth.NewPermissionChecker(); err != nil {
			return nil, err
		}
	}

	validator, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("load request schemas: %w", err)
	}

	authn, err := gridmiddleware.NewAuthnMiddleware(gridmiddleware.AuthnDependencies{
		Verifier: opts.IAMService,
		Errors:   errs,
	})
	if err != nil {
		return nil, err
	}
	requirePermission, err := gridmiddleware.NewAuthzMiddleware(gridmiddleware.AuthzDependencies{
		Checker:    checker,
		Identities: opts.IAMService,
		Errors:     errs,
	})
	if err != nil {
		return nil, err
	}

	h := &handlers{iam: opts.IAMService, validator: validator, errors: errs}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(gridmiddleware.CorrelationID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))
	r.Use(gridmiddleware.PolicyVersionHeader(opts.Policy))
	if opts.Metrics != nil {
		r.Use(gridmiddleware.RequestMetrics(opts.Metrics))
	}

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errs.Write(w, r, fmt.Errorf("route %s: %w", r.URL.Path, errNotFound))
	})

	// Session issuance, rate limited per client
	r.Route("/auth", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Post("/authenticate", h.authenticate)
		r.Post("/refresh", h.refresh)
	})

	r.With(authn).Get("/api/auth/me", h.me)

	r.Route("/admin", func(r chi.Router) {
		r.Use(authn)
		r.Use(requirePermission(auth.RoleWrite))
		r.Post("/roles", h.createRole)
		r.Post("/roles/{code}/permissions", h.grantPermission)
		r.Post("/users/{id}/roles", h.assignRole)
		r.Delete("/users/{id}/roles/{code}", h.revokeRole)
	})

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}
