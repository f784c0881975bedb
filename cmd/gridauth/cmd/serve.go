package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/events"
	gridmiddleware "github.com/terraconstructs/grid/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/migrations"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/policy"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/server"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/tenancy"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gridauth HTTP server",
	Long:  `Starts the HTTP server exposing /auth/authenticate, /auth/refresh, /api/auth/me and the /admin endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateForServe(); err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				log.Printf("WARNING: telemetry shutdown: %v", err)
			}
		}()

		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		if autoMigrate {
			group, err := migrations.Apply(ctx, db)
			if err != nil {
				return err
			}
			if group.IsZero() {
				log.Printf("INFO: database schema is up to date")
			} else {
				log.Printf("INFO: applied migration group %s", group)
			}
		}

		// Initialize repositories
		tenantRepo := repository.NewBunTenantRepository(db)
		userRepo := repository.NewBunUserRepository(db)
		roleRepo := repository.NewBunRoleRepository(db)
		permissionRepo := repository.NewBunPermissionRepository(db)
		refreshTokenRepo := repository.NewBunRefreshTokenRepository(db)

		cacheClient, err := openRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("connect identity cache: %w", err)
		}
		var identities cache.IdentityCache
		if cacheClient != nil {
			defer cacheClient.Close()
			identities = cache.NewRedisCache(cacheClient, cfg.Cache.TTL)
			log.Printf("INFO: identity cache backed by redis")
		} else {
			identities = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
		}

		publisher, closeEvents, err := newPublisher(ctx, cfg.Events, cfg.Cache.RedisURL, cacheClient)
		if err != nil {
			return fmt.Errorf("configure event publishing: %w", err)
		}
		defer closeEvents()

		exchanger, err := auth.NewIdPExchanger(ctx, cfg.IdP, &http.Client{})
		if err != nil {
			return fmt.Errorf("failed to create idp exchanger: %w", err)
		}

		var fallback *tenancy.FallbackTenant
		if cfg.Tenancy.DefaultTenantID != "" {
			fallback = &tenancy.FallbackTenant{
				ID:   cfg.Tenancy.DefaultTenantID,
				Code: cfg.Tenancy.DefaultTenantCode,
			}
		}
		resolver := tenancy.NewResolver(tenantRepo, tenancy.ResolverConfig{DefaultTenant: fallback})

		version := policy.NewVersion(1)
		iamService, err := iam.NewIAMService(
			iam.IAMServiceDependencies{
				Exchanger:     exchanger,
				Resolver:      resolver,
				Users:         userRepo,
				Roles:         roleRepo,
				Permissions:   permissionRepo,
				RefreshTokens: refreshTokenRepo,
				Identities:    identities,
				Publisher:     publisher,
				Policy:        version,
			},
			iam.IAMServiceConfig{
				Config: cfg,
			},
		)
		if err != nil {
			return fmt.Errorf("create IAM service: %w", err)
		}
		log.Printf("IAM service initialized")

		metrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}
		checker, err := auth.NewPermissionChecker()
		if err != nil {
			return fmt.Errorf("configure permission checker: %w", err)
		}
		limiter, err := gridmiddleware.NewRateLimiter(
			cfg.RateLimit.RequestsPerSecond,
			cfg.RateLimit.Burst,
			apierror.Writer{Production: cfg.IsProduction()},
		)
		if err != nil {
			return fmt.Errorf("configure rate limiter: %w", err)
		}

		r, err := server.NewRouter(server.RouterOptions{
			IAMService:    iamService,
			Policy:        version,
			Checker:       checker,
			RateLimiter:   limiter,
			Metrics:       metrics,
			Cfg:           cfg,
			HealthHandler: healthHandler(db),
		})
		if err != nil {
			return fmt.Errorf("build router: %w", err)
		}

		// Create HTTP server
		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			ConnState: func(_ net.Conn, state http.ConnState) {
				switch state {
				case http.StateNew:
					metrics.ConnectionOpened(context.Background())
				case http.StateClosed, http.StateHijacked:
					metrics.ConnectionClosed(context.Background())
				}
			},
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s (environment=%s)", cfg.ServerAddr, cfg.Environment)
			serverErrors <- srv.ListenAndServe()
		}()

		// Wait for interrupt signal
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			// Graceful shutdown with timeout
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(sctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

// openRedis returns nil when url is empty.
func openRedis(ctx context.Context, url string) (*goredis.Client, error) {
	if url == "" {
		return nil, nil
	}
	return cache.NewRedisClient(ctx, url)
}

// newPublisher always logs events. A Redis stream sink is added when a stream
// is configured, reusing the cache connection unless events name their own.
func newPublisher(ctx context.Context, ec config.EventsConfig, cacheURL string, cacheClient *goredis.Client) (events.Publisher, func(), error) {
	sinks := []events.Sink{events.LogSink{}}

	var own *goredis.Client
	if ec.RedisStream != "" {
		client := cacheClient
		if ec.RedisURL != "" && ec.RedisURL != cacheURL {
			var err error
			if own, err = openRedis(ctx, ec.RedisURL); err != nil {
				return nil, nil, err
			}
			client = own
		}
		if client == nil {
			return nil, nil, fmt.Errorf("GRID_EVENTS_REDIS_STREAM requires GRID_EVENTS_REDIS_URL or GRID_CACHE_REDIS_URL")
		}
		sinks = append(sinks, events.NewRedisStreamSink(client, ec.RedisStream))
		log.Printf("INFO: publishing events to redis stream %s", ec.RedisStream)
	}

	publisher := events.NewAsyncPublisher(ec.BufferSize, sinks...)
	closeFn := func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publisher.Close(cctx); err != nil {
			log.Printf("WARNING: event publisher did not drain: %v", err)
		}
		if own != nil {
			_ = own.Close()
		}
	}
	return publisher, closeFn, nil
}

func healthHandler(db *bun.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Printf("ERROR: health check: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unavailable"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving (single-instance and SQLite setups)")
	rootCmd.AddCommand(serveCmd)
}
