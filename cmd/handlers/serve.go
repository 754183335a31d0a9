package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsfeed/internal/auth"
	"newsfeed/internal/config"
	"newsfeed/internal/enrich"
	"newsfeed/internal/feed"
	"newsfeed/internal/feedcache"
	"newsfeed/internal/llm"
	"newsfeed/internal/logger"
	"newsfeed/internal/preferences"
	"newsfeed/internal/ratelimit"
	"newsfeed/internal/search"
	"newsfeed/internal/server"
	"newsfeed/internal/telemetry"
)

// version is set at build time with -ldflags "-X newsfeed/cmd/handlers.version=..."
var version = "dev"

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the news feed API server",
		Long: `Start the newsfeed HTTP API.

The server provides:
  • Preference storage, parsed into structured interests on write
  • Personalized, AI-ranked feeds cached per user
  • Top headlines passthrough
  • Health check and status endpoints

Every /api route except /api/status requires a bearer token signed with
auth.jwt_secret. Mint one for local testing with 'newsfeed token'.

Examples:
  # Start server on the configured port (default 5000)
  newsfeed serve

  # Start on custom port
  newsfeed serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 5000)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Get()
	log.Info("Starting HTTP server")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// Override server config from flags if provided
	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("Telemetry shutdown failed", err)
		}
	}()

	log.Info("Connecting to database", "driver", cfg.Database.Driver)
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w\n\n"+
			"Make sure the database is reachable and the connection string is correct.\n"+
			"Run 'newsfeed migrate up' to initialize the database schema.", err)
	}
	log.Info("Database connection successful")

	ai, err := llm.NewClient(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model, cfg.AI.Gemini.Temperature)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	provider, err := search.NewProviderFactory().CreateProvider(search.ProviderType(cfg.News.Provider), search.Options{
		APIKey:            cfg.News.APIKey,
		BaseURL:           cfg.News.BaseURL,
		Timeout:           cfg.News.Timeout,
		RequestsPerSecond: cfg.News.RequestsPerSecond,
		Feeds:             cfg.News.RSSFeeds,
	})
	if err != nil {
		return fmt.Errorf("failed to create news provider %q: %w", cfg.News.Provider, err)
	}

	limiter := ratelimit.New(cfg.RateLimit.DailyLimit)
	engine := enrich.NewEngine(ai, limiter,
		enrich.WithMaxArticles(cfg.Feed.MaxEnriched),
		enrich.WithStageTimeout(cfg.AI.Gemini.Timeout),
	)

	cache := feedcache.New(db.FeedCache(), cfg.Feed.CacheTTL)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go cache.RunSweeper(sweepCtx, cfg.Feed.CacheTTL)

	bridge := preferences.NewBridge(cfg.Auth.ConsistencySecret, cfg.Feed.TokenWindow)
	prefs := preferences.NewService(db.Preferences(), ai, cache, bridge)

	orchestrator := feed.NewOrchestrator(feed.Deps{
		Preferences: prefs,
		Tokens:      bridge,
		Cache:       cache,
		Provider:    provider,
		Enricher:    engine,
		Limiter:     limiter,
	},
		feed.WithPageSize(cfg.News.PageSize),
		feed.WithLanguage(cfg.News.Language),
		feed.WithRequestTimeout(cfg.Feed.RequestTimeout),
	)

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
	)

	srv := server.New(server.Deps{
		DB:          db,
		Preferences: prefs,
		Tokens:      bridge,
		Feed:        orchestrator,
		Quota:       limiter,
		Verifier:    verifier,
		Version:     version,
	}, serverCfg)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port),
			"provider", provider.GetName(),
			"model", ai.GetModelName(),
			"daily_limit", cfg.RateLimit.DailyLimit,
		)
		log.Info("Press Ctrl+C to stop")
		serverErrors <- srv.Start()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive our signal or an error from server
	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		log.Info("Server stopped successfully")
	}

	return nil
}
