// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	apiconnect "github.com/osa030/tunebox/internal/api/connect"
	"github.com/osa030/tunebox/internal/api/events"
	"github.com/osa030/tunebox/internal/api/httpserver"
	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/queue"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/app/supervisor"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/infra/config"
	"github.com/osa030/tunebox/internal/infra/logger"
	"github.com/osa030/tunebox/internal/infra/metrics"
	"github.com/osa030/tunebox/internal/infra/spotify"
	"github.com/osa030/tunebox/internal/infra/storage"
	"github.com/osa030/tunebox/internal/infra/voice/sim"
)

var (
	app        = kingpin.New("tunebox-server", "tunebox multi-tenant playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	jsonLogs   = app.Flag("json", "Write JSON logs to stdout").Bool()

	// list-strategies command
	listStrategiesCmd = app.Command("list-strategies", "List available resolver strategies and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listStrategiesCmd.FullCommand() {
		printStrategies()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		JSON:   *jsonLogs,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	err = run(cfg)
	if err != nil {
		zlog.Error().Msgf("Server error: %v", err)
	}
	if closeLog != nil {
		_ = closeLog()
	}
	if err != nil {
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if !cfg.Metrics.Disabled {
		m = metrics.New()
	}

	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			zlog.Error().Msgf("Failed to close storage: %v", err)
		}
	}()

	store := state.NewStore(state.Config{
		Limits: state.Limits{
			MaxQueueSize:   cfg.Playback.MaxQueueSize,
			MaxHistorySize: cfg.Playback.MaxHistorySize,
			MaxBackHistory: cfg.Playback.MaxBackHistory,
		},
		PersistTimeout: cfg.Storage.PersistTimeout(),
	}, backend, m)
	sched := queue.NewScheduler(store)

	deps := resolver.Deps{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
	if cfg.Spotify.ClientID != "" && cfg.Spotify.ClientSecret != "" {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		deps.Spotify = spotifyClient
	}
	res, err := resolver.NewFromConfig(cfg.Resolver, deps, m)
	if err != nil {
		return errors.Wrap(err, "failed to create resolver")
	}

	dialer := sim.NewDialer(sim.Config{
		TrackDuration: time.Duration(cfg.Voice.TrackDurationMs) * time.Millisecond,
		Channels:      voiceChannels(cfg.Voice.Channels),
	})

	pb := playback.NewManager(playback.Config{
		ResolveTimeout: cfg.Playback.ResolveTimeout(),
		IdleGrace:      cfg.Playback.IdleGrace(),
		BackGrace:      cfg.Playback.BackGrace(),
		SkipWindow:     cfg.Playback.SkipWindow(),
	}, store, sched, res, m)
	sup := supervisor.New(supervisor.Config{
		ConnectTimeout:    cfg.Connection.ConnectTimeout(),
		MaxRetries:        cfg.Connection.MaxRetries,
		MaxBackoff:        cfg.Connection.MaxBackoff(),
		Stabilize:         cfg.Connection.Stabilize(),
		KeepaliveInterval: cfg.Connection.KeepaliveInterval(),
		ReconnectDelay:    cfg.Connection.ReconnectDelay(),
		ValidateTimeout:   cfg.Playback.ResolveTimeout(),
	}, dialer, pb, store, sched, res, m)
	notifier := notification.NewManager(m)

	service := session.NewService(session.Config{
		ResolveTimeout:  cfg.Playback.ResolveTimeout(),
		ListPreviewSize: cfg.Playback.ListPreviewSize,
		ConnectRetries:  cfg.Connection.MaxRetries,
		SkipResume:      cfg.Server.SkipResume,
	}, session.Deps{
		Store:      store,
		Queue:      sched,
		Resolver:   res,
		Playback:   pb,
		Navigator:  playback.NewNavigator(pb),
		Supervisor: sup,
		Notifier:   notifier,
		Metrics:    m,
	})

	playbackService := apiconnect.NewPlaybackService(service)
	rpcPath, rpcHandler := playbackService.Handler(
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)

	var ready atomic.Bool
	router := httpserver.NewRouter(httpserver.Options{
		RPCPath:     rpcPath,
		RPC:         rpcHandler,
		Events:      events.NewHandler(notifier, cfg.Server.AllowedOrigins),
		MetricsPath: cfg.Metrics.Path,
		Metrics:     metricsHandler(m),
		Ready:       ready.Load,

		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
	})

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		if err := service.Start(gctx); err != nil {
			return errors.Wrap(err, "failed to start session service")
		}
		ready.Store(true)
		zlog.Info().Msg("Session service ready")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
		defer cancel()

		// Close streams first so Shutdown does not wait on them
		playbackService.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
		service.Close(shutdownCtx)
		return nil
	})

	err = g.Wait()
	zlog.Info().Msg("Server stopped")
	return err
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler()
}

// voiceChannels converts the configured listener channels.
func voiceChannels(in map[string][]string) map[tenant.ID][]tenant.ChannelID {
	out := make(map[tenant.ID][]tenant.ChannelID, len(in))
	for t, chans := range in {
		for _, ch := range chans {
			out[tenant.ID(t)] = append(out[tenant.ID(t)], tenant.ChannelID(ch))
		}
	}
	return out
}

// printStrategies prints available resolver strategies.
func printStrategies() {
	fmt.Println("Available Resolver Strategies:")
	for _, s := range resolver.StrategyTypes() {
		fmt.Printf("  %-10s - %s [settings: %s]\n", s.Type, s.Description, strings.Join(s.Settings, ", "))
	}
}
