// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/api"
	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/daemon"
	"github.com/Badareenadh/sip-event-processor/internal/dispatch"
	"github.com/Badareenadh/sip-event-processor/internal/health"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/presence"
	"github.com/Badareenadh/sip-event-processor/internal/ratelimit"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/sipstack"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
	"github.com/Badareenadh/sip-event-processor/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const (
	shutdownTimeout   = 30 * time.Second
	statsLogInterval  = 30 * time.Second
	recoveryTimeout   = 60 * time.Second
	telemetryShutdown = 5 * time.Second
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Bootstrap logger until the configuration is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "sipevd",
		Version: version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := strings.TrimSpace(*configPath)
	loader := config.NewLoader(effectiveConfigPath, version)
	loaded, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}
	cfg := &loaded

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "sipevd",
		Version: version,
	})
	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	dm := daemon.NewManager(shutdownTimeout)

	// Tracing. Disabled yields a noop provider, so the hook is always safe.
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "sip-event-processor",
		ServiceVersion: version,
		ServiceID:      cfg.ServiceID,
		ExporterType:   cfg.TelemetryExporter,
		Endpoint:       cfg.TelemetryEndpoint,
		SamplingRate:   cfg.TelemetrySamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialise tracing")
	}
	dm.RegisterShutdownHook("telemetry", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, telemetryShutdown)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	// Persistence. A daemon configured for persistence that cannot reach
	// Mongo must not come up: it would silently drop every dialog on the
	// next restart.
	var mongoClient *store.Client
	if cfg.EnablePersistence {
		mongoClient, err = store.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Str("event", "mongo.connect_failed").Msg("failed to connect to MongoDB")
		}
		dm.RegisterShutdownHook("mongo", func(ctx context.Context) error {
			return mongoClient.Disconnect(ctx)
		})
	}

	subStore := store.NewSubscriptionStore(cfg, mongoClient)
	if code := subStore.Start(); !code.IsOk() {
		logger.Fatal().Str("code", code.String()).Msg("failed to start subscription store")
	}
	dm.RegisterShutdownHook("store", func(context.Context) error {
		subStore.Stop()
		return nil
	})

	// Core pipeline. The stack's dispatch closure is bound before the
	// dispatcher exists; it only runs once traffic flows.
	registry := subscription.NewRegistry()
	blfIndex := subscription.NewBLFIndex()
	slow := slowlog.New(log.WithComponent("slowlog"),
		cfg.SlowWarnThreshold, cfg.SlowErrorThreshold, cfg.SlowCriticalThreshold)

	var disp *dispatch.Dispatcher
	stack, err := sipstack.New(cfg, func(ev *sipevent.Event) result.Code {
		return disp.Dispatch(ev)
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "sip.init_failed").Msg("failed to build sip stack")
	}
	stack.SetRateLimiter(ratelimit.New(ratelimit.DefaultConfig()))
	stack.SetDialogChecker(func(id sipevent.DialogID) bool {
		_, ok := registry.Lookup(id)
		return ok
	})

	disp = dispatch.NewDispatcher(cfg, registry, blfIndex, subStore, stack, slow)

	gate := health.NewStartupGate()

	// Recovery before traffic: place persisted dialogs on their workers so
	// the first presence trigger after takeover finds them.
	recoverCtx, cancelRecover := context.WithTimeout(ctx, recoveryTimeout)
	recovered, err := subStore.LoadActiveSubscriptions(recoverCtx)
	cancelRecover()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "recovery.failed").Msg("failed to load persisted subscriptions")
	}
	for _, rec := range recovered {
		if code := disp.WorkerFor(rec.DialogID).LoadRecovered(rec); !code.IsOk() {
			logger.Warn().
				Str(log.FieldDialogID, string(rec.DialogID)).
				Str("code", code.String()).
				Msg("recovered subscription not placed")
		}
	}
	gate.MarkRecovered()

	if code := disp.Start(); !code.IsOk() {
		logger.Fatal().Str("code", code.String()).Msg("failed to start dispatcher")
	}
	dm.RegisterShutdownHook("dispatcher", func(context.Context) error {
		disp.Stop()
		return nil
	})
	gate.MarkDispatcherUp()

	if code := stack.Start(ctx); !code.IsOk() {
		logger.Fatal().Str("code", code.String()).Msg("failed to start sip stack")
	}
	go func() {
		if err := <-stack.Errors(); err != nil {
			dm.ReportError(fmt.Errorf("sip stack: %w", err))
		}
	}()
	dm.RegisterShutdownHook("sipstack", func(context.Context) error {
		stack.Stop()
		return nil
	})
	gate.MarkSIPUp()

	// Presence feed. Feed trouble degrades BLF freshness, it does not take
	// the daemon down; subscriptions keep serving last known state.
	var feedClient *presence.Client
	var feedRouter *presence.Router
	var failover *presence.FailoverManager
	if len(cfg.PresenceServers) > 0 {
		failover = presence.NewFailoverManager(cfg)
		feedRouter = presence.NewRouter(cfg, blfIndex, disp, slow)
		if code := feedRouter.Start(ctx); !code.IsOk() {
			logger.Error().Str("code", code.String()).Msg("presence router failed to start")
		}
		feedClient = presence.NewClient(cfg, failover, feedRouter)
		if code := feedClient.Start(ctx); !code.IsOk() {
			logger.Error().Str("code", code.String()).Msg("presence client failed to start")
		}
		dm.RegisterShutdownHook("presence", func(context.Context) error {
			feedClient.Stop()
			feedRouter.Stop()
			return nil
		})
	} else {
		logger.Warn().Msg("no presence servers configured, BLF state will not update")
	}

	reaper := dispatch.NewReaper(cfg, disp, subStore)
	if code := reaper.Start(ctx); !code.IsOk() {
		logger.Fatal().Str("code", code.String()).Msg("failed to start reaper")
	}
	dm.RegisterShutdownHook("reaper", func(context.Context) error {
		reaper.Stop()
		return nil
	})

	healthManager := health.NewManager(version)
	healthManager.RegisterChecker(gate)
	healthManager.RegisterChecker(health.NewDispatcherChecker(disp.Started))
	if feedClient != nil {
		healthManager.RegisterChecker(health.NewPresenceChecker(feedClient.Connected))
	}
	var ping func(ctx context.Context) error
	if mongoClient != nil {
		ping = mongoClient.Ping
	}
	healthManager.RegisterChecker(health.NewStoreChecker(subStore.Enabled(), ping))

	if cfg.HTTPEnabled {
		deps := api.Deps{
			Cfg:        cfg,
			Health:     healthManager,
			Registry:   registry,
			Dispatcher: disp,
			Reaper:     reaper,
			Store:      subStore,
			Stack:      stack,
			Slow:       slow,
			Index:      blfIndex,
			Version:    version,
		}
		// Assigned only when constructed; a typed nil inside the
		// interface would defeat the handlers' nil checks.
		if feedClient != nil {
			deps.Presence = feedClient
			deps.Router = feedRouter
			deps.Failover = failover
		}
		apiServer, err := api.NewServer(deps)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build http server")
		}
		if err := apiServer.Start(ctx); err != nil {
			logger.Fatal().Err(err).Str("event", "http.start_failed").Msg("failed to start http server")
		}
		go func() {
			if err := <-apiServer.Errors(); err != nil {
				dm.ReportError(err)
			}
		}()
		dm.RegisterShutdownHook("http", apiServer.Shutdown)
	}

	// Runtime config updates: log level and slow thresholds apply without
	// a restart.
	if effectiveConfigPath != "" {
		go func() {
			err := config.Watch(ctx, effectiveConfigPath, func(update config.RuntimeUpdate) {
				log.SetLevel(update.LogLevel)
				slow.SetThresholds(update.SlowWarnThreshold,
					update.SlowErrorThreshold, update.SlowCriticalThreshold)
			})
			if err != nil {
				logger.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	go logStatsPeriodically(ctx, disp, subStore, stack, feedClient)

	logger.Info().
		Str("version", version).
		Str("service_id", cfg.ServiceID).
		Str("sip_bind", cfg.SIPBindURL).
		Int("workers", disp.NumWorkers()).
		Int("recovered", len(recovered)).
		Msg("sip event processor running")

	if err := dm.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

// logStatsPeriodically emits a one-line operational summary. The full
// breakdown lives on the /stats endpoint.
func logStatsPeriodically(ctx context.Context, disp *dispatch.Dispatcher,
	subStore *store.SubscriptionStore, stack *sipstack.Stack, feed *presence.Client) {
	logger := log.WithComponent("stats")
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ds := disp.Stats()
			ss := stack.Stats()
			ev := logger.Info().
				Int("dialogs_active", ds.DialogsActive).
				Uint64("events_processed", ds.EventsProcessed).
				Uint64("events_dropped", ds.EventsDropped).
				Uint64("notifies_sent", ss.NotifiesSent).
				Int("store_queue", subStore.Stats().QueueDepth)
			if feed != nil {
				ev = ev.Str("feed_state", feed.State())
			}
			ev.Msg("periodic stats")
		}
	}
}
