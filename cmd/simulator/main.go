// Command simulator runs the authority: it owns the world and the entity
// registry, serves the entity-state operations with committed results, and
// applies intents forwarded by proxies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/entity-state-sim/internal/config"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/nbi"
	"github.com/signalsfoundry/entity-state-sim/internal/observability"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/authority"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/journal"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/publisher"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/world"
	"github.com/signalsfoundry/entity-state-sim/timectrl"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadAuthority()
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(2)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := cfg.Log.Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves on lis until ctx is cancelled. A clean shutdown returns nil.
func run(ctx context.Context, cfg config.Authority, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	promReg := prometheus.NewRegistry()
	collector, err := observability.NewCollector(promReg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	intents, err := observability.NewIntentCollector(promReg)
	if err != nil {
		return fmt.Errorf("init intent metrics: %w", err)
	}

	scene := world.NewScene()
	if err := loadWorld(ctx, scene, cfg.WorldPath, log); err != nil {
		return err
	}
	reg := registry.New(scene, log, registry.WithMetricsRecorder(collector))
	reg.Populate(ctx, scene)

	authOpts := []authority.Option{authority.WithIntentRecorder(intents)}
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		authOpts = append(authOpts, authority.WithJournal(store))
		log.Info(ctx, "journaling intents", logging.String("path", cfg.JournalPath))
	}
	auth := authority.New(scene, reg, log, authOpts...)
	dispatcher := authority.NewDispatcher(auth, log, authority.WithQueueRecorder(intents))

	pub := publisher.New(reg, log)
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, timectrl.ParseMode(cfg.ClockMode))
	tc.Speedup = cfg.Speedup
	tc.AddListener(pub.OnTick)

	server := nbi.NewServer(log, collector)
	nbi.RegisterSimulationStateServer(server, nbi.NewStateService(auth, log, nbi.WithPublisher(pub)))
	nbi.RegisterAuthorityServer(server, nbi.NewAuthorityService(dispatcher, reg, log))

	metrics := observability.NewMetricsServer(cfg.MetricsAddr, collector.Handler(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(dispatcher.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(tc.Run(gctx)) })
	g.Go(func() error { return metrics.Run(gctx) })
	g.Go(func() error {
		log.Info(gctx, "starting entity-state gRPC server",
			logging.String("addr", lis.Addr().String()),
			logging.String("role", "authority"),
			logging.String("clock", cfg.ClockMode),
		)
		if err := server.Serve(lis); err != nil {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down simulator")
		nbi.Shutdown(server, 5*time.Second)
		return nil
	})
	return g.Wait()
}

// loadWorld populates scene from path. A missing file leaves the world empty.
func loadWorld(ctx context.Context, scene *world.Scene, path string, log logging.Logger) error {
	if path == "" {
		return nil
	}
	summary, err := world.LoadSceneFile(scene, path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn(ctx, "world file not found; starting empty", logging.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load world: %w", err)
	}
	log.Info(ctx, "loaded world",
		logging.String("path", path),
		logging.Strings("prototypes", summary.Prototypes),
		logging.Int("entities", len(summary.Entities)),
		logging.Int("attached", summary.Attached),
	)
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
