// Command state-proxy serves the entity-state operations on a node that does
// not own the world. Reads are answered from a replica of the authority's
// registry; mutations are validated locally and forwarded as intents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
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
	"github.com/signalsfoundry/entity-state-sim/internal/sim/proxy"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/publisher"
	"github.com/signalsfoundry/entity-state-sim/timectrl"
	"golang.org/x/sync/errgroup"
)

// drainTimeout bounds how long queued intents may take to reach the
// authority after shutdown begins.
var drainTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadProxy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "state-proxy: %v\n", err)
		os.Exit(2)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "state-proxy: invalid configuration: %v\n", err)
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
		log.Error(ctx, "state-proxy exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Proxy, log logging.Logger, lis net.Listener) error {
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

	conn, err := nbi.Dial(cfg.AuthorityAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	log = log.With(logging.String("origin", cfg.Origin))
	authClient := nbi.NewAuthorityClient(conn, log,
		nbi.WithForwardRecorder(intents),
		nbi.WithRetry(cfg.RetryAttempts, cfg.RetryBackoff),
	)
	replica := nbi.NewReplica(authClient, log)
	p := proxy.New(replica, authClient, log, proxy.WithOrigin(cfg.Origin))

	pub := publisher.New(replica, log)
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.RefreshInterval, timectrl.RealTime)
	tc.AddListener(pub.OnTick)

	server := nbi.NewServer(log, collector)
	nbi.RegisterSimulationStateServer(server, nbi.NewStateService(p, log, nbi.WithPublisher(pub)))

	metrics := observability.NewMetricsServer(cfg.MetricsAddr, collector.Handler(), log)

	// The outbox outlives ctx so intents accepted before shutdown still
	// reach the authority.
	outboxCtx, cancelOutbox := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelOutbox()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(authClient.Run(outboxCtx)) })
	g.Go(func() error { return ignoreCancel(replica.Run(gctx, cfg.RefreshInterval)) })
	g.Go(func() error { return ignoreCancel(tc.Run(gctx)) })
	g.Go(func() error { return metrics.Run(gctx) })
	g.Go(func() error {
		log.Info(gctx, "starting entity-state gRPC server",
			logging.String("addr", lis.Addr().String()),
			logging.String("role", "proxy"),
			logging.String("authority", cfg.AuthorityAddr),
		)
		if err := server.Serve(lis); err != nil {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down state-proxy",
			logging.Int("pending_intents", authClient.Pending()))
		nbi.Shutdown(server, 5*time.Second)
		authClient.Close()
		time.AfterFunc(drainTimeout, cancelOutbox)
		return nil
	})
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
