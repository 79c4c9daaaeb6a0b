// Command collector polls a set of peers for their occupation, buffers the
// readings in a bounded history owned by a single storage actor, and serves
// the buffered samples over HTTP, gRPC and an optional Redis-protocol
// listener.
//
// Usage:
//
//	collector -config-file=/etc/hawkeye/collector.yaml
//
// Environment variables:
//
//	HTTP_LISTEN    - HTTP listen address (default: :8080)
//	GRPC_LISTEN    - gRPC listen address (default: :50051)
//	RESP_LISTEN    - RESP listen address, empty disables (default: "")
//	STORAGE        - history backend: memory, redis (default: memory)
//	STORAGE_SIZE   - history capacity in samples (default: 1024)
//	MAILBOX_SIZE   - storage actor mailbox capacity (default: 128)
//	QUERY_TIMEOUT  - bound on front-end calls into the actor (default: 2s)
//	CONFIG_FILE    - YAML file with the peer list
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/hawkeye/cmd/collector/config"
	"github.com/HatiCode/hawkeye/cmd/collector/logger"
	"github.com/HatiCode/hawkeye/cmd/collector/metrics"
	"github.com/HatiCode/hawkeye/cmd/collector/resp"
	"github.com/HatiCode/hawkeye/cmd/collector/router"
	"github.com/HatiCode/hawkeye/cmd/collector/service"
	"github.com/HatiCode/hawkeye/cmd/collector/store"
	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/adapters"
	"github.com/HatiCode/hawkeye/pkg/api/hawkeye"
	"github.com/HatiCode/hawkeye/pkg/httpx"
	"github.com/HatiCode/hawkeye/pkg/poller"
)

// version is set via ldflags at build time
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ParseFlags()
	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting hawkeye collector",
		"version", version,
		"http_listen", cfg.HTTPListen,
		"grpc_listen", cfg.GRPCListen,
		"resp_listen", cfg.RESPListen,
		"storage", cfg.Storage,
		"storage_size", cfg.StorageSize,
		"mailbox_size", cfg.MailboxSize,
		"peers", len(cfg.Peers),
		"tls_enabled", cfg.TLS.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("collector failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	history, err := store.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}
	defer closeQuietly(log, "history", history)

	storageActor, root, err := actor.New(history, cfg.MailboxSize, log.With("component", "actor"), m)
	if err != nil {
		return fmt.Errorf("failed to create storage actor: %w", err)
	}

	pollers, err := buildPollers(cfg, root, log, m)
	if err != nil {
		root.Close()
		return err
	}
	defer func() {
		for _, p := range pollers {
			closeQuietly(log, "adapter", p.adapter)
		}
	}()

	var serverTLS *tls.Config
	if cfg.TLS.Enabled {
		serverTLS, err = cfg.TLS.ServerConfig()
		if err != nil {
			root.Close()
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
	}

	httpSender := root.Clone()
	grpcSender := root.Clone()
	respSender := root.Clone()
	// from here on only the clones keep the mailbox open
	root.Close()

	release := func() {
		httpSender.Close()
		grpcSender.Close()
		respSender.Close()
		for _, p := range pollers {
			p.sender.Close()
		}
	}

	httpServer := httpx.NewServer(cfg.HTTPListen, router.SetupRoutes(httpSender, router.Options{
		QueryTimeout: cfg.QueryTimeout,
		Gatherer:     reg,
		Recorder:     m,
		Logger:       log,
	}), log)
	if serverTLS != nil {
		httpServer.SetTLSConfig(serverTLS)
	}

	grpcServer, healthServer, err := newGRPCServer(cfg, grpcSender, log, m)
	if err != nil {
		release()
		return err
	}

	var respServer *resp.Server
	if cfg.RESPListen != "" {
		respServer, err = resp.New(cfg.RESPListen, respSender, cfg.QueryTimeout, log, m)
		if err != nil {
			release()
			return fmt.Errorf("failed to create RESP server: %w", err)
		}
	} else {
		respSender.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// the actor outlives the group context: it stops once every sender is closed
	g.Go(func() error {
		err := storageActor.Run(context.WithoutCancel(gctx))
		if errors.Is(err, actor.ErrMailboxClosed) && gctx.Err() != nil {
			log.Info("storage actor drained", "reason", err)
			return nil
		}
		return err
	})

	for _, p := range pollers {
		g.Go(func() error {
			defer p.sender.Close()
			err := p.poller.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCListen, err)
		}
		log.Info("grpc server listening", "address", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	if respServer != nil {
		g.Go(func() error {
			if err := respServer.Start(); err != nil {
				return fmt.Errorf("resp server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "reason", context.Cause(gctx))

		healthServer.Shutdown()
		grpcServer.GracefulStop()
		grpcSender.Close()

		if err := httpServer.Stop(shutdownTimeout); err != nil {
			log.Error("http server shutdown error", "error", err)
		}
		httpSender.Close()

		if respServer != nil {
			if err := respServer.Stop(); err != nil {
				log.Error("resp server shutdown error", "error", err)
			}
			respSender.Close()
		}
		return nil
	})

	return g.Wait()
}

type peerWorker struct {
	poller  *poller.Poller
	adapter adapters.Adapter
	sender  *actor.Sender
}

func buildPollers(cfg *config.Config, root *actor.Sender, log *slog.Logger, m *metrics.Metrics) ([]peerWorker, error) {
	workers := make([]peerWorker, 0, len(cfg.Peers))
	cleanup := func() {
		for _, w := range workers {
			w.sender.Close()
			closeQuietly(log, "adapter", w.adapter)
		}
	}

	for _, peer := range cfg.Peers {
		adapter, err := adapters.New(peer.Kind, peer.AdapterConfig())
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("peer %q: failed to create adapter: %w", peer.Identifier, err)
		}

		sender := root.Clone()
		p, err := poller.New(peer.Identifier, adapter, sender, peer.Interval(), peer.Timeout, log, m)
		if err != nil {
			sender.Close()
			closeQuietly(log, "adapter", adapter)
			cleanup()
			return nil, fmt.Errorf("peer %q: %w", peer.Identifier, err)
		}

		log.Info("peer configured",
			"peer", peer.Identifier,
			"kind", adapter.Name(),
			"address", peer.Address,
			"interval", peer.Interval(),
		)
		workers = append(workers, peerWorker{poller: p, adapter: adapter, sender: sender})
	}
	return workers, nil
}

func newGRPCServer(cfg *config.Config, sender *actor.Sender, log *slog.Logger, m *metrics.Metrics) (*grpc.Server, *health.Server, error) {
	collector, err := service.New(sender, cfg.QueryTimeout, log, m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create collector service: %w", err)
	}

	var opts []grpc.ServerOption
	if cfg.TLS.Enabled {
		creds, err := cfg.TLS.ServerCredentials()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load gRPC TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	hawkeye.RegisterCollectorServer(grpcServer, collector)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(hawkeye.CollectorServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return grpcServer, healthServer, nil
}

// closeQuietly closes v if it holds resources.
func closeQuietly(log *slog.Logger, what string, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("close failed", "resource", what, "error", err)
	}
}
