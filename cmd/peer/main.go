// Command peer is a stand-in for a monitored node. It reports a simulated
// CPU occupation over every protocol the collector can poll:
//
//   - gRPC  hawkeye.HawkeyeService/GetCpuStats   (grpc adapter)
//   - HTTP  GET /stats -> {"cpu": {"usage": 0.42}} (http adapter, valuePath cpu.usage)
//   - HTTP  GET /metrics -> hawkeye_peer_cpu_occupation (prometheus adapter)
//
// Usage:
//
//	peer -grpc-listen=:50052 -http-listen=:9100
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/hawkeye/pkg/api/hawkeye"
	"github.com/HatiCode/hawkeye/pkg/httpx"
)

// load is a bounded random walk standing in for CPU occupation.
type load struct {
	mu    sync.Mutex
	value float64
	rng   *rand.Rand
}

func newLoad(seed uint64) *load {
	return &load{value: 0.5, rng: rand.New(rand.NewPCG(seed, seed))}
}

func (l *load) step() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value += (l.rng.Float64() - 0.5) * 0.2
	l.value = min(max(l.value, 0), 1)
	return l.value
}

func (l *load) current() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

type cpuServer struct {
	load *load
}

// GetCpuStats reports the occupation averaged over the requested window,
// which the simulation treats as the current value.
func (s *cpuServer) GetCpuStats(_ context.Context, in *wrapperspb.Int64Value) (*wrapperspb.FloatValue, error) {
	if in.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "window must be positive")
	}
	return wrapperspb.Float(float32(s.load.current())), nil
}

func statsHandler(l *load) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"cpu": map[string]float64{"usage": l.current()},
		})
	}
}

func main() {
	grpcListen := flag.String("grpc-listen", ":50052", "gRPC listen address")
	httpListen := flag.String("http-listen", ":9100", "HTTP listen address")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "hawkeye-peer")

	l := newLoad(uint64(time.Now().UnixNano()))

	reg := prometheus.NewRegistry()
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hawkeye_peer_cpu_occupation",
		Help: "Simulated CPU occupation between 0 and 1",
	}, l.current)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.step()
			}
		}
	}()

	grpcServer := grpc.NewServer()
	hawkeye.RegisterPeerServer(grpcServer, &cpuServer{load: l})

	lis, err := net.Listen("tcp", *grpcListen)
	if err != nil {
		log.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	go func() {
		log.Info("grpc server listening", "address", *grpcListen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server failed", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /stats", statsHandler(l))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", httpx.HealthHandler())

	httpServer := httpx.NewServer(*httpListen, mux, log)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	grpcServer.GracefulStop()
	if err := httpServer.Stop(5 * time.Second); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
}
