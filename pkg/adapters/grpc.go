package adapters

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/hawkeye/pkg/api/hawkeye"
	hawkeyetls "github.com/HatiCode/hawkeye/pkg/tls"
)

// DefaultCPUWindow is the sampling window, in seconds, requested from peers.
const DefaultCPUWindow = 1

// GRPCAdapter polls a peer running HawkeyeService.
//
// The address may carry an http:// or https:// scheme; https, or an enabled
// TLS config, switches the connection to TLS.
type GRPCAdapter struct {
	Address string
	Window  int64

	conn   *grpc.ClientConn
	client *hawkeye.PeerClient
}

// NewGRPCAdapter creates the client connection. Dialing is lazy: an
// unreachable peer surfaces as a Read error, not here.
func NewGRPCAdapter(address string, window int64, tlsCfg hawkeyetls.Config, opts ...grpc.DialOption) (*GRPCAdapter, error) {
	target, secure := normalizeTarget(address)
	if target == "" {
		return nil, fmt.Errorf("grpc adapter: invalid address %q", address)
	}
	if window <= 0 {
		window = DefaultCPUWindow
	}

	var creds credentials.TransportCredentials
	if tlsCfg.Enabled || secure {
		tlsCfg.Enabled = true
		c, err := tlsCfg.ClientCredentials()
		if err != nil {
			return nil, fmt.Errorf("grpc adapter tls: %w", err)
		}
		creds = c
	} else {
		creds = insecure.NewCredentials()
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc adapter: create client for %s: %w", target, err)
	}

	return &GRPCAdapter{
		Address: address,
		Window:  window,
		conn:    conn,
		client:  hawkeye.NewPeerClient(conn),
	}, nil
}

func (g *GRPCAdapter) Name() string { return KindGRPC }

// Read implements Adapter.
func (g *GRPCAdapter) Read(ctx context.Context) (float32, error) {
	resp, err := g.client.GetCpuStats(ctx, wrapperspb.Int64(g.Window))
	if err != nil {
		return 0, fmt.Errorf("get cpu stats from %s: %w", g.Address, err)
	}
	return toFloat32(float64(resp.GetValue()))
}

// Close releases the client connection.
func (g *GRPCAdapter) Close() error {
	return g.conn.Close()
}

func normalizeTarget(address string) (target string, secure bool) {
	switch {
	case strings.HasPrefix(address, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(address, "https://"), "/"), true
	case strings.HasPrefix(address, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(address, "http://"), "/"), false
	default:
		return address, false
	}
}
