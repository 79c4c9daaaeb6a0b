// Package adapters reads one scalar occupation value from a monitored peer.
//
// Each adapter implements Adapter and is driven by a poller on a fixed
// interval. Available kinds:
//   - grpc             calls HawkeyeService.GetCpuStats on the peer
//   - http             any JSON endpoint, value extracted with a gjson path
//   - prometheus       instant PromQL query
//   - victoriametrics  instant MetricsQL query on the Prometheus-compatible API
//
// Adapters do a single attempt per Read. Retrying is the poller's next tick.
package adapters

import (
	"context"
	"errors"
	"math"
)

// Adapter reads the current value of a peer.
//
// Read must respect ctx cancellation and deadlines and must never panic.
type Adapter interface {
	Read(ctx context.Context) (float32, error)

	// Name returns the adapter kind, e.g. "grpc" or "http".
	Name() string
}

var errNonFinite = errors.New("value is not a finite number")

// toFloat32 narrows v, rejecting NaN, infinities and values out of float32
// range.
func toFloat32(v float64) (float32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxFloat32 {
		return 0, errNonFinite
	}
	return float32(v), nil
}
