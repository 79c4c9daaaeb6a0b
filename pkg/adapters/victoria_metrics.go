package adapters

import (
	"context"
	"fmt"
	"net/http"
)

// VictoriaMetricsAdapter evaluates an instant MetricsQL query through the
// Prometheus-compatible /api/v1/query endpoint of VictoriaMetrics. Results
// are reduced the same way as PrometheusAdapter.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return KindVictoriaMetrics }

// Read implements Adapter.
func (v *VictoriaMetricsAdapter) Read(ctx context.Context) (float32, error) {
	val, err := instantQuery(ctx, v.HTTPClient, v.ServerURL, v.Query)
	if err != nil {
		return 0, fmt.Errorf("victoria-metrics: %w", err)
	}
	return toFloat32(val)
}
