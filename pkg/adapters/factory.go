package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/HatiCode/hawkeye/pkg/httpx"
	hawkeyetls "github.com/HatiCode/hawkeye/pkg/tls"
)

// Kinds accepted by New.
const (
	KindGRPC            = "grpc"
	KindHTTP            = "http"
	KindPrometheus      = "prometheus"
	KindVictoriaMetrics = "victoriametrics"
)

// Kinds lists every supported adapter kind.
func Kinds() []string {
	return []string{KindGRPC, KindHTTP, KindPrometheus, KindVictoriaMetrics}
}

// New creates an adapter from its kind and a generic configuration map.
//
// Common keys: "address" (grpc) or "url" (http, prometheus, victoriametrics),
// and the TLS keys "tls", "tlsCertFile", "tlsKeyFile", "tlsCAFile",
// "tlsServerName".
//
// Returns an error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string) (Adapter, error) {
	switch kind {
	case KindGRPC:
		return newGRPC(config)
	case KindHTTP:
		return newHTTP(config)
	case KindPrometheus:
		return newPrometheus(config)
	case KindVictoriaMetrics:
		return newVictoriaMetrics(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be grpc, http, prometheus, or victoriametrics)", kind)
	}
}

func tlsFromConfig(config map[string]string) (hawkeyetls.Config, error) {
	cfg := hawkeyetls.Config{
		CertFile:   config["tlsCertFile"],
		KeyFile:    config["tlsKeyFile"],
		CAFile:     config["tlsCAFile"],
		ServerName: config["tlsServerName"],
	}
	if v := config["tls"]; v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid 'tls' value %q: %w", v, err)
		}
		cfg.Enabled = enabled
	}
	return cfg, cfg.Validate()
}

// httpClientFromConfig returns nil when TLS is off; adapters then fall back to
// their default client.
func httpClientFromConfig(config map[string]string) (*http.Client, error) {
	tlsCfg, err := tlsFromConfig(config)
	if err != nil {
		return nil, err
	}
	if !tlsCfg.Enabled {
		return nil, nil
	}
	return httpx.NewClient(tlsCfg, 10*time.Second)
}

func newGRPC(config map[string]string) (Adapter, error) {
	address := config["address"]
	if address == "" {
		return nil, fmt.Errorf("grpc adapter requires 'address' config")
	}

	tlsCfg, err := tlsFromConfig(config)
	if err != nil {
		return nil, err
	}

	window := int64(DefaultCPUWindow)
	if v := config["window"]; v != "" {
		window, err = strconv.ParseInt(v, 10, 64)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid 'window' value %q: must be a positive integer", v)
		}
	}

	return NewGRPCAdapter(address, window, tlsCfg)
}

func newPrometheus(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}

	cli, err := httpClientFromConfig(config)
	if err != nil {
		return nil, err
	}

	return &PrometheusAdapter{
		ServerURL:  url,
		Query:      query,
		HTTPClient: cli,
	}, nil
}

func newVictoriaMetrics(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}

	cli, err := httpClientFromConfig(config)
	if err != nil {
		return nil, err
	}

	return &VictoriaMetricsAdapter{
		ServerURL:  url,
		Query:      query,
		HTTPClient: cli,
	}, nil
}

func newHTTP(config map[string]string) (Adapter, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http adapter requires 'url' config")
	}

	valuePath := config["valuePath"]
	if valuePath == "" {
		return nil, fmt.Errorf("http adapter requires 'valuePath' config")
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	cli, err := httpClientFromConfig(config)
	if err != nil {
		return nil, err
	}

	a := &HTTPAdapter{
		URL:          url,
		Method:       method,
		Headers:      headers,
		Body:         config["body"],
		ValuePath:    valuePath,
		TemplateVars: templateVars,
		HTTPClient:   cli,
	}
	if err := a.ValidateConfig(); err != nil {
		return nil, err
	}
	return a, nil
}
