package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusAdapter evaluates an instant PromQL query through /api/v1/query.
//
// A vector result is SUMMED across series; a scalar result is taken as is.
// An empty vector is an error: the peer reported nothing.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return KindPrometheus }

// Read implements Adapter.
func (p *PrometheusAdapter) Read(ctx context.Context) (float32, error) {
	v, err := instantQuery(ctx, p.HTTPClient, p.ServerURL, p.Query)
	if err != nil {
		return 0, fmt.Errorf("prometheus: %w", err)
	}
	return toFloat32(v)
}

// PrometheusQueryResponse is the envelope of /api/v1/query (Prometheus and
// compatible systems).
type PrometheusQueryResponse struct {
	Status    string              `json:"status"`
	ErrorType string              `json:"errorType,omitempty"`
	Error     string              `json:"error,omitempty"`
	Data      PrometheusQueryData `json:"data"`
}

// PrometheusQueryData holds the raw result; its shape depends on ResultType.
type PrometheusQueryData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// PrometheusVectorSample is one series of an instant vector.
type PrometheusVectorSample struct {
	Metric map[string]string `json:"metric"`
	// Value is [ <unix_time_float>, "<value_string>" ]
	Value []any `json:"value"`
}

func instantQuery(ctx context.Context, cli *http.Client, serverURL, query string) (float64, error) {
	if serverURL == "" || query == "" {
		return 0, errors.New("server URL and query are required")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return 0, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var pr PrometheusQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if pr.Status != "success" {
		return 0, fmt.Errorf("query failed: status %s: %s", pr.Status, pr.Error)
	}

	return AggregateInstantResult(pr.Data)
}

// AggregateInstantResult reduces an instant query result to one value.
func AggregateInstantResult(data PrometheusQueryData) (float64, error) {
	switch data.ResultType {
	case "scalar":
		var pair []any
		if err := json.Unmarshal(data.Result, &pair); err != nil {
			return 0, fmt.Errorf("decode scalar: %w", err)
		}
		return parseSamplePair(pair)

	case "vector":
		var series []PrometheusVectorSample
		if err := json.Unmarshal(data.Result, &series); err != nil {
			return 0, fmt.Errorf("decode vector: %w", err)
		}
		if len(series) == 0 {
			return 0, errors.New("empty result")
		}
		var sum float64
		for _, s := range series {
			v, err := parseSamplePair(s.Value)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil

	default:
		return 0, fmt.Errorf("unsupported result type %q", data.ResultType)
	}
}

func parseSamplePair(pair []any) (float64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("invalid value pair length: %d", len(pair))
	}
	switch v := pair[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse value: %w", err)
		}
		return f, nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
