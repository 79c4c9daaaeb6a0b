package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter calls a REST endpoint and extracts the peer's value from the
// JSON response with a gjson path.
//
// When the path yields an array (e.g. "hosts.#.cpu"), the elements are
// summed. Numeric strings are accepted.
//
// Body and header values are text templates. Available variables:
//
//	{{.Now}}         current time as Unix seconds
//	{{.NowMilli}}    current time as Unix milliseconds
//	{{.NowRFC3339}}  current time as RFC3339
//
// plus every entry of TemplateVars.
type HTTPAdapter struct {
	// URL is the endpoint to call (required).
	URL string

	// Method defaults to GET.
	Method string

	Headers map[string]string
	Body    string

	// ValuePath is the gjson path of the value (required).
	ValuePath string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return KindHTTP }

// Read implements Adapter.
func (h *HTTPAdapter) Read(ctx context.Context) (float32, error) {
	if err := h.ValidateConfig(); err != nil {
		return 0, fmt.Errorf("http adapter: %w", err)
	}

	now := time.Now().UTC()
	templateData := map[string]any{
		"Now":        now.Unix(),
		"NowMilli":   now.UnixMilli(),
		"NowRFC3339": now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return 0, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return 0, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return 0, errors.New("response is not valid JSON")
	}

	result := gjson.GetBytes(respBody, h.ValuePath)
	if !result.Exists() {
		return 0, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}

	v, err := sumResult(result)
	if err != nil {
		return 0, fmt.Errorf("value path %q: %w", h.ValuePath, err)
	}
	return toFloat32(v)
}

func sumResult(r gjson.Result) (float64, error) {
	if !r.IsArray() {
		return numberOf(r)
	}
	elems := r.Array()
	if len(elems) == 0 {
		return 0, errors.New("empty array")
	}
	var sum float64
	for i, e := range elems {
		v, err := numberOf(e)
		if err != nil {
			return 0, fmt.Errorf("element %d: %w", i, err)
		}
		sum += v
	}
	return sum, nil
}

func numberOf(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", r.Str, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected JSON type %s", r.Type)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks the required fields and that templates parse.
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	if h.Body != "" {
		if _, err := template.New("body").Parse(h.Body); err != nil {
			return fmt.Errorf("invalid body template: %w", err)
		}
	}
	for k, v := range h.Headers {
		if _, err := template.New(k).Parse(v); err != nil {
			return fmt.Errorf("invalid header %s template: %w", k, err)
		}
	}
	return nil
}
