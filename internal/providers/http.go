package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/pkg/units"
)

const maxResponseBytes = 8 << 20

// Recorder receives one observation per upstream call
type Recorder interface {
	RecordUpstreamCall(provider string, duration time.Duration, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(string, time.Duration, bool) {}

// Option configures a provider client
type Option func(*httpClient)

// WithHTTPClient overrides the underlying *http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) { h.client = c }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(h *httpClient) {
		if r != nil {
			h.recorder = r
		}
	}
}

// httpClient performs JSON requests with a per-call timeout and maps
// failures onto the provider error taxonomy.
type httpClient struct {
	name     string
	client   *http.Client
	timeout  time.Duration
	headers  map[string]string
	recorder Recorder
}

func newHTTPClient(name string, timeout time.Duration, headers map[string]string, opts ...Option) *httpClient {
	h := &httpClient{
		name:     name,
		client:   &http.Client{},
		timeout:  timeout,
		headers:  headers,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *httpClient) getJSON(ctx context.Context, op, url string, out interface{}) error {
	return h.do(ctx, op, http.MethodGet, url, nil, out)
}

func (h *httpClient) postJSON(ctx context.Context, op, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.NewProviderError(h.name, op, models.ErrMalformedResponse, err)
	}
	return h.do(ctx, op, http.MethodPost, url, payload, out)
}

func (h *httpClient) do(ctx context.Context, op, method, url string, body []byte, out interface{}) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return models.NewProviderError(h.name, op, models.ErrMalformedResponse, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range h.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.recorder.RecordUpstreamCall(h.name, time.Since(start), false)
		return models.NewProviderError(h.name, op, models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		h.recorder.RecordUpstreamCall(h.name, time.Since(start), false)
		return models.NewStatusError(h.name, op, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		h.recorder.RecordUpstreamCall(h.name, time.Since(start), false)
		if ctx.Err() != nil {
			return models.NewProviderError(h.name, op, models.ErrProviderUnavailable, ctx.Err())
		}
		return models.NewProviderError(h.name, op, models.ErrMalformedResponse, err)
	}

	h.recorder.RecordUpstreamCall(h.name, time.Since(start), true)
	return nil
}

// flexInt decodes integers sent either as JSON numbers or strings.
// Unparsable values are left invalid and defaulted by the caller.
type flexInt struct {
	value int64
	valid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.value, f.valid = n, true
		return nil
	}
	if n, ok := units.ParseBigInt(s); ok && n.IsInt64() {
		f.value, f.valid = n.Int64(), true
	}
	return nil
}

// Or returns the decoded value or def
func (f flexInt) Or(def int) int {
	if !f.valid {
		return def
	}
	return int(f.value)
}

// decimals applies the canonical decimals default
func (f flexInt) decimals() int {
	if !f.valid {
		return units.DefaultDecimals
	}
	return units.NormalizeDecimals(int(f.value))
}

// flexFloat decodes prices and percent changes sent as numbers or signed strings
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		v, err := units.ParseSignedPercent(strings.Trim(raw, `"`))
		if err == nil && strings.Trim(raw, `" `) != "" {
			f.value, f.valid = v, true
		}
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		f.value, f.valid = v, true
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return models.UnknownSymbol
	}
	return symbol
}

func normalizeName(name, symbol string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return symbol
	}
	return name
}
