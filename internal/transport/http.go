package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/domain"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// HTTPTransport posts service calls as JSON to a single API endpoint.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPTransport creates a transport for the configured endpoint
func NewHTTPTransport(cfg *config.TransportConfig, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Call sends one service call.
func (t *HTTPTransport) Call(ctx context.Context, service string, args map[string]any) (*Result, error) {
	body := make(map[string]any, len(args)+2)
	for k, v := range args {
		body[k] = v
	}
	body["api_key"] = t.apiKey
	body["api_service"] = service

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("encoding arguments: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &domain.TransportFailure{Service: service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("unexpected http status %d", resp.StatusCode)}
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize))
	var values map[string]any
	if err := decoder.Decode(&values); err != nil {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if _, ok := values["result"]; !ok {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("response has no result code")}
	}

	res := NewResult(values)
	t.logger.Debug("service call",
		"service", service,
		"result", res.Code,
		"duration", time.Since(start),
	)
	return res, nil
}
