// Package fulfillment completes instant services by calling their upstream
// provider and driving the request to a terminal state.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentdesk/internal/models"
	"agentdesk/internal/money"
)

var ErrProviderNotConfigured = errors.New("provider not configured")

// maxResultBytes caps how much of a provider response is kept as the result
// payload.
const maxResultBytes = 1 << 20

// Provider performs the upstream work for one request and returns the result
// payload to store on the request.
type Provider interface {
	Fulfill(ctx context.Context, req models.ServiceRequest) (models.Payload, error)
}

type ProviderSource interface {
	ProviderFor(svc models.Service) (Provider, error)
}

type fulfillRequest struct {
	RequestID string         `json:"request_id"`
	ServiceID string         `json:"service_id"`
	Reference string         `json:"reference"`
	Amount    string         `json:"amount"`
	FormData  models.Payload `json:"form_data"`
}

// HTTPProvider posts the request to a provider endpoint and treats any 2xx
// JSON body as the result.
type HTTPProvider struct {
	url        string
	httpClient *http.Client
}

func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fulfill(ctx context.Context, req models.ServiceRequest) (models.Payload, error) {
	if p.url == "" {
		return nil, ErrProviderNotConfigured
	}
	body, err := json.Marshal(fulfillRequest{
		RequestID: req.ID,
		ServiceID: req.ServiceID,
		Reference: req.Reference,
		Amount:    money.Format(req.Amount),
		FormData:  req.FormData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fulfillment payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("provider returned a non-JSON body")
	}
	return models.Payload(raw), nil
}

// Registry resolves a service to its provider. Services without a provider
// URL resolve to ErrProviderNotConfigured.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewHTTPRegistry builds an HTTPProvider for every instant service that has
// a provider URL.
func NewHTTPRegistry(services []models.Service, timeout time.Duration) *Registry {
	r := NewRegistry()
	for _, svc := range services {
		if svc.Instant && strings.TrimSpace(svc.ProviderURL) != "" {
			r.Register(svc.ID, NewHTTPProvider(svc.ProviderURL, timeout))
		}
	}
	return r
}

func (r *Registry) Register(serviceID string, provider Provider) {
	r.providers[serviceID] = provider
}

func (r *Registry) ProviderFor(svc models.Service) (Provider, error) {
	provider, ok := r.providers[svc.ID]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return provider, nil
}
