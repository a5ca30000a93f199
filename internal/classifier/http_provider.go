package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxResponseBytes caps how much of a provider response is read
const maxResponseBytes = 1 << 20

// HTTPConfig holds the remote classifier endpoint settings
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// HTTPProvider calls a remote classifier speaking the normalized JSON contract
type HTTPProvider struct {
	config *HTTPConfig
	client *http.Client
	logger *slog.Logger
}

type classifyRequest struct {
	Model     string            `json:"model,omitempty"`
	MediaType string            `json:"media_type"`
	Content   []byte            `json:"content"`
	Options   map[string]string `json:"options,omitempty"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Labels     []Label `json:"labels"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPProvider creates a provider. Timeouts are enforced by the Invoker
// through the request context, so client may be a plain http.Client.
func NewHTTPProvider(config *HTTPConfig, client *http.Client, logger *slog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		config: config,
		client: client,
		logger: logger,
	}
}

// Client returns the underlying HTTP client
func (p *HTTPProvider) Client() *http.Client {
	return p.client
}

// Invoke posts the payload to <base_url>/v1/classify
func (p *HTTPProvider) Invoke(ctx context.Context, req Request) (*Output, error) {
	body, err := json.Marshal(classifyRequest{
		Model:     p.config.Model,
		MediaType: req.MediaType,
		Content:   req.Payload,
		Options:   req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/v1/classify"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &ProviderError{Kind: KindTimeout, Message: "request aborted", Err: ctx.Err()}
			}
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Kind: KindUnknown, Message: "failed to execute request", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Debug("Failed to close provider response body",
				slog.String("error", err.Error()),
			)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ProviderError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "invalid JSON response", Err: err}
	}
	if parsed.Label == "" && len(parsed.Labels) > 0 {
		best := parsed.Labels[0]
		for _, l := range parsed.Labels[1:] {
			if l.Confidence > best.Confidence {
				best = l
			}
		}
		parsed.Label = best.Name
		parsed.Confidence = best.Confidence
	}
	if parsed.Label == "" {
		return nil, &ProviderError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "empty classification"}
	}

	return &Output{
		Label:      parsed.Label,
		Confidence: parsed.Confidence,
		Labels:     parsed.Labels,
		Raw:        json.RawMessage(raw),
	}, nil
}

// statusError maps a non-2xx response to the error taxonomy
func statusError(status int, body []byte) *ProviderError {
	msg := http.StatusText(status)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		if er.Message != "" {
			msg = er.Message
		} else if er.Error != "" {
			msg = er.Error
		}
	}

	kind := KindUnknown
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		kind = KindContentRejected
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		kind = KindTimeout
	}

	return &ProviderError{Kind: kind, StatusCode: status, Message: msg}
}
