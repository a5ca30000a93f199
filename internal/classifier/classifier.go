package classifier

import (
	"context"
	"encoding/json"
)

// Request is the normalized input of one classification call
type Request struct {
	Payload   []byte
	MediaType string
	Options   map[string]string
}

// Label is one scored classification label
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Output is the normalized result of one call. Raw keeps the provider's
// original response body for callers that need provider-specific fields.
type Output struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Labels     []Label         `json:"labels,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Provider is a remote classifier. Implementations must be safe for
// concurrent use and must abort the call when ctx is done.
type Provider interface {
	Invoke(ctx context.Context, req Request) (*Output, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, req Request) (*Output, error)

// Invoke calls f(ctx, req)
func (f ProviderFunc) Invoke(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}
