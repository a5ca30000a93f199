package classifier

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single provider call
const DefaultTimeout = 15 * time.Second

// Invoker bounds provider calls by a timeout and normalizes their errors.
// It never retries.
type Invoker struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInvoker wraps provider. A non-positive timeout uses DefaultTimeout.
func NewInvoker(provider Provider, timeout time.Duration, logger *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

type invokeResult struct {
	output *Output
	err    error
}

// Invoke runs one provider call. When the timeout elapses the call's context
// is cancelled and a TIMEOUT error is returned without waiting for the provider.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		out, err := i.provider.Invoke(callCtx, req)
		done <- invokeResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, i.normalize(callCtx, res.err)
		}
		return res.output, nil

	case <-callCtx.Done():
		return nil, i.normalize(callCtx, callCtx.Err())
	}
}

func (i *Invoker) normalize(callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		i.logger.Warn("Provider call timed out",
			slog.Duration("timeout", i.timeout),
		)
		return &ProviderError{Kind: KindTimeout, Message: "provider call exceeded " + i.timeout.String(), Err: err}
	}
	return Classify(err)
}
