package classifier

import (
	"errors"
	"fmt"
)

// ErrorKind is the normalized provider failure category
type ErrorKind string

// Provider error kinds
const (
	KindAuth            ErrorKind = "AUTH"
	KindRateLimit       ErrorKind = "RATE_LIMIT"
	KindContentRejected ErrorKind = "CONTENT_REJECTED"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindUnknown         ErrorKind = "UNKNOWN_PROVIDER"
)

// Sentinels for errors.Is matching on kind
var (
	ErrAuth            = &ProviderError{Kind: KindAuth}
	ErrRateLimit       = &ProviderError{Kind: KindRateLimit}
	ErrContentRejected = &ProviderError{Kind: KindContentRejected}
	ErrTimeout         = &ProviderError{Kind: KindTimeout}
	ErrUnknownProvider = &ProviderError{Kind: KindUnknown}
)

// ProviderError is a classified failure of a single provider call
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider error %s: %s", e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches any ProviderError of the same kind
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Classify normalizes any error into a *ProviderError
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Kind: KindUnknown, Err: err}
}
