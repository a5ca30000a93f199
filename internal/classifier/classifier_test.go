package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classifyURL = "https://classifier.test/v1/classify"

func newMockedProvider(t *testing.T) *HTTPProvider {
	t.Helper()

	p := NewHTTPProvider(&HTTPConfig{
		BaseURL: "https://classifier.test/",
		APIKey:  "secret",
		Model:   "doc-classifier-v2",
	}, &http.Client{}, slog.Default())

	httpmock.ActivateNonDefault(p.Client())
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

func TestHTTPProvider_Success(t *testing.T) {
	p := newMockedProvider(t)

	httpmock.RegisterResponder(http.MethodPost, classifyURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))

			var body classifyRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "image/png", body.MediaType)
			assert.Equal(t, []byte("png-bytes"), body.Content)
			assert.Equal(t, "doc-classifier-v2", body.Model)

			return httpmock.NewStringResponse(http.StatusOK, `{"label":"invoice","confidence":0.97}`), nil
		})

	out, err := p.Invoke(context.Background(), Request{Payload: []byte("png-bytes"), MediaType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "invoice", out.Label)
	assert.InDelta(t, 0.97, out.Confidence, 0.0001)
	assert.JSONEq(t, `{"label":"invoice","confidence":0.97}`, string(out.Raw))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPProvider_PicksBestLabel(t *testing.T) {
	p := newMockedProvider(t)

	httpmock.RegisterResponder(http.MethodPost, classifyURL,
		httpmock.NewStringResponder(http.StatusOK, `{"labels":[{"name":"receipt","confidence":0.2},{"name":"contract","confidence":0.7}]}`))

	out, err := p.Invoke(context.Background(), Request{Payload: []byte("x"), MediaType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, "contract", out.Label)
	assert.Len(t, out.Labels, 2)
}

func TestHTTPProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
		msg    string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"bad key"}`, want: KindAuth, msg: "bad key"},
		{name: "forbidden", status: http.StatusForbidden, want: KindAuth},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"message":"slow down"}`, want: KindRateLimit, msg: "slow down"},
		{name: "unprocessable content", status: http.StatusUnprocessableEntity, want: KindContentRejected},
		{name: "payload too large", status: http.StatusRequestEntityTooLarge, want: KindContentRejected},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, want: KindTimeout},
		{name: "server error", status: http.StatusInternalServerError, body: "oops", want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMockedProvider(t)
			httpmock.RegisterResponder(http.MethodPost, classifyURL, httpmock.NewStringResponder(tt.status, tt.body))

			_, err := p.Invoke(context.Background(), Request{Payload: []byte("x"), MediaType: "image/png"})
			require.Error(t, err)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, pe.Message)
			}
		})
	}
}

func TestHTTPProvider_TransportError(t *testing.T) {
	p := newMockedProvider(t)
	httpmock.RegisterResponder(http.MethodPost, classifyURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	_, err := p.Invoke(context.Background(), Request{Payload: []byte("x"), MediaType: "image/png"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHTTPProvider_InvalidJSON(t *testing.T) {
	p := newMockedProvider(t)
	httpmock.RegisterResponder(http.MethodPost, classifyURL, httpmock.NewStringResponder(http.StatusOK, "<html>"))

	_, err := p.Invoke(context.Background(), Request{Payload: []byte("x"), MediaType: "image/png"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHTTPProvider_EmptyClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "blank label", body: `{"label":"","labels":[]}`},
		{name: "unnamed labels", body: `{"labels":[{"name":"","confidence":0.9}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMockedProvider(t)
			httpmock.RegisterResponder(http.MethodPost, classifyURL, httpmock.NewStringResponder(http.StatusOK, tt.body))

			out, err := p.Invoke(context.Background(), Request{Payload: []byte("x"), MediaType: "image/png"})
			assert.Nil(t, out)
			assert.ErrorIs(t, err, ErrUnknownProvider)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, KindUnknown, perr.Kind)
			assert.Equal(t, http.StatusOK, perr.StatusCode)
			assert.Equal(t, "empty classification", perr.Message)
		})
	}
}

func TestInvoker_Timeout(t *testing.T) {
	aborted := make(chan struct{})
	slow := ProviderFunc(func(ctx context.Context, req Request) (*Output, error) {
		<-ctx.Done()
		close(aborted)
		return nil, ctx.Err()
	})

	inv := NewInvoker(slow, 20*time.Millisecond, slog.Default())
	_, err := inv.Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("underlying call was not aborted")
	}
}

func TestInvoker_TimeoutWhenProviderIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := ProviderFunc(func(ctx context.Context, req Request) (*Output, error) {
		<-release
		return &Output{Label: "late"}, nil
	})

	inv := NewInvoker(stuck, 20*time.Millisecond, slog.Default())

	start := time.Now()
	_, err := inv.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvoker_NormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *ProviderError
	}{
		{name: "already classified", err: &ProviderError{Kind: KindRateLimit}, want: ErrRateLimit},
		{name: "wrapped classified", err: errors.Join(errors.New("ctx"), &ProviderError{Kind: KindAuth}), want: ErrAuth},
		{name: "plain error", err: errors.New("boom"), want: ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProviderFunc(func(ctx context.Context, req Request) (*Output, error) {
				return nil, tt.err
			})
			_, err := NewInvoker(p, time.Second, slog.Default()).Invoke(context.Background(), Request{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInvoker_Success(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, req Request) (*Output, error) {
		return &Output{Label: string(req.Payload)}, nil
	})

	out, err := NewInvoker(p, 0, nil).Invoke(context.Background(), Request{Payload: []byte("ok")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Label)
}
