package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dvcrn/tokenrelay/internal/auth"
	"github.com/dvcrn/tokenrelay/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderCorrelationID carries the per-call correlation id upstream.
	HeaderCorrelationID = "X-Correlation-Id"

	DefaultMaxRetries  = 2
	DefaultBackoffStep = time.Second

	maxResponseBody = 32 << 20
)

// TokenProvider supplies credentials for outbound calls.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	ClearCredential()
}

// HTTPDoer is the subset of *http.Client the coordinator needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options describes one outbound call.
type Options struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is sent as-is when it is []byte, string or io.Reader and JSON-encoded
	// otherwise. A reader cannot be replayed, so CallWithRetry needs []byte.
	Body any
}

// Response is a successful (2xx) upstream response with its body fully read.
type Response struct {
	Status        int
	Header        http.Header
	Body          []byte
	CorrelationID string
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Coordinator is the single path to the upstream API. It attaches the session
// credential, classifies failures, and publishes them.
type Coordinator struct {
	baseURL     string
	client      HTTPDoer
	tokens      TokenProvider
	events      events.Publisher
	logger      zerolog.Logger
	tracer      trace.Tracer
	maxRetries  int
	backoffStep time.Duration
	maxBody     int64
	newID       func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithHTTPClient(c HTTPDoer) Option { return func(co *Coordinator) { co.client = c } }

func WithEvents(p events.Publisher) Option { return func(co *Coordinator) { co.events = p } }

func WithLogger(l zerolog.Logger) Option { return func(co *Coordinator) { co.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(co *Coordinator) { co.tracer = t } }

func WithMaxRetries(n int) Option { return func(co *Coordinator) { co.maxRetries = n } }

func WithBackoffStep(d time.Duration) Option { return func(co *Coordinator) { co.backoffStep = d } }

// New creates a coordinator that resolves operation paths against baseURL.
func New(baseURL string, tokens TokenProvider, opts ...Option) *Coordinator {
	c := &Coordinator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 60 * time.Second},
		tokens:      tokens,
		events:      events.Discard,
		logger:      zerolog.Nop(),
		tracer:      otel.Tracer("github.com/dvcrn/tokenrelay/internal/coordinator"),
		maxRetries:  DefaultMaxRetries,
		backoffStep: DefaultBackoffStep,
		maxBody:     maxResponseBody,
		newID:       newCorrelationID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newCorrelationID() string {
	return uuid.New().String()[:8]
}

// Call issues one request. Failures are returned as *Error (or the token
// error that prevented the call) and published as events.
func (c *Coordinator) Call(ctx context.Context, operation string, opts Options) (*Response, error) {
	id := c.newID()
	logger := c.logger.With().Str("operation", operation).Str("correlation_id", id).Logger()

	ctx, span := c.tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("correlation_id", id),
		attribute.String("http.method", methodOf(opts)),
	))
	defer span.End()

	token, err := c.tokens.GetValidToken(ctx)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrNoRefreshToken), errors.Is(err, auth.ErrUnauthenticated):
		logger.Debug().Err(err).Msg("No usable credential, calling anonymously")
		token = ""
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential unavailable")
		logger.Error().Err(err).Msg("❌ Could not obtain a credential")
		return nil, err
	}

	req, err := c.newRequest(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	req.Header.Set(HeaderCorrelationID, id)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("authorization_preview", auth.Preview(token)).
		Msg("Calling upstream")

	resp, err := c.client.Do(req)
	if err != nil {
		callErr := &Error{Kind: KindNetwork, Operation: operation, CorrelationID: id, Err: err}
		return nil, c.failed(span, logger, callErr)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err == nil && int64(len(body)) > c.maxBody {
		err = fmt.Errorf("body exceeds %d bytes", c.maxBody)
	}
	if err != nil {
		callErr := &Error{Kind: KindNetwork, Operation: operation, CorrelationID: id, Err: fmt.Errorf("failed to read response: %w", err)}
		return nil, c.failed(span, logger, callErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body, CorrelationID: id}, nil
	}

	code, message := parseErrorPayload(body)
	callErr := &Error{
		Kind:          kindOf(resp.StatusCode),
		Status:        resp.StatusCode,
		Operation:     operation,
		CorrelationID: id,
		Code:          code,
		Message:       message,
		Header:        resp.Header,
		Body:          body,
	}
	return nil, c.failed(span, logger, callErr)
}

// failed records, logs and publishes a call error. A rejected credential is
// cleared and reported as an auth error only.
func (c *Coordinator) failed(span trace.Span, logger zerolog.Logger, callErr *Error) error {
	span.RecordError(callErr)
	span.SetStatus(codes.Error, callErr.Kind.String())

	if callErr.Kind == KindAuthRejected {
		logger.Warn().Msg("🔒 Upstream rejected the credential, ending session")
		c.tokens.ClearCredential()
		c.events.Publish(events.AuthError{Operation: callErr.Operation, CorrelationID: callErr.CorrelationID})
		return callErr
	}

	logger.Error().
		Err(callErr.Err).
		Str("kind", callErr.Kind.String()).
		Int("status", callErr.Status).
		Str("code", callErr.Code).
		Str("message", callErr.Message).
		Msg("❌ Upstream call failed")
	c.events.Publish(events.APIError{
		Operation:     callErr.Operation,
		Err:           callErr,
		Status:        callErr.Status,
		CorrelationID: callErr.CorrelationID,
	})
	return callErr
}

// CallWithRetry re-issues Call up to maxRetries more times for network and
// server errors, waiting attempt*step before each retry. A negative maxRetries
// uses the configured default. Only use it for idempotent operations.
func (c *Coordinator) CallWithRetry(ctx context.Context, operation string, opts Options, maxRetries int) (*Response, error) {
	if maxRetries < 0 {
		maxRetries = c.maxRetries
	}

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempt++
		resp, err := c.Call(ctx, operation, opts)
		if err == nil {
			return resp, nil
		}
		var callErr *Error
		if errors.As(err, &callErr) && callErr.Retryable() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(&linearBackOff{step: c.backoffStep}),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt).
				Dur("wait", wait).
				Err(err).
				Msg("🔄 Retrying upstream call")
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return resp, err
}

func (c *Coordinator) newRequest(ctx context.Context, opts Options) (*http.Request, error) {
	u := c.baseURL + "/" + strings.TrimLeft(opts.Path, "/")
	if len(opts.Query) > 0 {
		u += "?" + opts.Query.Encode()
	}

	body, isJSON, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, methodOf(opts), u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func encodeBody(v any) (io.Reader, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	case string:
		return strings.NewReader(b), false, nil
	case io.Reader:
		return b, false, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal request body: %w", err)
		}
		return bytes.NewReader(data), true, nil
	}
}

func methodOf(opts Options) string {
	if opts.Method == "" {
		return http.MethodGet
	}
	return opts.Method
}
