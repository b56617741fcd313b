package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"mercator-hq/chatrelay/pkg/session"
)

// acceptHeader lists every body framing the relay can reassemble.
const acceptHeader = "application/x-ndjson, text/event-stream, text/plain"

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4096

// readBufferSize is the size of a single read from the response body.
const readBufferSize = 32 * 1024

// Config configures a Client.
type Config struct {
	// Name labels the upstream in logs, errors, and spans.
	Name string

	// WebhookURL is where chat messages are POSTed.
	WebhookURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout time.Duration

	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the pacing burst size.
	Burst int

	// HealthURL is probed by Probe. Defaults to WebhookURL.
	HealthURL string

	// HTTPClient replaces the default client, mainly for tests.
	HTTPClient *http.Client

	// Now replaces time.Now for request timestamps.
	Now func() time.Time
}

// Request is one chat message bound for the webhook.
type Request struct {
	Message      string
	SessionID    string
	OriginDomain string
	Token        session.UpstreamToken
}

type webhookSession struct {
	ID           string `json:"id"`
	OriginDomain string `json:"origin_domain"`
}

type webhookPayload struct {
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Session   webhookSession `json:"session"`
	JWTToken  string         `json:"jwt_token"`
}

// Client posts chat messages to the text-generation webhook and hands back
// the raw response body as a Stream. It never retries: a failed call is
// reported to the caller, which decides what the circuit breaker sees.
type Client struct {
	name           string
	webhookURL     string
	healthURL      string
	apiKey         string
	connectTimeout time.Duration

	http   *http.Client
	pacer  *rate.Limiter
	tracer trace.Tracer
	now    func() time.Time
	logger *slog.Logger
}

// NewClient validates cfg and builds a client with a pooled transport.
func NewClient(cfg Config) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, &ConfigError{Field: "webhook_url", Message: "required"}
	}
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Field: "webhook_url", Message: "must be an absolute http(s) URL"}
	}
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.WebhookURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := cfg.HTTPClient
	if client == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ConnectTimeout,
			ForceAttemptHTTP2:     true,
		}
		// No client-level timeout: the body is streamed and the caller's
		// context carries the overall deadline.
		client = &http.Client{Transport: transport}
	}

	pacer := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		name:           cfg.Name,
		webhookURL:     cfg.WebhookURL,
		healthURL:      cfg.HealthURL,
		apiKey:         cfg.APIKey,
		connectTimeout: cfg.ConnectTimeout,
		http:           client,
		pacer:          pacer,
		tracer:         otel.Tracer("chatrelay/upstream"),
		now:            cfg.Now,
		logger:         slog.Default().With("component", "upstream", "upstream", cfg.Name),
	}, nil
}

// Name returns the configured upstream name.
func (c *Client) Name() string {
	return c.name
}

// Send posts one message and returns the response body as a Stream once
// the webhook has answered with a 2xx status. ctx bounds the whole call,
// including reading the stream.
func (c *Client) Send(ctx context.Context, req Request) (*Stream, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.name", c.name),
			attribute.String("session.id", req.SessionID),
			attribute.Int("message.length", len(req.Message)),
		),
	)

	stream, err := c.send(ctx, span, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return stream, nil
}

func (c *Client) send(ctx context.Context, span trace.Span, req Request) (*Stream, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, c.contextError(ctx, "connect", err)
	}

	body, err := json.Marshal(webhookPayload{
		Message:   req.Message,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Session: webhookSession{
			ID:           req.SessionID,
			OriginDomain: req.OriginDomain,
		},
		JWTToken: string(req.Token),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+string(req.Token))
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	c.logger.DebugContext(ctx, "sending message to upstream",
		"session_id", req.SessionID,
		"message_length", len(req.Message),
	)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyDoError(ctx, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		statusErr := &StatusError{
			Upstream:   c.name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
		c.logger.WarnContext(ctx, "upstream rejected message",
			"session_id", req.SessionID,
			"status", resp.StatusCode,
		)
		return nil, statusErr
	}

	c.logger.DebugContext(ctx, "upstream answered",
		"session_id", req.SessionID,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"header_latency", time.Since(start),
	)

	return &Stream{
		ctx:         ctx,
		client:      c,
		body:        resp.Body,
		contentType: resp.Header.Get("Content-Type"),
		span:        span,
		buf:         make([]byte, readBufferSize),
	}, nil
}

// classifyDoError turns an http.Client.Do error into the package error types.
func (c *Client) classifyDoError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return c.contextError(ctx, "connect", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Upstream: c.name, Phase: "connect", Timeout: c.connectTimeout}
	}
	return &TransportError{Upstream: c.name, Cause: err}
}

// contextError distinguishes a missed deadline from the caller leaving.
func (c *Client) contextError(ctx context.Context, phase string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Upstream: c.name, Phase: phase}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("upstream %q call canceled: %w", c.name, ctx.Err())
	}
	return fmt.Errorf("upstream %q call aborted: %w", c.name, err)
}

// Probe checks that the webhook host answers. Any status below 500 counts
// as reachable since webhook endpoints commonly reject GET.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classifyDoError(ctx, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &StatusError{Upstream: c.name, StatusCode: resp.StatusCode}
	}
	return nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// Stream is the raw response body of one webhook call. Recv returns the
// bytes of each network read as they arrive; framing is left to the caller.
type Stream struct {
	ctx         context.Context
	client      *Client
	body        io.ReadCloser
	contentType string
	span        trace.Span
	buf         []byte

	pending   error
	bytesRead int64
	closeOnce sync.Once
}

// ContentType returns the response Content-Type header.
func (s *Stream) ContentType() string {
	return s.contentType
}

// Recv returns the next chunk of the body. The slice is only valid until
// the next call. It returns io.EOF once the body is exhausted.
func (s *Stream) Recv() ([]byte, error) {
	if s.pending != nil {
		return nil, s.pending
	}

	n, err := s.body.Read(s.buf)
	if err != nil {
		s.pending = s.classify(err)
	}
	if n > 0 {
		s.bytesRead += int64(n)
		return s.buf[:n], nil
	}
	if s.pending == nil {
		// A zero-byte read without error; report nothing and let the
		// caller ask again.
		return nil, nil
	}
	return nil, s.pending
}

func (s *Stream) classify(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if s.ctx.Err() != nil {
		return s.client.contextError(s.ctx, "stream", err)
	}
	return &TransportError{Upstream: s.client.name, Cause: err}
}

// BytesRead returns the number of body bytes received so far.
func (s *Stream) BytesRead() int64 {
	return s.bytesRead
}

// Close releases the connection and ends the trace span.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.span.SetAttributes(attribute.Int64("upstream.bytes_read", s.bytesRead))
		if s.pending != nil && !errors.Is(s.pending, io.EOF) {
			s.span.RecordError(s.pending)
			s.span.SetStatus(codes.Error, s.pending.Error())
		}
		s.span.End()
	})
	return err
}
