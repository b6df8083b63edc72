// Package push maintains the push channel: a websocket carrying change
// envelopes from the authority.
//
// Every successful (re)connect requests a full resync, since events sent
// while disconnected are lost. Drops are retried with bounded, increasing
// backoff; a connection that stayed up resets the backoff.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/roach88/theatresync/internal/auth"
	"github.com/roach88/theatresync/internal/metrics"
)

// ReasonConnect is the resync reason after a (re)connect.
const ReasonConnect = "connect"

// Backoff defaults.
const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
)

// maxMessageSize bounds one envelope. Reorder payloads carry a whole
// session.
const maxMessageSize = 16 << 20

// Sink receives envelopes and resync requests. Implemented by
// *engine.Engine.
type Sink interface {
	Deliver(raw []byte) bool
	RequestResync(reason string) bool
}

type invalidator interface {
	Invalidate()
}

// Client keeps one push connection open.
type Client struct {
	url     string
	tokens  auth.Source
	sink    Sink
	metrics *metrics.Metrics
	policy  func() backoff.BackOff
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics counts reconnects.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBackOff sets the reconnect policy. newPolicy is called once per Run.
func WithBackOff(newPolicy func() backoff.BackOff) Option {
	return func(c *Client) { c.policy = newPolicy }
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// ExponentialBackOff returns the default policy between initial and max.
// It never gives up.
func ExponentialBackOff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		return b
	}
}

// New returns a client for the push endpoint url. tokens may be nil when
// the endpoint needs no credential.
func New(url string, tokens auth.Source, sink Sink, opts ...Option) *Client {
	c := &Client{
		url:    url,
		tokens: tokens,
		sink:   sink,
		policy: ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errSinkClosed ends Run when the sink stops accepting envelopes.
var errSinkClosed = errors.New("push sink closed")

// Run connects and reads until ctx is cancelled or the policy gives up.
// Returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	b := c.policy()
	b.Reset()
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errSinkClosed) {
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("push channel: giving up: %w", err)
		}
		c.metrics.Reconnect()
		slog.Warn("push channel lost",
			"error", err,
			"connected", connected,
			"retry_in", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// errTokenExpired is returned when no unexpired credential is available.
var errTokenExpired = errors.New("credential expired")

// token returns a credential that has not expired. An expired one is
// invalidated and fetched once more before the handshake is attempted.
func (c *Client) token(ctx context.Context) (string, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil || !expired(tok) {
		return tok, err
	}
	inv, ok := c.tokens.(invalidator)
	if !ok {
		return "", errTokenExpired
	}
	inv.Invalidate()
	if tok, err = c.tokens.Token(ctx); err != nil {
		return "", err
	}
	if expired(tok) {
		return "", errTokenExpired
	}
	return tok, nil
}

// expired reports whether tok carries an exp claim in the past. Opaque
// tokens never expire here; the server decides.
func expired(tok string) bool {
	exp, ok := auth.Expiry(tok)
	return ok && !time.Now().Before(exp)
}

// session dials once and reads until the connection fails. connected
// reports whether the handshake succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{HTTPClient: c.http, HTTPHeader: http.Header{}}
	if c.tokens != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return false, fmt.Errorf("bearer token: %w", err)
		}
		opts.HTTPHeader.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	slog.Info("push channel connected", "url", c.url)
	if !c.sink.RequestResync(ReasonConnect) {
		return true, errSinkClosed
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if !c.sink.Deliver(data) {
			conn.Close(websocket.StatusNormalClosure, "")
			return true, errSinkClosed
		}
	}
}
