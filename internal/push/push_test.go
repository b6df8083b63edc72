package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/auth"
	"github.com/roach88/theatresync/internal/metrics"
	"github.com/roach88/theatresync/internal/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	events  [][]byte
	resyncs []string
	closed  bool
	got     chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 64)}
}

func (s *recordingSink) Deliver(raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, raw)
	s.got <- struct{}{}
	return true
}

func (s *recordingSink) RequestResync(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.resyncs = append(s.resyncs, reason)
	return true
}

func (s *recordingSink) snapshot() ([][]byte, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.events...), append([]string(nil), s.resyncs...)
}

func fastRetry() func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
}

func waitConnected(t *testing.T, srv *testutil.AuthorityServer) {
	t.Helper()
	select {
	case <-srv.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("push client did not connect")
	}
}

func waitEvent(t *testing.T, sink *recordingSink) {
	t.Helper()
	select {
	case <-sink.got:
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func startClient(t *testing.T, c *Client) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("push client did not stop")
			return nil
		}
	}
}

func TestClient_DeliversAndResyncsOnConnect(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority())
	sink := newSink()
	stop := startClient(t, New(srv.PushURL(), nil, sink, WithBackOff(fastRetry())))

	waitConnected(t, srv)
	require.NoError(t, srv.Broadcast(context.Background(), []byte(`{"n":1}`)))
	require.NoError(t, srv.Broadcast(context.Background(), []byte(`{"n":2}`)))
	waitEvent(t, sink)
	waitEvent(t, sink)

	events, resyncs := sink.snapshot()
	assert.Equal(t, [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)}, events)
	assert.Equal(t, []string{ReasonConnect}, resyncs)
	assert.NoError(t, stop())
}

func TestClient_ReconnectResyncs(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority())
	sink := newSink()
	m := metrics.New()
	stop := startClient(t, New(srv.PushURL(), nil, sink, WithBackOff(fastRetry()), WithMetrics(m)))

	waitConnected(t, srv)
	srv.DropConnections()
	waitConnected(t, srv)
	require.Eventually(t, func() bool {
		_, resyncs := sink.snapshot()
		return len(resyncs) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	_, resyncs := sink.snapshot()
	assert.Equal(t, []string{ReasonConnect, ReasonConnect}, resyncs)
	assert.GreaterOrEqual(t, srv.Accepted(), 2)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var reconnects float64
	for _, f := range families {
		if f.GetName() == "theatresync_push_reconnects_total" {
			reconnects = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.GreaterOrEqual(t, reconnects, 1.0)
}

type rotating struct {
	mu     sync.Mutex
	tokens []string
	i      int
}

func (r *rotating) Token(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[r.i], nil
}

func (r *rotating) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.i < len(r.tokens)-1 {
		r.i++
	}
}

func TestClient_ReauthenticatesAfterRejection(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority(), testutil.RequireToken("fresh"))
	sink := newSink()
	tokens := &rotating{tokens: []string{"stale", "fresh"}}
	stop := startClient(t, New(srv.PushURL(), tokens, sink, WithBackOff(fastRetry())))

	waitConnected(t, srv)
	require.NoError(t, stop())
	assert.Equal(t, 1, srv.Accepted())
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "clerk-1", ExpiresAt: jwt.NewNumericDate(exp)}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestClient_RefreshesExpiredTokenBeforeDial(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority(), testutil.RequireToken(fresh))
	tokens := &rotating{tokens: []string{signedToken(t, time.Now().Add(-time.Minute)), fresh}}
	policy := func() backoff.BackOff { return &backoff.StopBackOff{} }
	stop := startClient(t, New(srv.PushURL(), tokens, newSink(), WithBackOff(policy)))

	waitConnected(t, srv)
	require.NoError(t, stop())
	assert.Equal(t, 1, srv.Accepted())
}

func TestClient_ExpiredStaticTokenNotSent(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority())
	policy := func() backoff.BackOff { return &backoff.StopBackOff{} }
	c := New(srv.PushURL(), auth.Static(signedToken(t, time.Now().Add(-time.Minute))), newSink(), WithBackOff(policy))

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, errTokenExpired)
	assert.Zero(t, srv.Accepted())
}

func TestClient_StaticTokenAccepted(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority(), testutil.RequireToken("good"))
	stop := startClient(t, New(srv.PushURL(), auth.Static("good"), newSink(), WithBackOff(fastRetry())))
	waitConnected(t, srv)
	assert.NoError(t, stop())
}

func TestClient_GivesUp(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority(), testutil.RequireToken("good"))
	policy := func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	c := New(srv.PushURL(), auth.Static("bad"), newSink(), WithBackOff(policy))

	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "giving up")
	assert.Zero(t, srv.Accepted())
}

func TestClient_StopsWhenSinkCloses(t *testing.T) {
	srv := testutil.NewAuthorityServer(t, testutil.NewFakeAuthority())
	sink := newSink()
	sink.closed = true
	c := New(srv.PushURL(), nil, sink, WithBackOff(fastRetry()))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestExponentialBackOff_Bounded(t *testing.T) {
	b := ExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval)()
	var last time.Duration
	for i := 0; i < 50; i++ {
		last = b.NextBackOff()
		require.NotEqual(t, backoff.Stop, last)
		require.LessOrEqual(t, last, DefaultMaxInterval+DefaultMaxInterval/2)
	}
}
