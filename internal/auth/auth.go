// Package auth supplies the bearer credential used by the remote client
// and the push channel. Credentials come from an external collaborator;
// this package only reads them and decides when to read them again.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a source has no credential to offer.
var ErrNoToken = errors.New("no bearer token")

// Source yields a bearer token.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

// Token implements Source.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// File reads the token from a file on every call, so an external process
// can rotate it in place.
type File string

// Token implements Source.
func (f File) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("token file %s: %w", string(f), ErrNoToken)
	}
	return tok, nil
}

// Expiry returns the exp claim of a JWT without verifying its signature.
// The client never holds the signing key; the authority verifies.
// ok is false for opaque tokens and tokens without exp.
func Expiry(token string) (exp time.Time, ok bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Cached keeps the last token from an underlying source and fetches a new
// one when the cached token expires within Skew. Opaque tokens are cached
// until Invalidate.
type Cached struct {
	src  Source
	skew time.Duration
	now  func() time.Time

	mu    sync.Mutex
	token string
}

// DefaultSkew is how long before expiry a token is replaced.
const DefaultSkew = 30 * time.Second

// NewCached wraps src.
func NewCached(src Source, skew time.Duration) *Cached {
	return &Cached{src: src, skew: skew, now: time.Now}
}

// Token implements Source.
func (c *Cached) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !c.expiring(c.token) {
		return c.token, nil
	}
	tok, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
// Called after the authority rejects the credential.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Cached) expiring(tok string) bool {
	exp, ok := Expiry(tok)
	if !ok {
		return false
	}
	return !c.now().Add(c.skew).Before(exp)
}
