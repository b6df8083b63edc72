package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "clerk-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

type countingSource struct {
	tokens []string
	calls  int
}

func (s *countingSource) Token(context.Context) (string, error) {
	tok := s.tokens[s.calls]
	s.calls++
	return tok, nil
}

func TestExpiry(t *testing.T) {
	exp := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	got, ok := Expiry(signed(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = Expiry("opaque-token")
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  tok-1\n"), 0o600))

	tok, err := File(path).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err = File(path).Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = File(filepath.Join(t.TempDir(), "missing")).Token(context.Background())
	assert.Error(t, err)
}

func TestCached_RefetchesNearExpiry(t *testing.T) {
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	first := signed(t, now.Add(time.Minute))
	second := signed(t, now.Add(time.Hour))
	src := &countingSource{tokens: []string{first, second}}

	c := NewCached(src, DefaultSkew)
	c.now = func() time.Time { return now }

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, tok)
	tok, _ = c.Token(context.Background())
	assert.Equal(t, first, tok)
	assert.Equal(t, 1, src.calls)

	now = now.Add(45 * time.Second)
	tok, _ = c.Token(context.Background())
	assert.Equal(t, second, tok)
	assert.Equal(t, 2, src.calls)
}

func TestCached_InvalidateOpaque(t *testing.T) {
	src := &countingSource{tokens: []string{"a", "b"}}
	c := NewCached(src, DefaultSkew)

	tok, _ := c.Token(context.Background())
	assert.Equal(t, "a", tok)
	tok, _ = c.Token(context.Background())
	assert.Equal(t, "a", tok)

	c.Invalidate()
	tok, _ = c.Token(context.Background())
	assert.Equal(t, "b", tok)
}
