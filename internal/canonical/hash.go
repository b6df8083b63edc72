package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room to
// change the algorithm without colliding with stored values.
const (
	DomainEnvelope = "theatresync/envelope/v1"
	DomainSnapshot = "theatresync/snapshot/v1"
	DomainCommand  = "theatresync/command/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint canonicalizes a raw JSON document and hashes it under domain.
func Fingerprint(domain string, raw []byte) (string, error) {
	c, err := Canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(domain, c), nil
}

// Hash canonicalizes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	c, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hashWithDomain(domain, c), nil
}

// MustHash is like Hash but panics on error. Use only with inputs known to
// be encodable.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
