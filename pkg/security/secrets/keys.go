package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeyLength is the size of generated signing keys in bytes.
const KeyLength = 32

// Key encodings accepted by DecodeKey.
const (
	base64Prefix = "base64:"
	hexPrefix    = "hex:"
)

// SigningKeys are the two independent HMAC keys for client and upstream tokens.
type SigningKeys struct {
	Client   []byte
	Upstream []byte
}

// LoadSigningKeys resolves and decodes both signing keys. The keys must
// decode to at least KeyLength bytes each and must differ.
func LoadSigningKeys(ctx context.Context, r *Resolver, clientName, upstreamName string) (SigningKeys, error) {
	var keys SigningKeys

	raw, err := r.GetSecret(ctx, clientName)
	if err != nil {
		return keys, fmt.Errorf("client signing key: %w", err)
	}
	if keys.Client, err = DecodeKey(raw); err != nil {
		return keys, fmt.Errorf("client signing key: %w", err)
	}

	raw, err = r.GetSecret(ctx, upstreamName)
	if err != nil {
		return keys, fmt.Errorf("upstream signing key: %w", err)
	}
	if keys.Upstream, err = DecodeKey(raw); err != nil {
		return keys, fmt.Errorf("upstream signing key: %w", err)
	}

	if bytes.Equal(keys.Client, keys.Upstream) {
		return keys, errors.New("client and upstream signing keys must differ")
	}
	return keys, nil
}

// DecodeKey decodes "base64:..." and "hex:..." values. Anything else is
// used as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)

	var (
		key []byte
		err error
	)
	switch {
	case strings.HasPrefix(value, base64Prefix):
		key, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(value, base64Prefix))
	case strings.HasPrefix(value, hexPrefix):
		key, err = hex.DecodeString(strings.TrimPrefix(value, hexPrefix))
	default:
		key = []byte(value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) < KeyLength {
		return nil, fmt.Errorf("key must be at least %d bytes, got %d", KeyLength, len(key))
	}
	return key, nil
}

// GenerateKey returns a new random key in "base64:" form.
func GenerateKey() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64Prefix + base64.StdEncoding.EncodeToString(b), nil
}
