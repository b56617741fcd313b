package session

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyLength is the minimum signing key size in bytes.
const MinKeyLength = 32

const (
	audienceClient   = "chat-widget"
	audienceUpstream = "chat-upstream"

	kindClient   = "client"
	kindUpstream = "upstream"
)

// ClientToken is the long-lived credential held by the browser. It binds
// the session id to the fingerprint hash recorded at creation.
type ClientToken string

// UpstreamToken is the short-lived credential sent to the upstream service
// with exactly one call.
type UpstreamToken string

// TokenPair is returned by session creation.
type TokenPair struct {
	Client            ClientToken
	ClientExpiresAt   time.Time
	Upstream          UpstreamToken
	UpstreamExpiresAt time.Time
}

// ClientClaims are the claims carried by a ClientToken. Subject is the session id.
type ClientClaims struct {
	jwt.RegisteredClaims
	Kind            string `json:"knd"`
	FingerprintHash string `json:"fph"`
	Origin          string `json:"org"`
}

// UpstreamClaims are the claims carried by an UpstreamToken. Subject is the session id.
type UpstreamClaims struct {
	jwt.RegisteredClaims
	Kind       string `json:"knd"`
	Origin     string `json:"org"`
	ExchangeID string `json:"xid,omitempty"`
}

// Keys holds the two independent HMAC keys.
type Keys struct {
	Client   []byte
	Upstream []byte
}

// Validate checks key length and independence.
func (k Keys) Validate() error {
	if len(k.Client) < MinKeyLength {
		return fmt.Errorf("client signing key must be at least %d bytes, got %d", MinKeyLength, len(k.Client))
	}
	if len(k.Upstream) < MinKeyLength {
		return fmt.Errorf("upstream signing key must be at least %d bytes, got %d", MinKeyLength, len(k.Upstream))
	}
	if bytes.Equal(k.Client, k.Upstream) {
		return errors.New("client and upstream signing keys must differ")
	}
	return nil
}

// clientSigner signs and verifies ClientTokens only.
type clientSigner struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func (s *clientSigner) sign(sess *Session) (ClientToken, error) {
	claims := ClientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sess.ID,
			Audience:  jwt.ClaimStrings{audienceClient},
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			ID:        uuid.NewString(),
		},
		Kind:            kindClient,
		FingerprintHash: sess.FingerprintHash,
		Origin:          sess.OriginDomain,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client token: %w", err)
	}
	return ClientToken(signed), nil
}

// verify checks signature, audience, issuer, and expiry. When the only
// problem is expiry the claims are still returned alongside an error
// wrapping jwt.ErrTokenExpired, so callers can mark the session expired.
func (s *clientSigner) verify(tok ClientToken) (*ClientClaims, error) {
	claims := &ClientClaims{}
	_, err := jwt.ParseWithClaims(string(tok), claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithAudience(audienceClient),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims.Subject != "" && claims.Kind == kindClient {
			return claims, err
		}
		return nil, err
	}
	if claims.Kind != kindClient || claims.Subject == "" {
		return nil, errors.New("token is not a client token")
	}
	return claims, nil
}

// upstreamSigner signs and verifies UpstreamTokens only.
type upstreamSigner struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func (s *upstreamSigner) sign(sess *Session, exchangeID string, issuedAt, expiresAt time.Time) (UpstreamToken, error) {
	claims := UpstreamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sess.ID,
			Audience:  jwt.ClaimStrings{audienceUpstream},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Kind:       kindUpstream,
		Origin:     sess.OriginDomain,
		ExchangeID: exchangeID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign upstream token: %w", err)
	}
	return UpstreamToken(signed), nil
}

func (s *upstreamSigner) verify(tok UpstreamToken) (*UpstreamClaims, error) {
	claims := &UpstreamClaims{}
	_, err := jwt.ParseWithClaims(string(tok), claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithAudience(audienceUpstream),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kindUpstream {
		return nil, errors.New("token is not an upstream token")
	}
	return claims, nil
}
