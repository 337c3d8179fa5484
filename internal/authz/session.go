package authz

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie carrying the admin session token.
const SessionCookie = "mailgate_session"

// Sessions issues and verifies the admin session tokens backing the
// interactive UI. One Ed25519 keypair, EdDSA-signed JWTs; the same process
// signs and verifies, so no key distribution is involved.
type Sessions struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	issuer  string
	ttl     time.Duration
}

// NewSessions builds the session signer from base64-encoded ed25519 private
// key bytes. An empty key generates an ephemeral one, good for local dev;
// sessions then die with the process.
func NewSessions(privB64, issuer string, ttl time.Duration) (*Sessions, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, priv, _ = ed25519.GenerateKey(rand.Reader)
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, fmt.Errorf("decode session key: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	return &Sessions{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
		issuer:  issuer,
		ttl:     ttl,
	}, nil
}

// Issue signs an admin session token.
func (s *Sessions) Issue(now time.Time) (string, time.Time, error) {
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"iss":   s.issuer,
		"sub":   "admin",
		"iat":   jwt.NewNumericDate(now).Unix(),
		"exp":   jwt.NewNumericDate(expires).Unix(),
		"admin": true,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.private)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, expires, nil
}

// Verify checks signature, expiry, issuer and the admin claim.
func (s *Sessions) Verify(token string) error {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return s.public, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("unexpected claims type")
	}
	if admin, _ := claims["admin"].(bool); !admin {
		return errors.New("missing admin claim")
	}
	return nil
}
