package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes understood by the daemon.
const (
	ScopeNamespaces = "ns:admin"
	ScopeMeasure    = "log:measure"
)

// ErrMalformedClaims is returned when a token verifies but its claims do not
// decode as AdminClaims.
var ErrMalformedClaims = errors.New("identity: malformed token claims")

// AdminClaims are the JWT claims of an operator token. An empty Namespaces
// list grants every namespace.
type AdminClaims struct {
	jwt.RegisteredClaims
	Scopes     []string `json:"scopes"`
	Namespaces []int    `json:"namespaces,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *AdminClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// AllowsNamespace reports whether the token may act on namespace id.
func (c *AdminClaims) AllowsNamespace(id int) bool {
	return len(c.Namespaces) == 0 || slices.Contains(c.Namespaces, id)
}

// TokenIssuer signs and checks operator tokens with one RSA key (RS256).
type TokenIssuer struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl means one hour.
func NewTokenIssuer(key *rsa.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for subject granting scopes on every namespace.
func (t *TokenIssuer) Issue(subject string, scopes []string) (string, error) {
	return t.IssueFor(subject, scopes, nil)
}

// IssueFor signs a token for subject granting scopes on the listed
// namespaces only.
func (t *TokenIssuer) IssueFor(subject string, scopes []string, namespaces []int) (string, error) {
	issued := t.now().UTC()
	claims := &AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(t.ttl)),
		},
		Scopes:     slices.Clone(scopes),
		Namespaces: slices.Clone(namespaces),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("identity: sign token for %s: %w", subject, err)
	}
	return signed, nil
}

func (t *TokenIssuer) verificationKey(*jwt.Token) (any, error) {
	return &t.key.PublicKey, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (t *TokenIssuer) Verify(raw string) (*AdminClaims, error) {
	var claims AdminClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, t.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	if !tok.Valid {
		return nil, ErrMalformedClaims
	}
	return &claims, nil
}

// PublicKeyPEM returns the verification key as a PKIX "PUBLIC KEY" block.
func (t *TokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&t.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// TTL returns the token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
