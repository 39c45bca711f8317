package authn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PolicyClaims carries the capability router's resolved profile for one
// session. The token is never sent to the client — it is signed and stored
// server-side, keyed by session id, so the capability router can recall a
// caller's effective policy without recomputing the tier-ceiling logic on
// every request.
type PolicyClaims struct {
	SessionID string `json:"sid"`
	Profile   string `json:"profile"`
	Downgraded bool  `json:"downgraded"`
	Reason    string `json:"reason,omitempty"`
	jwt.RegisteredClaims
}

// PolicySigner signs and verifies server-side policy tokens with HS256.
type PolicySigner struct {
	key []byte
	ttl time.Duration
}

// NewPolicySigner constructs a signer using key for HMAC signing. ttl bounds
// how long a resolved policy stays valid before the capability router must
// re-resolve it.
func NewPolicySigner(key []byte, ttl time.Duration) *PolicySigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PolicySigner{key: key, ttl: ttl}
}

// Sign produces a server-side policy token for sessionID/profile.
func (s *PolicySigner) Sign(sessionID, profile string, downgraded bool, reason string) (string, error) {
	now := time.Now()
	claims := PolicyClaims{
		SessionID:  sessionID,
		Profile:    profile,
		Downgraded: downgraded,
		Reason:     reason,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "kuro-gateway",
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify parses and validates a policy token, returning its claims.
func (s *PolicySigner) Verify(token string) (*PolicyClaims, error) {
	claims := &PolicyClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authn: invalid policy token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("authn: policy token rejected")
	}
	return claims, nil
}
