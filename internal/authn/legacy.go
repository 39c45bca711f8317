package authn

import (
	"fmt"
	"time"

	legacyjwt "github.com/dgrijalva/jwt-go"
)

// LegacyClaims is the claim shape of a legacy bearer token. The legacy path
// is read-only: a verified token yields a Caller but the resolver never
// reissues or refreshes it.
type LegacyClaims struct {
	UserID string `json:"sub"`
	Tier   string `json:"tier"`
	legacyjwt.StandardClaims
}

// LegacyVerifier verifies bearer tokens issued by the deprecated
// authentication path. Deployments that cannot upgrade a legacy integration
// keep this path enabled via deployment flag; it never issues new tokens.
type LegacyVerifier struct {
	secret  []byte
	enabled bool
}

// NewLegacyVerifier constructs a verifier. enabled mirrors the deployment
// flag gating the legacy-token resolver tier.
func NewLegacyVerifier(secret []byte, enabled bool) *LegacyVerifier {
	return &LegacyVerifier{secret: secret, enabled: enabled}
}

// Enabled reports whether the legacy path is active for this deployment.
func (v *LegacyVerifier) Enabled() bool { return v.enabled }

// Verify parses and validates a legacy bearer token, returning the embedded
// user id and tier.
func (v *LegacyVerifier) Verify(token string) (userID, tier string, err error) {
	if !v.enabled {
		return "", "", fmt.Errorf("authn: legacy token path is disabled")
	}

	claims := &LegacyClaims{}
	parsed, err := legacyjwt.ParseWithClaims(token, claims, func(t *legacyjwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*legacyjwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("authn: invalid legacy token: %w", err)
	}
	if !parsed.Valid {
		return "", "", fmt.Errorf("authn: legacy token rejected")
	}
	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return "", "", fmt.Errorf("authn: legacy token expired")
	}
	if claims.UserID == "" {
		return "", "", fmt.Errorf("authn: legacy token missing subject")
	}
	if claims.Tier == "" {
		claims.Tier = string(TierFree)
	}
	return claims.UserID, claims.Tier, nil
}
