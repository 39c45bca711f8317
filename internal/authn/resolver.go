package authn

import (
	"context"
	"net/http"

	"github.com/kurogate/kuro/infrastructure/logging"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "kuro_session"

// Resolver implements the authentication waterfall: session cookie, then
// legacy bearer token (if enabled), then anonymous guest. Cookie auth
// unconditionally overrides legacy.
type Resolver struct {
	sessions *SessionStore
	legacy   *LegacyVerifier
	log      *logging.Logger
}

// NewResolver constructs a Resolver. legacy may be a verifier with
// Enabled() == false, in which case the waterfall is sessions-only.
func NewResolver(sessions *SessionStore, legacy *LegacyVerifier, log *logging.Logger) *Resolver {
	return &Resolver{sessions: sessions, legacy: legacy, log: log}
}

// ExpiredEvent describes a session_expired audit event the caller (the HTTP
// handler) should record on breach.
type ExpiredEvent struct {
	SessionID string
	Reason    string
}

// Resolve runs the waterfall against an incoming request and returns the
// Caller, plus a non-nil ExpiredEvent when a session was found but is no
// longer usable (so the handler can emit the audit entry and fall through
// to the next tier).
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Caller, *ExpiredEvent, error) {
	if cookie, err := req.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		sess, reason, err := r.sessions.Lookup(ctx, cookie.Value)
		if err != nil {
			return Caller{}, nil, err
		}
		if sess != nil && reason == expiryNone {
			return callerForTier(sess.UserID, "", Tier(sess.Tier), AuthMethodSession), nil, nil
		}
		if sess != nil && reason != expiryNone {
			event := &ExpiredEvent{SessionID: sess.ID, Reason: string(reason)}
			if r.log != nil {
				r.log.WithContext(ctx).WithField("session_id", sess.ID).WithField("reason", string(reason)).
					Info("session_expired")
			}
			return r.fallThroughToLegacy(ctx, req, event)
		}
	}

	return r.fallThroughToLegacy(ctx, req, nil)
}

func (r *Resolver) fallThroughToLegacy(ctx context.Context, req *http.Request, event *ExpiredEvent) (Caller, *ExpiredEvent, error) {
	if r.legacy != nil && r.legacy.Enabled() {
		if token := bearerToken(req); token != "" {
			userID, tier, err := r.legacy.Verify(token)
			if err == nil {
				return callerForTier(userID, "", Tier(tier), AuthMethodLegacyToken), event, nil
			}
			if r.log != nil {
				r.log.WithContext(ctx).WithError(err).Warn("legacy token rejected")
			}
		}
	}
	return anonymousCaller(), event, nil
}

func bearerToken(req *http.Request) string {
	const prefix = "Bearer "
	h := req.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
