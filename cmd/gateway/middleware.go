package main

import (
	"context"
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/internal/audit"
	"github.com/kurogate/kuro/internal/authn"
)

// callerContextKey is the request-scoped key the auth middleware stashes
// the resolved Caller under. Unexported so only requireCaller/callerFrom
// can read it back.
type callerContextKey struct{}

// withCaller stashes caller on ctx, and mirrors its user ID and role into
// logging's context keys so downstream code that only knows about
// httputil.GetUserID/GetUserRole (the rate limiter, the access logger)
// still sees the right identity.
func withCaller(ctx context.Context, caller authn.Caller) context.Context {
	ctx = context.WithValue(ctx, callerContextKey{}, caller)
	ctx = logging.WithUserID(ctx, caller.UserID)
	ctx = logging.WithRole(ctx, string(caller.Role))
	return ctx
}

// callerFromContext returns the Caller stashed by the auth middleware, or
// the zero-value anonymous Caller if none was resolved.
func callerFromContext(ctx context.Context) authn.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(authn.Caller)
	return caller
}

// requireCaller resolves the request's identity through the authentication
// waterfall and rejects guests. It is used on every route except
// /api/stream (which resolves its own caller so it can keep serving
// guests under the anonymous quota), /api/capability/negotiate (which uses
// optionalCaller), and the handful of public routes (health, capability
// profile listing).
func requireCaller(resolver *authn.Resolver, chain *audit.Chain, log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, expired, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				log.WithContext(r.Context()).WithError(err).Error("auth resolution failed")
				httputil.InternalError(w, "authentication unavailable")
				return
			}
			if expired != nil && chain != nil {
				_, _ = chain.Append(caller.UserID, string(caller.Role), "session_expired", expired.SessionID, map[string]any{"reason": expired.Reason})
			}
			if caller.IsGuest {
				httputil.Unauthorized(w, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

// optionalCaller resolves identity but never rejects — used by routes that
// serve both guests and authenticated callers with different behavior
// (e.g. /api/capability/negotiate, whose tier ceiling depends on the caller).
func optionalCaller(resolver *authn.Resolver, log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				log.WithContext(r.Context()).WithError(err).Warn("auth resolution failed, continuing as guest")
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}
