// Package authn implements the gateway's authentication waterfall: session
// cookie, then legacy bearer token, then anonymous guest. It also carries the
// tier-to-capability table and the per-request Caller identity produced by
// the resolver.
package authn

// Tier is a subscription level governing feature access and quotas.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierSovereign Tier = "sovereign"
)

// Role is the caller's coarse-grained role, derived from tier.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleViewer   Role = "viewer"
	RoleAnalyst  Role = "analyst"
	RoleOperator Role = "operator"
)

// Capability is a fine-grained permission a caller may hold.
type Capability string

const (
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapExec      Capability = "exec"
	CapCompute   Capability = "compute"
	CapAggregate Capability = "aggregate"
)

// AuthMethod records how the caller was authenticated.
type AuthMethod string

const (
	AuthMethodSession     AuthMethod = "session"
	AuthMethodLegacyToken AuthMethod = "legacy_token"
	AuthMethodNone        AuthMethod = "none"
)

// tierProfile is one row of the fixed tier → role/level/capability table.
type tierProfile struct {
	role         Role
	level        int
	capabilities map[Capability]bool
}

// tierTable maps free|pro|sovereign to role, level, and capability set.
// Elevated capabilities (write, exec) are never granted to free.
var tierTable = map[Tier]tierProfile{
	TierFree: {
		role:  RoleViewer,
		level: 0,
		capabilities: map[Capability]bool{
			CapRead: true,
		},
	},
	TierPro: {
		role:  RoleAnalyst,
		level: 1,
		capabilities: map[Capability]bool{
			CapRead:    true,
			CapWrite:   true,
			CapCompute: true,
		},
	},
	TierSovereign: {
		role:  RoleOperator,
		level: 2,
		capabilities: map[Capability]bool{
			CapRead:      true,
			CapWrite:     true,
			CapExec:      true,
			CapCompute:   true,
			CapAggregate: true,
		},
	},
}

// Caller is the identity bound to one request. It lives for the lifetime of
// the request only and is never persisted.
type Caller struct {
	UserID       string
	DisplayName  string
	Tier         Tier
	Role         Role
	Level        int
	Capabilities map[Capability]bool
	IsGuest      bool
	AuthMethod   AuthMethod
}

// Has reports whether the caller holds the given capability.
func (c Caller) Has(cap Capability) bool {
	if c.Capabilities == nil {
		return false
	}
	return c.Capabilities[cap]
}

// callerForTier builds a Caller from a resolved userId/tier pair using the
// fixed tier table.
func callerForTier(userID, displayName string, tier Tier, method AuthMethod) Caller {
	profile, ok := tierTable[tier]
	if !ok {
		profile = tierTable[TierFree]
		tier = TierFree
	}
	caps := make(map[Capability]bool, len(profile.capabilities))
	for k, v := range profile.capabilities {
		caps[k] = v
	}
	return Caller{
		UserID:       userID,
		DisplayName:  displayName,
		Tier:         tier,
		Role:         profile.role,
		Level:        profile.level,
		Capabilities: caps,
		IsGuest:      false,
		AuthMethod:   method,
	}
}

// anonymousCaller is the guest identity assigned when the waterfall falls
// through to unauthenticated access.
func anonymousCaller() Caller {
	return Caller{
		UserID:       "",
		Tier:         TierFree,
		Role:         RoleGuest,
		Level:        0,
		Capabilities: map[Capability]bool{CapRead: true},
		IsGuest:      true,
		AuthMethod:   AuthMethodNone,
	}
}
