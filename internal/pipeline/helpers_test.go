package pipeline

import "github.com/kurogate/kuro/internal/authn"

func fakeCaller(userID string) authn.Caller {
	return authn.Caller{UserID: userID, Tier: authn.TierPro, Role: authn.RoleAnalyst, Level: 1}
}
