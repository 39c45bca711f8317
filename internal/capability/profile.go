// Package capability implements the gateway's power-dial profile resolution:
// a per-request profile name plus the caller's tier resolve to an effective
// generation configuration, bounded by a tier ceiling that can only
// downgrade, never upgrade, a request.
package capability

import (
	"fmt"

	"github.com/kurogate/kuro/internal/authn"
)

// Profile is a named power-dial configuration.
type Profile string

const (
	ProfileInstant   Profile = "instant"
	ProfileBalanced  Profile = "balanced"
	ProfileDeep      Profile = "deep"
	ProfileSovereign Profile = "sovereign"
)

// profileRank orders profiles for the tier-ceiling comparison.
var profileRank = map[Profile]int{
	ProfileInstant:   0,
	ProfileBalanced:  1,
	ProfileDeep:      2,
	ProfileSovereign: 3,
}

// Config is the effective configuration a resolved profile produces.
type Config struct {
	ContextLength  int
	Temperature    float64
	ReasoningMode  bool
	Speculative    bool
	RetrievalTopK  int
	HistoryLength  int
	ToolSubset     []string
}

var profileConfigs = map[Profile]Config{
	ProfileInstant: {
		ContextLength: 4096, Temperature: 0.7, ReasoningMode: false, Speculative: true,
		RetrievalTopK: 3, HistoryLength: 6, ToolSubset: []string{},
	},
	ProfileBalanced: {
		ContextLength: 16384, Temperature: 0.7, ReasoningMode: false, Speculative: false,
		RetrievalTopK: 6, HistoryLength: 20, ToolSubset: []string{"retrieval"},
	},
	ProfileDeep: {
		ContextLength: 65536, Temperature: 0.5, ReasoningMode: true, Speculative: false,
		RetrievalTopK: 10, HistoryLength: 60, ToolSubset: []string{"retrieval", "shell"},
	},
	ProfileSovereign: {
		ContextLength: 131072, Temperature: 0.4, ReasoningMode: true, Speculative: false,
		RetrievalTopK: 20, HistoryLength: 200, ToolSubset: []string{"retrieval", "shell", "file"},
	},
}

// tierCeiling is the highest profile each tier may select.
var tierCeiling = map[authn.Tier]Profile{
	authn.TierFree:      ProfileInstant,
	authn.TierPro:       ProfileDeep,
	authn.TierSovereign: ProfileSovereign,
}

// Resolution is what the client receives after resolving a power dial:
// only the summary fields needed to display the outcome.
type Resolution struct {
	Profile    Profile
	Config     Config
	Downgraded bool
	Reason     string
}

// Resolve maps requested profile and the caller's tier to an effective
// Config, silently downgrading to the tier's ceiling when the request
// exceeds it. deviceHint, when non-empty, can only further downgrade the
// result, never upgrade it. forceDowngrade (e.g. GPU thermal state, backend
// health) applies the same way.
func Resolve(requested Profile, tier authn.Tier, deviceHint Profile, forceDowngrade bool) Resolution {
	profile := requested
	if _, ok := profileConfigs[profile]; !ok {
		profile = ProfileBalanced
	}

	ceiling := tierCeiling[tier]
	if ceiling == "" {
		ceiling = ProfileInstant
	}

	downgraded := false
	reason := ""

	if profileRank[profile] > profileRank[ceiling] {
		profile = ceiling
		downgraded = true
		reason = "tier_ceiling"
	}

	if deviceHint != "" {
		if r, ok := profileRank[deviceHint]; ok && r < profileRank[profile] {
			profile = deviceHint
			downgraded = true
			reason = "device_capability"
		}
	}

	if forceDowngrade && profile != ProfileInstant {
		profile = stepDown(profile)
		downgraded = true
		reason = "infrastructure_signal"
	}

	return Resolution{
		Profile:    profile,
		Config:     profileConfigs[profile],
		Downgraded: downgraded,
		Reason:     reason,
	}
}

// ApplyOverrides queries doc for a per-profile tool-subset override at
// "$.overrides.<profile>.toolSubset" and, when present, replaces res's
// resolved ToolSubset with it. A missing path or malformed value leaves res
// untouched: the override document reshapes the static profile table, it
// never blocks a resolution.
func ApplyOverrides(res Resolution, doc *ProfileDocument) Resolution {
	if doc == nil {
		return res
	}
	value, err := doc.Query(fmt.Sprintf("$.overrides.%s.toolSubset", res.Profile))
	if err != nil {
		return res
	}
	items, ok := value.([]any)
	if !ok {
		return res
	}
	subset := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return res
		}
		subset = append(subset, s)
	}
	res.Config.ToolSubset = subset
	return res
}

func stepDown(p Profile) Profile {
	switch p {
	case ProfileSovereign:
		return ProfileDeep
	case ProfileDeep:
		return ProfileBalanced
	default:
		return ProfileInstant
	}
}
