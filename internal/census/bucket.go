package census

import (
	"fmt"
	"sort"
)

// Tier is an ordered activity classification label.
type Tier string

// Tier labels, most to least exclusive.
const (
	TierCore       Tier = "Core"
	TierFrequent   Tier = "Frequent"
	TierOccasional Tier = "Occasional"
	TierNewcomer   Tier = "Newcomer"
	TierDormant    Tier = "Dormant"
)

// Scheme selects the tier policy variant.
type Scheme int

const (
	// FourTier classifies active contributors into Core, Frequent,
	// Occasional and Newcomer.
	FourTier Scheme = iota

	// FiveTier adds Dormant: contributors with qualifying lifetime
	// activity before the window but none (or next to none) inside it.
	// Requires a historical lookback set.
	FiveTier
)

// TierThresholds are the cascade cut-points. All lower bounds are closed:
// a contributor sitting exactly on a threshold lands in the higher tier.
type TierThresholds struct {
	CoreCommits       int `koanf:"core_commits"`
	CoreMergedPRs     int `koanf:"core_merged_prs"`
	FrequentCommits   int `koanf:"frequent_commits"`
	FrequentMergedPRs int `koanf:"frequent_merged_prs"`

	// NewcomerMaxTotal is the lifetime-activity ceiling below which a
	// first-window contributor is Newcomer rather than cascade-classified.
	NewcomerMaxTotal int `koanf:"newcomer_max_total"`

	// DormantMaxWindowTotal is the in-window ceiling at or below which a
	// historically active contributor counts as gone silent (five-tier
	// scheme only).
	DormantMaxWindowTotal int `koanf:"dormant_max_window_total"`
}

// DefaultTierThresholds mirrors the cut-points the metric was originally
// tuned with. They are configuration, not contract.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		CoreCommits:           200,
		CoreMergedPRs:         150,
		FrequentCommits:       20,
		FrequentMergedPRs:     25,
		NewcomerMaxTotal:      10,
		DormantMaxWindowTotal: 3,
	}
}

// Validate rejects threshold sets the cascade cannot order.
func (t TierThresholds) Validate() error {
	if t.CoreCommits <= 0 || t.CoreMergedPRs <= 0 || t.FrequentCommits <= 0 || t.FrequentMergedPRs <= 0 {
		return fmt.Errorf("tier thresholds must be positive")
	}
	if t.FrequentCommits >= t.CoreCommits {
		return fmt.Errorf("frequent commit threshold %d must be below core threshold %d", t.FrequentCommits, t.CoreCommits)
	}
	if t.FrequentMergedPRs >= t.CoreMergedPRs {
		return fmt.Errorf("frequent merged-PR threshold %d must be below core threshold %d", t.FrequentMergedPRs, t.CoreMergedPRs)
	}
	if t.NewcomerMaxTotal < 0 || t.DormantMaxWindowTotal < 0 {
		return fmt.Errorf("tier ceilings must not be negative")
	}
	return nil
}

// BucketAssignment is one contributor's tier for a run.
type BucketAssignment struct {
	Login string `json:"login"`
	Tier  Tier   `json:"tier"`
}

// Classify assigns exactly one tier to a contributor with a non-empty
// vector. The cascade is evaluated top-down, first match wins, and is never
// re-evaluated. historical holds logins with qualifying activity before the
// window; pass nil under the four-tier scheme when no lookback ran.
func Classify(v *ActivityVector, historical map[string]bool, th TierThresholds, scheme Scheme) Tier {
	commits := v.Count(KindCommit)
	merged := v.Count(KindPRMerged)
	wasActive := historical[v.Login]

	if scheme == FiveTier && wasActive && v.Total() <= th.DormantMaxWindowTotal {
		return TierDormant
	}
	if !wasActive && v.Total() <= th.NewcomerMaxTotal {
		return TierNewcomer
	}

	switch {
	case commits >= th.CoreCommits || merged >= th.CoreMergedPRs:
		return TierCore
	case commits >= th.FrequentCommits || merged >= th.FrequentMergedPRs:
		return TierFrequent
	default:
		return TierOccasional
	}
}

// ClassifyAll classifies every contributor in the set. Under the five-tier
// scheme, historically active logins with zero window activity are added as
// Dormant rows; they never appear in the activity set itself. Output is
// sorted by login for stable reports.
func ClassifyAll(set ActivitySet, historical map[string]bool, th TierThresholds, scheme Scheme) []BucketAssignment {
	out := make([]BucketAssignment, 0, len(set))
	for login, vec := range set {
		out = append(out, BucketAssignment{Login: login, Tier: Classify(vec, historical, th, scheme)})
	}

	if scheme == FiveTier {
		for login := range historical {
			if _, active := set[login]; !active {
				out = append(out, BucketAssignment{Login: login, Tier: TierDormant})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}
