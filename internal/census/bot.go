package census

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"
)

// BotVerdict is one detector's bot/human decision for a contributor, with
// the signals that supported it. The two variants are independent; callers
// reconcile them per their own policy.
type BotVerdict struct {
	Login   string   `json:"login"`
	IsBot   bool     `json:"isBot"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// UsernameRule pairs a structural login pattern with the reason reported
// when it matches. Rules are evaluated top-to-bottom, first match wins,
// keeping the cascade auditable in isolation.
type UsernameRule struct {
	Pattern *regexp.Regexp
	Reason  string
}

// DefaultUsernameRules is the built-in pattern library. Pure string
// matching: known patterns are never missed, but cosmetic renaming evades
// it. That is a documented limitation of this variant, not a defect.
var DefaultUsernameRules = []UsernameRule{
	{regexp.MustCompile(`(?i)\[bot\]$`), "bracketed-bot-suffix"},
	{regexp.MustCompile(`(?i)-bot$`), "bot-suffix"},
	{regexp.MustCompile(`(?i)^bot-`), "bot-prefix"},
	{regexp.MustCompile(`(?i)^(dependabot|renovate|github-actions|travis-ci|circleci|appveyor|buildkite|azure-pipelines|codecov|sonarcloud|coveralls|bors|mergify)$`), "known-automation-service"},
}

// UsernameDetector flags bots by login (and optionally display name)
// structure alone.
type UsernameDetector struct {
	Rules []UsernameRule
}

// NewUsernameDetector returns a detector with the default rule library.
func NewUsernameDetector() *UsernameDetector {
	return &UsernameDetector{Rules: DefaultUsernameRules}
}

// Detect matches login and displayName against the rule list. A match on
// either yields is_bot with the rule's reason and score 1.
func (d *UsernameDetector) Detect(login, displayName string) BotVerdict {
	v := BotVerdict{Login: NormalizeLogin(login)}
	for _, rule := range d.Rules {
		if rule.Pattern.MatchString(login) || (displayName != "" && rule.Pattern.MatchString(displayName)) {
			v.IsBot = true
			v.Score = 1
			v.Reasons = []string{rule.Reason}
			return v
		}
	}
	return v
}

// Behavioral signal names, used as weight keys in configuration.
const (
	SignalRoundTheClock  = "round_the_clock"
	SignalUniformCadence = "uniform_cadence"
	SignalReviewRatio    = "review_ratio"
	SignalYoungAccount   = "young_account"
	SignalMinimalProfile = "minimal_profile"
	SignalAppActions     = "app_actions"
)

// BehavioralConfig tunes the name-independent detector.
type BehavioralConfig struct {
	// Weights maps signal names to their share of the score.
	Weights map[string]float64 `koanf:"weights"`

	// Threshold is the score at or above which the verdict is bot.
	Threshold float64 `koanf:"threshold"`

	// MinEvents is how many timestamped actions the temporal signals need
	// before they are evaluated at all.
	MinEvents int `koanf:"min_events"`
}

// DefaultBehavioralConfig returns the stock weights and threshold.
func DefaultBehavioralConfig() BehavioralConfig {
	return BehavioralConfig{
		Weights: map[string]float64{
			SignalRoundTheClock:  0.30,
			SignalUniformCadence: 0.20,
			SignalReviewRatio:    0.15,
			SignalYoungAccount:   0.15,
			SignalMinimalProfile: 0.10,
			SignalAppActions:     0.10,
		},
		Threshold: 0.5,
		MinEvents: 50,
	}
}

// Validate rejects configurations the scorer cannot honor.
func (c BehavioralConfig) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("bot score threshold must be in (0, 1], got %g", c.Threshold)
	}
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("signal weight %q must not be negative, got %g", name, w)
		}
	}
	return nil
}

// BehaviorInput carries everything the behavioral detector may look at for
// one contributor. A nil Profile is absent evidence: profile-dependent
// signals are skipped, never scored as human.
type BehaviorInput struct {
	Vector     *ActivityVector
	Profile    *Profile
	Timestamps []time.Time
	ViaApp     int

	// Which optional sources fed this input. A source that was excluded
	// from the run removes its signals from the score entirely instead of
	// zeroing them.
	CommentsIncluded bool
	ReviewsIncluded  bool
}

// BehavioralDetector scores contributors on signals that do not depend on
// the account name.
type BehavioralDetector struct {
	cfg BehavioralConfig
}

// NewBehavioralDetector builds a detector; zero-value config fields fall
// back to defaults.
func NewBehavioralDetector(cfg BehavioralConfig) *BehavioralDetector {
	def := DefaultBehavioralConfig()
	if cfg.Weights == nil {
		cfg.Weights = def.Weights
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinEvents == 0 {
		cfg.MinEvents = def.MinEvents
	}
	return &BehavioralDetector{cfg: cfg}
}

// signal is one evaluated behavioral observation.
type signal struct {
	name   string
	fired  bool
	detail string
}

// Detect computes the weighted score. Only evaluated signals enter the
// score; skipped signals are removed from the weight mass so their absence
// carries no bias either way. An API account type of Bot is decisive.
func (d *BehavioralDetector) Detect(in BehaviorInput) BotVerdict {
	v := BotVerdict{Login: in.Vector.Login}

	if in.Profile != nil && in.Profile.Type == "Bot" {
		v.IsBot = true
		v.Score = 1
		v.Reasons = []string{"api-type-bot"}
		return v
	}

	evaluated := d.evaluate(in)

	var mass, score float64
	for _, s := range evaluated {
		w := d.cfg.Weights[s.name]
		mass += w
		if s.fired {
			score += w
			v.Reasons = append(v.Reasons, s.detail)
		}
	}
	if mass > 0 {
		v.Score = score / mass
	}
	v.IsBot = v.Score >= d.cfg.Threshold
	return v
}

// evaluate returns the signals that could be computed from this input.
func (d *BehavioralDetector) evaluate(in BehaviorInput) []signal {
	var out []signal

	ts := append([]time.Time(nil), in.Timestamps...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	if len(ts) >= d.cfg.MinEvents {
		activeHours, nightShare := hourSpread(ts)
		meanGap, cv := gapStats(ts)

		out = append(out, signal{
			name:   SignalRoundTheClock,
			fired:  activeHours >= 20 && nightShare >= 0.4,
			detail: fmt.Sprintf("round-the-clock activity (active_hours=%d, night_share=%.2f)", activeHours, nightShare),
		})
		out = append(out, signal{
			name:   SignalUniformCadence,
			fired:  meanGap > 0 && meanGap <= 600 && cv <= 0.6,
			detail: fmt.Sprintf("machine-regular cadence (mean_gap=%.0fs, cv=%.2f)", meanGap, cv),
		})
	}

	if in.ReviewsIncluded {
		reviews := in.Vector.Count(KindReview)
		commits := in.Vector.Count(KindCommit)
		out = append(out, signal{
			name:   SignalReviewRatio,
			fired:  reviews >= 20 && reviews >= 10*commits,
			detail: fmt.Sprintf("review volume dwarfs code contribution (reviews=%d, commits=%d)", reviews, commits),
		})
	}

	if in.Profile != nil && !in.Profile.CreatedAt.IsZero() && !in.Vector.FirstSeen.IsZero() {
		ageAtFirst := in.Vector.FirstSeen.Sub(in.Profile.CreatedAt)
		out = append(out, signal{
			name:   SignalYoungAccount,
			fired:  ageAtFirst < 90*24*time.Hour && in.Vector.Total() >= 50,
			detail: fmt.Sprintf("high volume from a young account (age_at_first=%dd, events=%d)", int(ageAtFirst.Hours()/24), in.Vector.Total()),
		})
	}

	if in.Profile != nil {
		out = append(out, signal{
			name:   SignalMinimalProfile,
			fired:  in.Profile.Followers == 0 && in.Profile.Following == 0 && in.Profile.Name == "",
			detail: "empty profile (no followers, no following, no display name)",
		})
	}

	if in.CommentsIncluded {
		out = append(out, signal{
			name:   SignalAppActions,
			fired:  in.ViaApp > 0,
			detail: fmt.Sprintf("%d actions performed via a GitHub App", in.ViaApp),
		})
	}

	return out
}

// hourSpread reports how many distinct UTC hours saw activity and the share
// of events between 00:00 and 05:59.
func hourSpread(ts []time.Time) (activeHours int, nightShare float64) {
	var hours [24]int
	night := 0
	for _, t := range ts {
		h := t.UTC().Hour()
		hours[h]++
		if h < 6 {
			night++
		}
	}
	for _, n := range hours {
		if n > 0 {
			activeHours++
		}
	}
	return activeHours, float64(night) / float64(len(ts))
}

// gapStats returns the mean inter-event gap in seconds and its coefficient
// of variation.
func gapStats(ts []time.Time) (mean, cv float64) {
	if len(ts) < 2 {
		return 0, 0
	}
	gaps := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		gaps = append(gaps, ts[i].Sub(ts[i-1]).Seconds())
	}
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return mean, 0
	}
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	return mean, math.Sqrt(variance) / mean
}
