package census

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsernameDetector_KnownPatterns(t *testing.T) {
	d := NewUsernameDetector()

	cases := []struct {
		login  string
		isBot  bool
		reason string
	}{
		{"dependabot[bot]", true, "bracketed-bot-suffix"},
		{"release-bot", true, "bot-suffix"},
		{"bot-herder", true, "bot-prefix"},
		{"renovate", true, "known-automation-service"},
		{"github-actions", true, "known-automation-service"},
		{"alice", false, ""},
		{"abbot", false, ""},     // "bot" inside a word is not a suffix
		{"robotics", false, ""},  // nor a prefix
		{"turbotax", false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.login, func(t *testing.T) {
			v := d.Detect(tc.login, "")
			assert.Equal(t, tc.isBot, v.IsBot)
			if tc.isBot {
				require.Len(t, v.Reasons, 1)
				assert.Equal(t, tc.reason, v.Reasons[0])
			}
		})
	}
}

func TestUsernameDetector_FirstMatchWins(t *testing.T) {
	// Matches both the bracketed suffix and the known-service list; only
	// the first rule reports.
	d := NewUsernameDetector()
	v := d.Detect("renovate[bot]", "")
	require.True(t, v.IsBot)
	require.Len(t, v.Reasons, 1)
	assert.Equal(t, "bracketed-bot-suffix", v.Reasons[0])
}

func TestBehavioralDetector_APITypeBotIsDecisive(t *testing.T) {
	d := NewBehavioralDetector(DefaultBehavioralConfig())

	v := d.Detect(BehaviorInput{
		Vector:  vectorWith("ci-runner", map[EventKind]int{KindCommit: 1}),
		Profile: &Profile{Login: "ci-runner", Type: "Bot", Followers: 100, Following: 50},
	})
	require.True(t, v.IsBot)
	assert.Equal(t, 1.0, v.Score)
	assert.Equal(t, []string{"api-type-bot"}, v.Reasons)
}

func TestBehavioralDetector_SparseAccountsSkipTemporalSignals(t *testing.T) {
	cfg := DefaultBehavioralConfig()
	d := NewBehavioralDetector(cfg)

	// Three events is far below MinEvents: no temporal signals, and with
	// no profile either the only evaluated mass comes from comments.
	ts := []time.Time{
		date(2023, time.March, 1),
		date(2023, time.March, 2),
		date(2023, time.March, 3),
	}
	v := d.Detect(BehaviorInput{
		Vector:     vectorWith("casual", map[EventKind]int{KindCommit: 3}),
		Timestamps: ts,
	})
	assert.False(t, v.IsBot)
	assert.Zero(t, v.Score)
}

func TestBehavioralDetector_SkippedSignalsLeaveTheWeightMass(t *testing.T) {
	cfg := DefaultBehavioralConfig()
	cfg.Threshold = 0.35
	d := NewBehavioralDetector(cfg)

	// Machine-regular commits every 5 minutes, no profile, no comment or
	// review sources. Only the two temporal signals are evaluated; the
	// cadence signal fires, so the score is its weight over the temporal
	// mass (0.20 / 0.50), not its share of the full mass (0.20).
	var ts []time.Time
	start := date(2023, time.March, 1)
	for i := 0; i < 300; i++ {
		ts = append(ts, start.Add(time.Duration(i)*5*time.Minute))
	}

	v := d.Detect(BehaviorInput{
		Vector:     vectorWith("cron", map[EventKind]int{KindCommit: 300}),
		Timestamps: ts,
	})
	assert.InDelta(t, 0.4, v.Score, 1e-9)
	require.True(t, v.IsBot)
	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], "cadence")
}

func TestBehavioralDetector_HumanPatternStaysUnflagged(t *testing.T) {
	d := NewBehavioralDetector(DefaultBehavioralConfig())

	// Business-hours activity with irregular gaps over several weeks.
	var ts []time.Time
	start := date(2023, time.March, 1).Add(9 * time.Hour)
	gaps := []time.Duration{
		37 * time.Minute, 2 * time.Hour, 19 * time.Minute, 3 * time.Hour,
		26 * time.Hour, 45 * time.Minute, 90 * time.Minute, 22 * time.Hour,
	}
	at := start
	for i := 0; i < 80; i++ {
		ts = append(ts, at)
		at = at.Add(gaps[i%len(gaps)])
	}

	v := d.Detect(BehaviorInput{
		Vector: vectorWith("alice", map[EventKind]int{KindCommit: 60, KindReview: 20}),
		Profile: &Profile{
			Login: "alice", Name: "Alice Jones",
			Followers: 12, Following: 30,
			CreatedAt: date(2015, time.June, 1),
		},
		Timestamps:      ts,
		ReviewsIncluded: true,
	})
	assert.False(t, v.IsBot, "reasons: %v", v.Reasons)
}

func TestBehavioralDetector_AppActionsSignal(t *testing.T) {
	cfg := DefaultBehavioralConfig()
	cfg.Threshold = 0.05
	d := NewBehavioralDetector(cfg)

	v := d.Detect(BehaviorInput{
		Vector:           vectorWith("integration", map[EventKind]int{KindIssueComment: 30}),
		ViaApp:           30,
		CommentsIncluded: true,
	})
	require.True(t, v.IsBot)
	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], "GitHub App")
}

func TestBehavioralConfig_Validate(t *testing.T) {
	cfg := DefaultBehavioralConfig()
	require.NoError(t, cfg.Validate())

	cfg.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultBehavioralConfig()
	cfg.Weights[SignalRoundTheClock] = -0.1
	assert.Error(t, cfg.Validate())
}
