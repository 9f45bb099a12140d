package census

import (
	"strings"
	"time"
)

// EventKind classifies a single observed contributor action.
type EventKind string

// Event kind constants
const (
	KindCommit        EventKind = "commit"
	KindPRMerged      EventKind = "pr_merged"
	KindIssueClosed   EventKind = "issue_closed"
	KindReview        EventKind = "review"
	KindIssueComment  EventKind = "issue_comment"
	KindReviewComment EventKind = "review_comment"
)

// EventRecord is one observed action attributed to a contributor.
// Records are built by the GitHub client and read-only afterwards.
type EventRecord struct {
	Kind       EventKind `json:"kind"`
	Login      string    `json:"login"`
	OccurredAt time.Time `json:"occurredAt"`

	// CommitEmail is the raw commit-author email, set on commit events only.
	CommitEmail string `json:"commitEmail,omitempty"`

	// ViaApp marks comments performed through a GitHub App integration.
	ViaApp bool `json:"viaApp,omitempty"`
}

// Profile is a snapshot of a contributor's account at fetch time.
// Missing fields are absent evidence, never errors.
type Profile struct {
	Login     string    `json:"login"`
	Name      string    `json:"name,omitempty"`
	Company   string    `json:"company,omitempty"`
	Blog      string    `json:"blog,omitempty"`
	Type      string    `json:"type,omitempty"` // "User", "Bot", "Organization"
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeLogin lowercases a login so that maps keyed by contributor id
// treat "Alice" and "alice" as the same account, matching GitHub's own
// case-insensitive login semantics.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
