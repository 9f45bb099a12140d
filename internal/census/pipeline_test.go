package census

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skridlevsky/contrib-census/internal/github"
)

// stubFetcher overrides the calls a test cares about; the embedded nil
// interface panics on anything unexpected.
type stubFetcher struct {
	Fetcher
	getPull func(ctx context.Context, owner, repo string, number int) (*github.Pull, error)
}

func (s stubFetcher) GetPull(ctx context.Context, owner, repo string, number int) (*github.Pull, error) {
	return s.getPull(ctx, owner, repo, number)
}

func testPipeline(cfg PipelineConfig) *Pipeline {
	cfg.Owner = "octo"
	cfg.Repo = "widgets"
	return NewPipeline(nil, nil, cfg)
}

func TestSearchQueries_HalfOpenRanges(t *testing.T) {
	p := testPipeline(PipelineConfig{})
	start := date(2023, time.January, 1)
	end := date(2023, time.February, 1)

	// The qualifier range is inclusive, the slice half-open: the end is
	// pulled back one second so adjacent slices never double count.
	assert.Equal(t,
		"repo:octo/widgets is:pr is:merged merged:2023-01-01T00:00:00Z..2023-01-31T23:59:59Z",
		p.mergedQuery(start, end))
	assert.Equal(t,
		"repo:octo/widgets is:issue is:closed closed:2023-01-01T00:00:00Z..2023-01-31T23:59:59Z",
		p.closedQuery(start, end))
}

func TestMergedEvents_CreditsMergerNotAuthor(t *testing.T) {
	mergedAt := date(2023, time.March, 10)
	gh := stubFetcher{getPull: func(_ context.Context, owner, repo string, number int) (*github.Pull, error) {
		assert.Equal(t, "octo", owner)
		assert.Equal(t, "widgets", repo)
		if number == 7 {
			return &github.Pull{Number: 7, MergedAt: &mergedAt, MergedBy: &github.Actor{Login: "Maintainer"}}, nil
		}
		// Merger gone: the credit falls back to the author.
		return &github.Pull{Number: 8}, nil
	}}
	p := NewPipeline(gh, nil, PipelineConfig{Owner: "octo", Repo: "widgets"})

	items := []github.SearchItem{
		{Number: 7, User: &github.Actor{Login: "author"}, CreatedAt: date(2023, time.March, 1)},
		{Number: 8, User: &github.Actor{Login: "author"}, CreatedAt: date(2023, time.March, 2)},
	}
	events, err := p.mergedEvents(context.Background(), false)(items)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "maintainer", events[0].Login)
	assert.Equal(t, KindPRMerged, events[0].Kind)
	assert.Equal(t, mergedAt, events[0].OccurredAt)

	assert.Equal(t, "author", events[1].Login)
	assert.Equal(t, date(2023, time.March, 2), events[1].OccurredAt)
}

func TestDetectBots_VariantsAreIndependent(t *testing.T) {
	p := testPipeline(PipelineConfig{Bot: DefaultBehavioralConfig()})

	// Both detectors judge every contributor; a username match does not
	// silence the behavioral pass, and the lists are never reconciled.
	set := ActivitySet{
		"dependabot[bot]": vectorWith("dependabot[bot]", map[EventKind]int{KindPRMerged: 4}),
		"alice":           vectorWith("alice", map[EventKind]int{KindCommit: 8}),
	}

	username, behavioral := p.detectBots(set, nil, map[string]Profile{
		"dependabot[bot]": {Login: "dependabot[bot]", Name: "Dependabot", Followers: 1000, Following: 10, Type: "User"},
		"alice":           {Login: "alice", Name: "Alice", Followers: 3, Following: 5, Type: "User"},
	})
	require.Len(t, username, 2)
	require.Len(t, behavioral, 2)

	byLogin := func(vs []BotVerdict) map[string]BotVerdict {
		m := make(map[string]BotVerdict)
		for _, v := range vs {
			m[v.Login] = v
		}
		return m
	}
	un, be := byLogin(username), byLogin(behavioral)

	require.True(t, un["dependabot[bot]"].IsBot)
	assert.Equal(t, []string{"bracketed-bot-suffix"}, un["dependabot[bot]"].Reasons)
	assert.False(t, un["alice"].IsBot)

	// The behavioral variant reaches its own verdict on the bot-named
	// account: sparse, human-looking activity scores below threshold.
	assert.False(t, be["dependabot[bot]"].IsBot)
	assert.False(t, be["alice"].IsBot)
}

func TestDetectBots_SortedOutput(t *testing.T) {
	p := testPipeline(PipelineConfig{Bot: DefaultBehavioralConfig()})
	set := ActivitySet{
		"zed":   vectorWith("zed", map[EventKind]int{KindCommit: 1}),
		"alice": vectorWith("alice", map[EventKind]int{KindCommit: 1}),
		"mia":   vectorWith("mia", map[EventKind]int{KindCommit: 1}),
	}

	username, behavioral := p.detectBots(set, nil, nil)
	for _, verdicts := range [][]BotVerdict{username, behavioral} {
		require.Len(t, verdicts, 3)
		assert.Equal(t, "alice", verdicts[0].Login)
		assert.Equal(t, "mia", verdicts[1].Login)
		assert.Equal(t, "zed", verdicts[2].Login)
	}
}

func TestProfileList_StableOrder(t *testing.T) {
	profiles := map[string]Profile{
		"zed":   {Login: "zed"},
		"alice": {Login: "alice"},
	}
	out := profileList(profiles)
	require.Len(t, out, 2)
	assert.Equal(t, "alice", out[0].Login)
	assert.Equal(t, "zed", out[1].Login)
}

func TestCommitLogin_UnmappedAuthorIsDropped(t *testing.T) {
	mapped := github.Commit{Author: &github.Actor{Login: "Alice"}}
	assert.Equal(t, "alice", commitLogin(mapped))

	// No account behind the email: nothing to credit.
	assert.Equal(t, "", commitLogin(github.Commit{}))
}

func testCommit(login, email string, at time.Time) github.Commit {
	var c github.Commit
	if login != "" {
		c.Author = &github.Actor{Login: login}
	}
	c.Commit.Author.Email = email
	c.Commit.Author.Date = at
	return c
}

func TestCommitEvents_BoundaryCommitLandsInOneSlice(t *testing.T) {
	// The commits endpoint is inclusive on both bounds, so a commit dated
	// exactly on a shared slice boundary comes back from both adjacent
	// requests. The half-open filter must keep it in the later slice only.
	boundary := date(2023, time.February, 1)
	sliceA := Slice{Start: date(2023, time.January, 1), End: boundary}
	sliceB := Slice{Start: boundary, End: date(2023, time.March, 1)}

	commits := []github.Commit{
		testCommit("alice", "alice@example.com", date(2023, time.January, 15)),
		testCommit("bob", "bob@example.com", boundary),
	}

	a := commitEvents(commits, sliceA)
	require.Len(t, a, 1)
	assert.Equal(t, "alice", a[0].Login)

	b := commitEvents(commits, sliceB)
	require.Len(t, b, 1)
	assert.Equal(t, "bob", b[0].Login)
}

func TestCommitEvents_UnmappedAuthorKeepsEmail(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	commits := []github.Commit{
		testCommit("", "999+ghost@users.noreply.github.com", date(2023, time.January, 5)),
		testCommit("", "", date(2023, time.January, 6)),
	}

	// No account and no email is worthless; an email-only commit rides
	// through so the email resolver can still cluster it.
	events := commitEvents(commits, s)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Login)
	assert.Equal(t, "999+ghost@users.noreply.github.com", events[0].CommitEmail)

	// Aggregation still refuses to materialize a row for it.
	assert.Empty(t, Aggregate(events))
}
