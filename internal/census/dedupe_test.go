package census

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12345+alice@users.noreply.github.com", "noreply:12345"},
		{"12345+Alice@users.noreply.GitHub.com", "noreply:12345"},
		{"alice@users.noreply.github.com", "noreply-login:alice"},
		{" Alice@Example.COM ", "alice@example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanonicalEmail(tc.in), "input %q", tc.in)
	}
}

func TestUnionFind_TransitiveClosure(t *testing.T) {
	uf := NewUnionFind()
	uf.Union("a", "b")
	uf.Union("b", "c")
	uf.Union("x", "y")
	uf.Add("loner")

	sets := uf.Sets()
	require.Len(t, sets, 2, "singletons are not clusters")

	var abc []string
	for _, s := range sets {
		if len(s) == 3 {
			abc = s
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, abc)
}

func TestResolveByEmail_SameRelayIDMerges(t *testing.T) {
	at := date(2023, time.March, 1)
	events := []EventRecord{
		{Kind: KindCommit, Login: "alice", OccurredAt: at, CommitEmail: "999+alice@users.noreply.github.com"},
		{Kind: KindCommit, Login: "alice-work", OccurredAt: at, CommitEmail: "999+alice@users.noreply.github.com"},
		// Different relay id: same human name means nothing here.
		{Kind: KindCommit, Login: "other-alice", OccurredAt: at, CommitEmail: "777+other-alice@users.noreply.github.com"},
	}

	clusters := ResolveByEmail(events)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"alice", "alice-work"}, clusters[0].Logins)
	assert.Equal(t, "noreply:999", clusters[0].Key)
}

func TestResolveByEmail_EmbeddedLoginLinksToAuthor(t *testing.T) {
	at := date(2023, time.March, 1)
	// The commit is attributed to a different account than the login
	// embedded in the relay address; both belong to one person.
	events := []EventRecord{
		{Kind: KindCommit, Login: "bob-laptop", OccurredAt: at, CommitEmail: "bob@users.noreply.github.com"},
	}

	clusters := ResolveByEmail(events)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"bob", "bob-laptop"}, clusters[0].Logins)
}

func TestResolveByEmail_UnattributedRelayCommitStillClusters(t *testing.T) {
	at := date(2023, time.March, 1)
	// The relay commit maps to no account at all; the login embedded in
	// the address is still enough to tie it to the attributed commit
	// sharing the relay id.
	events := []EventRecord{
		{Kind: KindCommit, Login: "", OccurredAt: at, CommitEmail: "999+ghost@users.noreply.github.com"},
		{Kind: KindCommit, Login: "ghost-work", OccurredAt: at, CommitEmail: "999+ghost@users.noreply.github.com"},
	}

	clusters := ResolveByEmail(events)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"ghost", "ghost-work"}, clusters[0].Logins)
	assert.Equal(t, "noreply:999", clusters[0].Key)
}

func TestResolveByEmail_PlainEmailsCluster(t *testing.T) {
	at := date(2023, time.March, 1)
	events := []EventRecord{
		{Kind: KindCommit, Login: "carol", OccurredAt: at, CommitEmail: "carol@example.com"},
		{Kind: KindCommit, Login: "cdev", OccurredAt: at, CommitEmail: "Carol@Example.com"},
		{Kind: KindCommit, Login: "dave", OccurredAt: at, CommitEmail: "dave@example.com"},
		{Kind: KindPRMerged, Login: "eve", OccurredAt: at}, // non-commit events carry no email
	}

	clusters := ResolveByEmail(events)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"carol", "cdev"}, clusters[0].Logins)
}

func TestPairScore(t *testing.T) {
	cfg := DefaultProfileSimilarityConfig()
	created := date(2020, time.May, 10)

	a := Profile{Login: "alice", Name: "Alice Jones", Blog: "https://alice.dev", Company: "Acme", CreatedAt: created}
	b := Profile{Login: "ajones", Name: "Alice Jones", Blog: "https://alice.dev", Company: "Acme", CreatedAt: created.Add(2 * time.Hour)}
	assert.Equal(t, 5.0, PairScore(a, b, cfg))

	// Empty fields are absent evidence, never mismatches.
	c := Profile{Login: "ghost"}
	assert.Equal(t, 0.0, PairScore(a, c, cfg))

	// Near-identical names count; unrelated names do not.
	d := Profile{Login: "alicej", Name: "alice jones", CreatedAt: created.Add(400 * time.Hour)}
	assert.Equal(t, 2.0, PairScore(a, d, cfg))
	e := Profile{Login: "mallory", Name: "Mallory Smith", CreatedAt: created.Add(400 * time.Hour)}
	assert.Equal(t, 0.0, PairScore(a, e, cfg))
}

func TestResolveByProfile_ThresholdGates(t *testing.T) {
	cfg := DefaultProfileSimilarityConfig()
	created := date(2021, time.April, 2)

	profiles := []Profile{
		{Login: "alice", Name: "Alice Jones", Blog: "alice.dev", CreatedAt: created},
		{Login: "ajones", Name: "Alice Jones", Blog: "alice.dev", CreatedAt: created.Add(time.Hour)},
		// Shares only the name: score 2, under the default threshold of 3.
		{Login: "alice-fan", Name: "Alice Jones", CreatedAt: created.AddDate(1, 0, 0)},
		{Login: "bob", Name: "Bob B"},
	}

	clusters := ResolveByProfile(profiles, cfg)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"alice", "ajones"}, clusters[0].Logins)
}

func TestResolveByProfile_TransitiveMerge(t *testing.T) {
	cfg := DefaultProfileSimilarityConfig()
	created := date(2021, time.April, 2)

	// a~b match on name+blog, b~c on name+company; all three merge even
	// though a~c alone would not.
	profiles := []Profile{
		{Login: "a", Name: "Sam Lee", Blog: "sam.io", CreatedAt: created},
		{Login: "b", Name: "Sam Lee", Blog: "sam.io", Company: "Initech", CreatedAt: created.AddDate(2, 0, 0)},
		{Login: "c", Name: "Sam Lee", Company: "Initech", CreatedAt: created.AddDate(4, 0, 0)},
	}

	clusters := ResolveByProfile(profiles, cfg)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, clusters[0].Logins)
}
