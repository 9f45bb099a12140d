package census

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Cluster is a set of logins believed to be the same human under one
// resolver's criteria, with the shared key that justified the merge.
type Cluster struct {
	Logins []string `json:"logins"`
	Key    string   `json:"key"`
}

// UnionFind is a disjoint-set structure over contributor logins. Pairwise
// matches are unioned; Clusters returns the transitive closure, so A≡B and
// B≡C always land A, B, C together.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

// NewUnionFind returns an empty structure.
func NewUnionFind() *UnionFind {
	return &UnionFind{parent: make(map[string]string), rank: make(map[string]int)}
}

// Add registers a login as its own singleton set.
func (u *UnionFind) Add(x string) {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
}

// Find returns the representative of x's set, with path compression.
func (u *UnionFind) Find(x string) string {
	u.Add(x)
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		u.parent[x], x = root, u.parent[x]
	}
	return root
}

// Union merges the sets containing a and b.
func (u *UnionFind) Union(a, b string) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// Sets returns every non-singleton set, members sorted, sets ordered by
// their first member. Singletons are omitted: a cluster of one is not a
// duplicate.
func (u *UnionFind) Sets() [][]string {
	byRoot := make(map[string][]string)
	for x := range u.parent {
		root := u.Find(x)
		byRoot[root] = append(byRoot[root], x)
	}
	var out [][]string
	for _, members := range byRoot {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// noreplyRe matches provider relay addresses of the form
// 12345+login@users.noreply.<domain>. The numeric id is the provider's
// stable account key; the same account shows different display emails but
// always the same id.
var noreplyRe = regexp.MustCompile(`(?i)^(?:(\d+)\+)?([a-z0-9-]+)@users\.noreply\.[a-z0-9.-]+$`)

// CanonicalEmail strips provider-assigned noise from a commit email so the
// same underlying account resolves to one key. Relay addresses with a
// numeric id reduce to that id; legacy relay addresses reduce to their
// embedded login; anything else is the trimmed lowercase address.
func CanonicalEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	if m := noreplyRe.FindStringSubmatch(email); m != nil {
		if m[1] != "" {
			return "noreply:" + m[1]
		}
		return "noreply-login:" + m[2]
	}
	return email
}

// NoreplyLogin extracts the login embedded in a relay address, empty when
// the address is not a relay address.
func NoreplyLogin(email string) string {
	m := noreplyRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(email)))
	if m == nil {
		return ""
	}
	return m[2]
}

// ResolveByEmail clusters logins observed committing under the same
// canonical email. Deterministic, no thresholds. Two distinct humans
// sharing a canonical form (a team address, say) merge falsely; that is a
// documented limitation of this variant.
func ResolveByEmail(events []EventRecord) []Cluster {
	uf := NewUnionFind()
	firstByCanon := make(map[string]string) // canonical email -> first login seen
	keyOf := make(map[string]string)        // login -> canonical email that placed it

	for _, e := range events {
		if e.Kind != KindCommit || e.CommitEmail == "" {
			continue
		}
		canon := CanonicalEmail(e.CommitEmail)
		if canon == "" {
			continue
		}

		login := NormalizeLogin(e.Login)
		if embedded := NoreplyLogin(e.CommitEmail); embedded != "" {
			if login == "" {
				login = embedded
			} else if embedded != login {
				uf.Union(login, embedded)
				keyOf[embedded] = canon
			}
		}
		if login == "" {
			continue
		}

		uf.Add(login)
		if _, ok := keyOf[login]; !ok {
			keyOf[login] = canon
		}
		if first, ok := firstByCanon[canon]; ok {
			uf.Union(first, login)
		} else {
			firstByCanon[canon] = login
		}
	}

	var out []Cluster
	for _, members := range uf.Sets() {
		out = append(out, Cluster{Logins: members, Key: keyOf[members[0]]})
	}
	return out
}

// ProfileSimilarityConfig tunes the pairwise profile resolver.
type ProfileSimilarityConfig struct {
	// Threshold is the pair score at or above which two profiles merge.
	Threshold float64 `koanf:"threshold"`

	// NameSimilarity is the minimum normalized name similarity for the
	// name component to count.
	NameSimilarity float64 `koanf:"name_similarity"`

	// CreatedWithinHours is how close two account-creation times must be
	// for the temporal component to count.
	CreatedWithinHours int `koanf:"created_within_hours"`
}

// DefaultProfileSimilarityConfig mirrors the original tuning: same name
// scores 2, same blog or company 1 each, creation within a day 1, and 3
// total is suspicious.
func DefaultProfileSimilarityConfig() ProfileSimilarityConfig {
	return ProfileSimilarityConfig{
		Threshold:          3,
		NameSimilarity:     0.9,
		CreatedWithinHours: 24,
	}
}

// Validate rejects configurations the resolver cannot honor.
func (c ProfileSimilarityConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("similarity threshold must be positive, got %g", c.Threshold)
	}
	if c.NameSimilarity <= 0 || c.NameSimilarity > 1 {
		return fmt.Errorf("name similarity must be in (0, 1], got %g", c.NameSimilarity)
	}
	return nil
}

// PairScore computes the similarity score between two profiles. Empty
// fields contribute nothing: a missing name is absent evidence, not a
// mismatch.
func PairScore(a, b Profile, cfg ProfileSimilarityConfig) float64 {
	score := 0.0
	if na, nb := normText(a.Name), normText(b.Name); na != "" && nb != "" {
		if similarity(na, nb) >= cfg.NameSimilarity {
			score += 2
		}
	}
	if ba, bb := normText(a.Blog), normText(b.Blog); ba != "" && ba == bb {
		score++
	}
	if ca, cb := normText(a.Company), normText(b.Company); ca != "" && ca == cb {
		score++
	}
	if !a.CreatedAt.IsZero() && !b.CreatedAt.IsZero() {
		gap := a.CreatedAt.Sub(b.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < time.Duration(cfg.CreatedWithinHours)*time.Hour {
			score++
		}
	}
	return score
}

// ResolveByProfile clusters profiles whose pairwise score meets the
// threshold. O(n²) over the candidate set by construction; the set is one
// repository-window's contributors, so callers needing scale should block
// on a key first.
func ResolveByProfile(profiles []Profile, cfg ProfileSimilarityConfig) []Cluster {
	uf := NewUnionFind()
	bestScore := make(map[string]float64)

	for i := range profiles {
		uf.Add(NormalizeLogin(profiles[i].Login))
		for j := i + 1; j < len(profiles); j++ {
			score := PairScore(profiles[i], profiles[j], cfg)
			if score < cfg.Threshold {
				continue
			}
			la, lb := NormalizeLogin(profiles[i].Login), NormalizeLogin(profiles[j].Login)
			uf.Union(la, lb)
			if score > bestScore[la] {
				bestScore[la] = score
			}
			if score > bestScore[lb] {
				bestScore[lb] = score
			}
		}
	}

	var out []Cluster
	for _, members := range uf.Sets() {
		best := 0.0
		for _, m := range members {
			if bestScore[m] > best {
				best = bestScore[m]
			}
		}
		out = append(out, Cluster{Logins: members, Key: fmt.Sprintf("score=%.1f", best)})
	}
	return out
}

// normText lowercases and NFKC-normalizes free text so visually identical
// profile fields compare equal.
func normText(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// similarity is 1 minus the normalized edit distance between two strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance over runes with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
