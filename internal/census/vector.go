package census

import (
	"time"
)

// ActivityVector is one contributor's per-kind event counts over a window,
// plus the first and last time they were seen inside it.
type ActivityVector struct {
	Login     string            `json:"login"`
	Counts    map[EventKind]int `json:"counts"`
	FirstSeen time.Time         `json:"firstSeen"`
	LastSeen  time.Time         `json:"lastSeen"`
}

// NewActivityVector returns an empty vector for a login.
func NewActivityVector(login string) *ActivityVector {
	return &ActivityVector{
		Login:  NormalizeLogin(login),
		Counts: make(map[EventKind]int),
	}
}

// Count returns the count for one kind, zero when never observed.
func (v *ActivityVector) Count(kind EventKind) int {
	return v.Counts[kind]
}

// Total returns the sum over all kinds.
func (v *ActivityVector) Total() int {
	total := 0
	for _, n := range v.Counts {
		total += n
	}
	return total
}

// observe folds a single event into the vector.
func (v *ActivityVector) observe(e EventRecord) {
	v.Counts[e.Kind]++
	if v.FirstSeen.IsZero() || e.OccurredAt.Before(v.FirstSeen) {
		v.FirstSeen = e.OccurredAt
	}
	if e.OccurredAt.After(v.LastSeen) {
		v.LastSeen = e.OccurredAt
	}
}

// Merge folds other into v. The operation is commutative and associative,
// so slice-level vectors can be merged in any order and still produce the
// vector a single full-window scan would have built.
func (v *ActivityVector) Merge(other *ActivityVector) {
	for kind, n := range other.Counts {
		v.Counts[kind] += n
	}
	if !other.FirstSeen.IsZero() && (v.FirstSeen.IsZero() || other.FirstSeen.Before(v.FirstSeen)) {
		v.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(v.LastSeen) {
		v.LastSeen = other.LastSeen
	}
}

// ActivitySet maps lowercase logins to their vectors. Contributors with no
// qualifying events never appear; there are no implicit zero rows.
type ActivitySet map[string]*ActivityVector

// Aggregate folds raw events into per-contributor vectors. Events carrying
// no login are dropped. Deterministic for a fixed multiset of events.
func Aggregate(events []EventRecord) ActivitySet {
	set := make(ActivitySet)
	for _, e := range events {
		login := NormalizeLogin(e.Login)
		if login == "" {
			continue
		}
		vec, ok := set[login]
		if !ok {
			vec = NewActivityVector(login)
			set[login] = vec
		}
		vec.observe(e)
	}
	return set
}

// MergeSets folds src into dst, combining vectors for shared logins.
func MergeSets(dst, src ActivitySet) {
	for login, vec := range src {
		if existing, ok := dst[login]; ok {
			existing.Merge(vec)
		} else {
			dst[login] = vec
		}
	}
}
