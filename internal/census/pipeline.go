package census

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/skridlevsky/contrib-census/internal/github"
)

// Checkpoint source names. Each source bisects and checkpoints
// independently so a failed source resumes without touching the others.
const (
	SourceCommits        = "commits"
	SourcePRsMerged      = "prs_merged"
	SourceIssuesClosed   = "issues_closed"
	SourceIssueComments  = "issue_comments"
	SourceReviewComments = "review_comments"
)

// Fetcher is the slice of the API client the pipeline consumes.
type Fetcher interface {
	SearchCount(ctx context.Context, query string) (int, error)
	SearchIssues(ctx context.Context, query string) ([]github.SearchItem, error)
	ListCommits(ctx context.Context, owner, repo string, since, until time.Time) ([]github.Commit, error)
	ListIssueComments(ctx context.Context, owner, repo string, since time.Time) ([]github.Comment, error)
	ListReviewComments(ctx context.Context, owner, repo string, since time.Time) ([]github.Comment, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]github.Review, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	GetPull(ctx context.Context, owner, repo string, number int) (*github.Pull, error)
	GetUser(ctx context.Context, login string) (*github.User, error)
	GetRateLimit(ctx context.Context) (*github.RateLimit, error)
}

// PipelineConfig carries everything one census run needs. The caller
// validates; the pipeline assumes a coherent window.
type PipelineConfig struct {
	Owner string
	Repo  string

	Since time.Time
	Until time.Time

	SliceMonths int

	// Historical lookback, five-tier scheme only. HistoricalStart..Since
	// establishes which logins were active before the window.
	HistoricalStart       time.Time
	HistoricalSliceMonths int

	IncludeIssueComments  bool
	IncludeReviewComments bool
	IncludeReviews        bool

	Scheme     Scheme
	Tiers      TierThresholds
	Bot        BehavioralConfig
	Similarity ProfileSimilarityConfig
}

// Detector variant names, used as persistence keys.
const (
	VariantUsername   = "username"
	VariantBehavioral = "behavioral"
)

// Report is the full output of one run, as persisted. The two bot verdict
// lists come from independent detectors and are never reconciled here;
// consumers combine them per their own policy.
type Report struct {
	Run             *Run               `json:"run"`
	Buckets         []BucketAssignment `json:"buckets"`
	UsernameBots    []BotVerdict       `json:"usernameBots"`
	BehavioralBots  []BotVerdict       `json:"behavioralBots"`
	EmailClusters   []Cluster          `json:"emailClusters"`
	ProfileClusters []Cluster          `json:"profileClusters"`
}

// Pipeline runs a census end to end: fetch per slice with checkpointing,
// aggregate, classify, flag bots, resolve duplicate identities, persist.
type Pipeline struct {
	gh       Fetcher
	store    *Store
	bisector *Bisector
	cfg      PipelineConfig
}

// NewPipeline creates a pipeline over a client and store.
func NewPipeline(gh Fetcher, store *Store, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		gh:       gh,
		store:    store,
		bisector: &Bisector{},
		cfg:      cfg,
	}
}

// Run executes the census. An unfinished run over the same window is
// resumed: completed slices are loaded from their checkpoints and only
// the remainder is fetched.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if rl, err := p.gh.GetRateLimit(ctx); err == nil {
		slog.Info("rate limit status", "remaining", rl.Remaining, "limit", rl.Limit, "reset", rl.Reset)
	}

	run, err := p.resumeOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	events, err := p.collectWindow(ctx, run, p.cfg.Since, p.cfg.Until, p.cfg.SliceMonths, true)
	if err != nil {
		return nil, err
	}

	var historical map[string]bool
	if p.cfg.Scheme == FiveTier {
		histEvents, err := p.collectWindow(ctx, run, p.cfg.HistoricalStart, p.cfg.Since, p.cfg.HistoricalSliceMonths, false)
		if err != nil {
			return nil, err
		}
		historical = make(map[string]bool, 64)
		for login := range Aggregate(histEvents) {
			historical[login] = true
		}
		slog.Info("historical lookback complete", "logins", len(historical))
	}

	set := Aggregate(events)
	slog.Info("activity aggregated", "contributors", len(set), "events", len(events))

	assignments := ClassifyAll(set, historical, p.cfg.Tiers, p.cfg.Scheme)

	profiles, err := p.fetchProfiles(ctx, set)
	if err != nil {
		return nil, err
	}

	usernameBots, behavioralBots := p.detectBots(set, events, profiles)

	emailClusters := ResolveByEmail(events)
	profileClusters := ResolveByProfile(profileList(profiles), p.cfg.Similarity)

	if err := p.store.SaveBuckets(ctx, run.ID, assignments, set); err != nil {
		return nil, err
	}
	if err := p.store.SaveBotVerdicts(ctx, run.ID, VariantUsername, usernameBots); err != nil {
		return nil, err
	}
	if err := p.store.SaveBotVerdicts(ctx, run.ID, VariantBehavioral, behavioralBots); err != nil {
		return nil, err
	}
	if err := p.store.SaveClusters(ctx, run.ID, "email", emailClusters); err != nil {
		return nil, err
	}
	if err := p.store.SaveClusters(ctx, run.ID, "profile", profileClusters); err != nil {
		return nil, err
	}
	if err := p.store.FinishRun(ctx, run.ID); err != nil {
		return nil, err
	}

	slog.Info("census complete",
		"run", run.ID,
		"contributors", len(set),
		"username_bots", countFlagged(usernameBots),
		"behavioral_bots", countFlagged(behavioralBots),
		"email_clusters", len(emailClusters),
		"profile_clusters", len(profileClusters))

	return &Report{
		Run:             run,
		Buckets:         assignments,
		UsernameBots:    usernameBots,
		BehavioralBots:  behavioralBots,
		EmailClusters:   emailClusters,
		ProfileClusters: profileClusters,
	}, nil
}

func (p *Pipeline) resumeOrCreate(ctx context.Context) (*Run, error) {
	run, err := p.store.FindOpenRun(ctx, p.cfg.Owner, p.cfg.Repo, p.cfg.Since, p.cfg.Until)
	if err != nil {
		return nil, err
	}
	if run != nil {
		slog.Info("resuming unfinished run", "run", run.ID, "started", run.StartedAt)
		return run, nil
	}

	run = &Run{
		Owner:  p.cfg.Owner,
		Repo:   p.cfg.Repo,
		Since:  p.cfg.Since,
		Until:  p.cfg.Until,
		Scheme: schemeName(p.cfg.Scheme),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	slog.Info("starting run", "run", run.ID, "owner", p.cfg.Owner, "repo", p.cfg.Repo,
		"since", p.cfg.Since.Format("2006-01-02"), "until", p.cfg.Until.Format("2006-01-02"))
	return run, nil
}

// collectWindow gathers every enabled source over [since, until). The
// comment sources only run for the active window; the lookback just needs
// to know who was around.
func (p *Pipeline) collectWindow(ctx context.Context, run *Run, since, until time.Time, months int, active bool) ([]EventRecord, error) {
	slices, err := MonthSlices(since, until, months)
	if err != nil {
		return nil, err
	}

	// The lookback checkpoints under its own source names so its events
	// never bleed into the active window on resume.
	prefix := ""
	if !active {
		prefix = "historical_"
	}

	var all []EventRecord

	commits, err := p.collectCommits(ctx, run, prefix+SourceCommits, slices)
	if err != nil {
		return nil, err
	}
	all = append(all, commits...)

	merged, err := p.collectSearch(ctx, run, prefix+SourcePRsMerged, slices, p.mergedQuery, p.mergedEvents(ctx, active))
	if err != nil {
		return nil, err
	}
	all = append(all, merged...)

	closed, err := p.collectSearch(ctx, run, prefix+SourceIssuesClosed, slices, p.closedQuery, p.closedEvents(ctx))
	if err != nil {
		return nil, err
	}
	all = append(all, closed...)

	if active && p.cfg.IncludeIssueComments {
		events, err := p.collectComments(ctx, run, SourceIssueComments, since, until, p.gh.ListIssueComments)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	if active && p.cfg.IncludeReviewComments {
		events, err := p.collectComments(ctx, run, SourceReviewComments, since, until, p.gh.ListReviewComments)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}

	return all, nil
}

// collectCommits walks the commit listing per slice. The listing paginates
// past 1000 results, so no bisection is needed; month slices exist purely
// as checkpoint units.
func (p *Pipeline) collectCommits(ctx context.Context, run *Run, source string, slices []Slice) ([]EventRecord, error) {
	done, all, err := p.store.LoadSlices(ctx, run.ID, source)
	if err != nil {
		return nil, err
	}
	if len(done) > 0 {
		slicesResumed.Add(float64(len(done)))
	}

	for _, s := range slices {
		if done[s.Key()] {
			continue
		}

		commits, err := p.gh.ListCommits(ctx, p.cfg.Owner, p.cfg.Repo, s.Start, s.End)
		if err != nil {
			return nil, &RangeError{Range: s, Err: err}
		}

		events := commitEvents(commits, s)

		if err := p.store.SaveSlice(ctx, run.ID, source, s, events); err != nil {
			return nil, err
		}
		slicesCompleted.Inc()
		slog.Info("slice complete", "source", source, "range", s.Key(), "events", len(events))
		all = append(all, events...)
	}

	return all, nil
}

// collectSearch walks a search-backed source: every month slice is bisected
// under the result cap first, then each accepted sub-slice is fetched,
// converted and checkpointed.
func (p *Pipeline) collectSearch(ctx context.Context, run *Run, source string, slices []Slice,
	query func(start, end time.Time) string,
	convert func(items []github.SearchItem) ([]EventRecord, error),
) ([]EventRecord, error) {
	done, all, err := p.store.LoadSlices(ctx, run.ID, source)
	if err != nil {
		return nil, err
	}
	if len(done) > 0 {
		slicesResumed.Add(float64(len(done)))
	}

	counter := queryCounter{gh: p.gh, build: query}

	for _, s := range slices {
		accepted, err := p.bisector.Bisect(ctx, counter, s)
		if err != nil {
			return nil, err
		}

		for _, sub := range accepted {
			if done[sub.Key()] {
				continue
			}

			items, err := p.gh.SearchIssues(ctx, query(sub.Start, sub.End))
			if err != nil {
				return nil, &RangeError{Range: sub, Err: err}
			}

			events, err := convert(items)
			if err != nil {
				return nil, &RangeError{Range: sub, Err: err}
			}

			if err := p.store.SaveSlice(ctx, run.ID, source, sub, events); err != nil {
				return nil, err
			}
			slicesCompleted.Inc()
			slog.Info("slice complete", "source", source, "range", sub.Key(), "events", len(events))
			all = append(all, events...)
		}
	}

	return all, nil
}

// collectComments fetches a comment listing once for the whole window and
// checkpoints it as a single slice.
func (p *Pipeline) collectComments(ctx context.Context, run *Run, source string, since, until time.Time,
	list func(ctx context.Context, owner, repo string, since time.Time) ([]github.Comment, error),
) ([]EventRecord, error) {
	done, all, err := p.store.LoadSlices(ctx, run.ID, source)
	if err != nil {
		return nil, err
	}

	window := Slice{Start: since, End: until}
	if done[window.Key()] {
		slicesResumed.Inc()
		return all, nil
	}

	kind := KindIssueComment
	if source == SourceReviewComments {
		kind = KindReviewComment
	}

	comments, err := list(ctx, p.cfg.Owner, p.cfg.Repo, since)
	if err != nil {
		return nil, &RangeError{Range: window, Err: err}
	}

	var events []EventRecord
	for _, c := range comments {
		if c.User == nil || c.CreatedAt.Before(since) || !c.CreatedAt.Before(until) {
			continue
		}
		events = append(events, EventRecord{
			Kind:       kind,
			Login:      NormalizeLogin(c.User.Login),
			OccurredAt: c.CreatedAt,
			ViaApp:     c.PerformedViaApp(),
		})
	}

	if err := p.store.SaveSlice(ctx, run.ID, source, window, events); err != nil {
		return nil, err
	}
	slicesCompleted.Inc()
	slog.Info("slice complete", "source", source, "range", window.Key(), "events", len(events))
	return append(all, events...), nil
}

// mergedQuery builds the search query for PRs merged inside a slice.
// Search ranges are closed on both ends, slices half-open, so the end
// is pulled back one second.
func (p *Pipeline) mergedQuery(start, end time.Time) string {
	return fmt.Sprintf("repo:%s/%s is:pr is:merged merged:%s..%s",
		p.cfg.Owner, p.cfg.Repo, searchTime(start), searchTime(end.Add(-time.Second)))
}

// closedQuery builds the search query for issues closed inside a slice.
func (p *Pipeline) closedQuery(start, end time.Time) string {
	return fmt.Sprintf("repo:%s/%s is:issue is:closed closed:%s..%s",
		p.cfg.Owner, p.cfg.Repo, searchTime(start), searchTime(end.Add(-time.Second)))
}

// mergedEvents converts merged-PR search items, crediting whoever merged
// the PR. The merger needs a detail fetch; when it is missing the credit
// falls back to the author. When reviews are enabled, each PR's submitted
// reviews are credited too.
func (p *Pipeline) mergedEvents(ctx context.Context, withReviews bool) func([]github.SearchItem) ([]EventRecord, error) {
	return func(items []github.SearchItem) ([]EventRecord, error) {
		var events []EventRecord
		for _, item := range items {
			login := ""
			at := item.CreatedAt
			if item.PullRequest != nil && item.PullRequest.MergedAt != nil {
				at = *item.PullRequest.MergedAt
			}
			pull, err := p.gh.GetPull(ctx, p.cfg.Owner, p.cfg.Repo, item.Number)
			if err != nil {
				return nil, err
			}
			if pull != nil && pull.MergedBy != nil {
				login = pull.MergedBy.Login
			}
			if pull != nil && pull.MergedAt != nil {
				at = *pull.MergedAt
			}
			if login == "" && item.User != nil {
				login = item.User.Login
			}
			if login == "" {
				continue
			}
			events = append(events, EventRecord{
				Kind:       KindPRMerged,
				Login:      NormalizeLogin(login),
				OccurredAt: at,
			})

			if !withReviews || !p.cfg.IncludeReviews {
				continue
			}
			reviews, err := p.gh.ListReviews(ctx, p.cfg.Owner, p.cfg.Repo, item.Number)
			if err != nil {
				return nil, err
			}
			for _, r := range reviews {
				if r.User == nil || r.SubmittedAt == nil {
					continue
				}
				events = append(events, EventRecord{
					Kind:       KindReview,
					Login:      NormalizeLogin(r.User.Login),
					OccurredAt: *r.SubmittedAt,
				})
			}
		}
		return events, nil
	}
}

// closedEvents converts closed-issue search items, crediting whoever
// closed the issue. The closer needs a detail fetch; when it is missing
// the credit falls back to the issue author.
func (p *Pipeline) closedEvents(ctx context.Context) func([]github.SearchItem) ([]EventRecord, error) {
	return func(items []github.SearchItem) ([]EventRecord, error) {
		var events []EventRecord
		for _, item := range items {
			if item.IsPull() {
				continue
			}

			login := ""
			at := item.CreatedAt
			issue, err := p.gh.GetIssue(ctx, p.cfg.Owner, p.cfg.Repo, item.Number)
			if err != nil {
				return nil, err
			}
			if issue != nil && issue.ClosedBy != nil {
				login = issue.ClosedBy.Login
			}
			if issue != nil && issue.ClosedAt != nil {
				at = *issue.ClosedAt
			}
			if login == "" && item.User != nil {
				login = item.User.Login
			}
			if login == "" {
				continue
			}

			events = append(events, EventRecord{
				Kind:       KindIssueClosed,
				Login:      NormalizeLogin(login),
				OccurredAt: at,
			})
		}
		return events, nil
	}
}

// fetchProfiles loads the account profile of every active contributor.
// Vanished accounts stay absent; detectors treat that as missing evidence.
func (p *Pipeline) fetchProfiles(ctx context.Context, set ActivitySet) (map[string]Profile, error) {
	profiles := make(map[string]Profile, len(set))
	for login := range set {
		user, err := p.gh.GetUser(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch profile %s: %w", login, err)
		}
		if user == nil {
			continue
		}
		profiles[login] = Profile{
			Login:     NormalizeLogin(user.Login),
			Name:      user.Name,
			Company:   user.Company,
			Blog:      user.Blog,
			Type:      user.Type,
			Followers: user.Followers,
			Following: user.Following,
			CreatedAt: user.CreatedAt,
		}
	}
	return profiles, nil
}

// detectBots runs both detector variants over every contributor and
// returns their verdict lists separately, each sorted by login. The
// variants are independent observations; neither silences the other.
func (p *Pipeline) detectBots(set ActivitySet, events []EventRecord, profiles map[string]Profile) (username, behavioral []BotVerdict) {
	byLogin := make(map[string][]time.Time, len(set))
	viaApp := make(map[string]int, len(set))
	for _, e := range events {
		if e.Login == "" {
			continue
		}
		byLogin[e.Login] = append(byLogin[e.Login], e.OccurredAt)
		if e.ViaApp {
			viaApp[e.Login]++
		}
	}

	usernameDet := NewUsernameDetector()
	behavioralDet := NewBehavioralDetector(p.cfg.Bot)

	username = make([]BotVerdict, 0, len(set))
	behavioral = make([]BotVerdict, 0, len(set))
	for login, vec := range set {
		profile, hasProfile := profiles[login]

		displayName := ""
		if hasProfile {
			displayName = profile.Name
		}
		username = append(username, usernameDet.Detect(login, displayName))

		in := BehaviorInput{
			Vector:           vec,
			Timestamps:       byLogin[login],
			ViaApp:           viaApp[login],
			CommentsIncluded: p.cfg.IncludeIssueComments || p.cfg.IncludeReviewComments,
			ReviewsIncluded:  p.cfg.IncludeReviews,
		}
		if hasProfile {
			in.Profile = &profile
		}
		behavioral = append(behavioral, behavioralDet.Detect(in))
	}

	sort.Slice(username, func(i, j int) bool { return username[i].Login < username[j].Login })
	sort.Slice(behavioral, func(i, j int) bool { return behavioral[i].Login < behavioral[j].Login })
	return username, behavioral
}

// queryCounter adapts a search query builder to the bisector's probe.
type queryCounter struct {
	gh    Fetcher
	build func(start, end time.Time) string
}

func (c queryCounter) Count(ctx context.Context, start, end time.Time) (int, error) {
	return c.gh.SearchCount(ctx, c.build(start, end))
}

// searchTime formats a timestamp for a search range qualifier.
func searchTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// profileList flattens profiles in login order so pairwise resolution
// output is stable.
func profileList(profiles map[string]Profile) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}

func schemeName(s Scheme) string {
	if s == FiveTier {
		return "five_tier"
	}
	return "four_tier"
}

// commitEvents converts listed commits into events, keeping only those
// dated inside [s.Start, s.End). The listing's own bounds are inclusive on
// both ends, so this filter is what keeps adjacent slices from sharing a
// boundary commit. Commits with no mapped account are kept when they carry
// an author email; the email resolver can still cluster their relay
// addresses even though aggregation drops them.
func commitEvents(commits []github.Commit, s Slice) []EventRecord {
	events := make([]EventRecord, 0, len(commits))
	for _, c := range commits {
		at := c.Commit.Author.Date
		if at.Before(s.Start) || !at.Before(s.End) {
			continue
		}
		login := commitLogin(c)
		if login == "" && c.Commit.Author.Email == "" {
			continue
		}
		events = append(events, EventRecord{
			Kind:        KindCommit,
			Login:       login,
			OccurredAt:  at,
			CommitEmail: c.Commit.Author.Email,
		})
	}
	return events
}

func commitLogin(c github.Commit) string {
	if c.Author != nil && c.Author.Login != "" {
		return NormalizeLogin(c.Author.Login)
	}
	return ""
}

func countFlagged(verdicts []BotVerdict) int {
	n := 0
	for _, v := range verdicts {
		if v.IsBot {
			n++
		}
	}
	return n
}
