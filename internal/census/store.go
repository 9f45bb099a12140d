package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run is one census execution over a repository window. Runs with the
// same window key are resumable: an unfinished run's slice checkpoints
// are picked up instead of refetched.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Owner      string     `json:"owner"`
	Repo       string     `json:"repo"`
	Since      time.Time  `json:"since"`
	Until      time.Time  `json:"until"`
	Scheme     string     `json:"scheme"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Store provides database operations for runs, slice checkpoints and
// report rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new census store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateRun inserts a new run row and stamps its id and start time.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	query := `
		INSERT INTO runs (id, owner, repo, since, until, scheme)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at
	`
	err := s.pool.QueryRow(ctx, query,
		run.ID, run.Owner, run.Repo, run.Since, run.Until, run.Scheme,
	).Scan(&run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FindOpenRun returns the most recent unfinished run with the same window
// key, or nil when there is none and a fresh run must start.
func (s *Store) FindOpenRun(ctx context.Context, owner, repo string, since, until time.Time) (*Run, error) {
	query := `
		SELECT id, owner, repo, since, until, scheme, started_at, finished_at
		FROM runs
		WHERE owner = $1 AND repo = $2 AND since = $3 AND until = $4
		  AND finished_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`
	var run Run
	err := s.pool.QueryRow(ctx, query, owner, repo, since, until).Scan(
		&run.ID, &run.Owner, &run.Repo, &run.Since, &run.Until,
		&run.Scheme, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open run: %w", err)
	}
	return &run, nil
}

// FinishRun stamps a run as complete.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent finished run for a repository, or nil.
func (s *Store) LatestRun(ctx context.Context, owner, repo string) (*Run, error) {
	query := `
		SELECT id, owner, repo, since, until, scheme, started_at, finished_at
		FROM runs
		WHERE owner = $1 AND repo = $2 AND finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT 1
	`
	var run Run
	err := s.pool.QueryRow(ctx, query, owner, repo).Scan(
		&run.ID, &run.Owner, &run.Repo, &run.Since, &run.Until,
		&run.Scheme, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return &run, nil
}

// SaveSlice checkpoints one completed slice for one source. The raw event
// records are stored as JSONB so a resumed run replays aggregation and the
// temporal bot signals without refetching. Re-saving the same slice is a
// no-op.
func (s *Store) SaveSlice(ctx context.Context, runID uuid.UUID, source string, slice Slice, events []EventRecord) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal slice events: %w", err)
	}

	query := `
		INSERT INTO slice_checkpoints (run_id, source, slice_start, slice_end, undercounted, events)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, source, slice_start, slice_end) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		runID, source, slice.Start, slice.End, slice.Undercounted, payload)
	if err != nil {
		return fmt.Errorf("failed to save slice checkpoint: %w", err)
	}
	return nil
}

// LoadSlices returns the checkpointed slices of one source for a run: the
// set of completed slice keys plus every event recorded across them.
func (s *Store) LoadSlices(ctx context.Context, runID uuid.UUID, source string) (map[string]bool, []EventRecord, error) {
	query := `
		SELECT slice_start, slice_end, undercounted, events
		FROM slice_checkpoints
		WHERE run_id = $1 AND source = $2
		ORDER BY slice_start
	`
	rows, err := s.pool.Query(ctx, query, runID, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load slice checkpoints: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	var all []EventRecord
	for rows.Next() {
		var slice Slice
		var payload []byte
		if err := rows.Scan(&slice.Start, &slice.End, &slice.Undercounted, &payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan slice checkpoint: %w", err)
		}

		var events []EventRecord
		if err := json.Unmarshal(payload, &events); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal slice events: %w", err)
		}

		done[slice.Key()] = true
		all = append(all, events...)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate slice checkpoints: %w", err)
	}
	return done, all, nil
}

// SaveBuckets replaces a run's bucket report rows. Vectors may be missing
// for Dormant logins that only appear in the historical lookback.
func (s *Store) SaveBuckets(ctx context.Context, runID uuid.UUID, assignments []BucketAssignment, set ActivitySet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM bucket_rows WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear bucket rows: %w", err)
	}

	query := `
		INSERT INTO bucket_rows (run_id, login, tier, commits, prs_merged, issues_closed, reviews, comments, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, a := range assignments {
		var commits, merged, closed, reviews, comments, total int
		if v, ok := set[a.Login]; ok {
			commits = v.Count(KindCommit)
			merged = v.Count(KindPRMerged)
			closed = v.Count(KindIssueClosed)
			reviews = v.Count(KindReview)
			comments = v.Count(KindIssueComment) + v.Count(KindReviewComment)
			total = v.Total()
		}
		if _, err := tx.Exec(ctx, query,
			runID, a.Login, string(a.Tier), commits, merged, closed, reviews, comments, total); err != nil {
			return fmt.Errorf("failed to insert bucket row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveBotVerdicts replaces a run's bot report rows for one detector
// variant ("username" or "behavioral"). Only flagged logins are persisted;
// the variants never mix.
func (s *Store) SaveBotVerdicts(ctx context.Context, runID uuid.UUID, variant string, verdicts []BotVerdict) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM bot_verdicts WHERE run_id = $1 AND variant = $2`, runID, variant); err != nil {
		return fmt.Errorf("failed to clear bot verdicts: %w", err)
	}

	query := `
		INSERT INTO bot_verdicts (run_id, variant, login, score, reasons)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, v := range verdicts {
		if !v.IsBot {
			continue
		}
		if _, err := tx.Exec(ctx, query, runID, variant, v.Login, v.Score, v.Reasons); err != nil {
			return fmt.Errorf("failed to insert bot verdict: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveClusters replaces a run's identity clusters for one resolution
// method ("email" or "profile").
func (s *Store) SaveClusters(ctx context.Context, runID uuid.UUID, method string, clusters []Cluster) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM identity_clusters WHERE run_id = $1 AND method = $2`, runID, method); err != nil {
		return fmt.Errorf("failed to clear identity clusters: %w", err)
	}

	query := `
		INSERT INTO identity_clusters (run_id, method, cluster_key, logins)
		VALUES ($1, $2, $3, $4)
	`
	for _, c := range clusters {
		if _, err := tx.Exec(ctx, query, runID, method, c.Key, c.Logins); err != nil {
			return fmt.Errorf("failed to insert identity cluster: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// BucketRow is one persisted report row, tier plus the counts behind it.
type BucketRow struct {
	Login        string `json:"login"`
	Tier         string `json:"tier"`
	Commits      int    `json:"commits"`
	PRsMerged    int    `json:"prsMerged"`
	IssuesClosed int    `json:"issuesClosed"`
	Reviews      int    `json:"reviews"`
	Comments     int    `json:"comments"`
	Total        int    `json:"total"`
}

// ListBuckets returns a run's bucket report sorted by login.
func (s *Store) ListBuckets(ctx context.Context, runID uuid.UUID) ([]BucketRow, error) {
	query := `
		SELECT login, tier, commits, prs_merged, issues_closed, reviews, comments, total
		FROM bucket_rows
		WHERE run_id = $1
		ORDER BY login
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket rows: %w", err)
	}
	defer rows.Close()

	var out []BucketRow
	for rows.Next() {
		var r BucketRow
		if err := rows.Scan(&r.Login, &r.Tier, &r.Commits, &r.PRsMerged,
			&r.IssuesClosed, &r.Reviews, &r.Comments, &r.Total); err != nil {
			return nil, fmt.Errorf("failed to scan bucket row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListBotVerdicts returns a run's flagged accounts for one detector
// variant, sorted by login.
func (s *Store) ListBotVerdicts(ctx context.Context, runID uuid.UUID, variant string) ([]BotVerdict, error) {
	query := `
		SELECT login, score, reasons
		FROM bot_verdicts
		WHERE run_id = $1 AND variant = $2
		ORDER BY login
	`
	rows, err := s.pool.Query(ctx, query, runID, variant)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot verdicts: %w", err)
	}
	defer rows.Close()

	var out []BotVerdict
	for rows.Next() {
		v := BotVerdict{IsBot: true}
		if err := rows.Scan(&v.Login, &v.Score, &v.Reasons); err != nil {
			return nil, fmt.Errorf("failed to scan bot verdict: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListClusters returns a run's identity clusters for one method.
func (s *Store) ListClusters(ctx context.Context, runID uuid.UUID, method string) ([]Cluster, error) {
	query := `
		SELECT cluster_key, logins
		FROM identity_clusters
		WHERE run_id = $1 AND method = $2
		ORDER BY cluster_key
	`
	rows, err := s.pool.Query(ctx, query, runID, method)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		var c Cluster
		if err := rows.Scan(&c.Key, &c.Logins); err != nil {
			return nil, fmt.Errorf("failed to scan identity cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
