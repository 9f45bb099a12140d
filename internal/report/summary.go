package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/skridlevsky/contrib-census/internal/census"
)

// TierSummary aggregates one tier's bucket rows: membership and the mean
// activity counts of its members.
type TierSummary struct {
	Tier            string  `json:"tier"`
	Members         int     `json:"members"`
	AvgCommits      float64 `json:"avgCommits"`
	AvgPRsMerged    float64 `json:"avgPrsMerged"`
	AvgIssuesClosed float64 `json:"avgIssuesClosed"`
	AvgTotal        float64 `json:"avgTotal"`
}

// tierOrder fixes summary row order, most to least active.
var tierOrder = []census.Tier{
	census.TierCore,
	census.TierFrequent,
	census.TierOccasional,
	census.TierNewcomer,
	census.TierDormant,
}

// SummarizeTiers folds bucket rows into per-tier statistics. Tiers with no
// members are omitted; rows come out in cascade order.
func SummarizeTiers(rows []census.BucketRow) []TierSummary {
	byTier := make(map[string]*TierSummary)
	for _, r := range rows {
		s, ok := byTier[r.Tier]
		if !ok {
			s = &TierSummary{Tier: r.Tier}
			byTier[r.Tier] = s
		}
		s.Members++
		s.AvgCommits += float64(r.Commits)
		s.AvgPRsMerged += float64(r.PRsMerged)
		s.AvgIssuesClosed += float64(r.IssuesClosed)
		s.AvgTotal += float64(r.Total)
	}

	var out []TierSummary
	for _, tier := range tierOrder {
		s, ok := byTier[string(tier)]
		if !ok {
			continue
		}
		n := float64(s.Members)
		s.AvgCommits /= n
		s.AvgPRsMerged /= n
		s.AvgIssuesClosed /= n
		s.AvgTotal /= n
		out = append(out, *s)
	}
	return out
}

// WriteTierSummary writes per-tier statistics as CSV.
func WriteTierSummary(w io.Writer, summaries []TierSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"tier", "members", "avg_commits", "avg_prs_merged", "avg_issues_closed", "avg_total"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range summaries {
		record := []string{
			s.Tier, strconv.Itoa(s.Members),
			strconv.FormatFloat(s.AvgCommits, 'f', 2, 64),
			strconv.FormatFloat(s.AvgPRsMerged, 'f', 2, 64),
			strconv.FormatFloat(s.AvgIssuesClosed, 'f', 2, 64),
			strconv.FormatFloat(s.AvgTotal, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
