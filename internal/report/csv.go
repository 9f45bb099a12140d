// Package report renders persisted census output as audit files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/skridlevsky/contrib-census/internal/census"
)

// WriteBuckets writes the tier report as CSV, one contributor per row.
func WriteBuckets(w io.Writer, rows []census.BucketRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"login", "tier", "commits", "prs_merged", "issues_closed", "reviews", "comments", "total"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Login, r.Tier,
			strconv.Itoa(r.Commits), strconv.Itoa(r.PRsMerged),
			strconv.Itoa(r.IssuesClosed), strconv.Itoa(r.Reviews),
			strconv.Itoa(r.Comments), strconv.Itoa(r.Total),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBots writes flagged accounts as CSV with their reasons joined.
func WriteBots(w io.Writer, verdicts []census.BotVerdict) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"login", "score", "reasons"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, v := range verdicts {
		record := []string{
			v.Login,
			strconv.FormatFloat(v.Score, 'f', 2, 64),
			strings.Join(v.Reasons, "; "),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteClusters writes identity clusters as CSV, logins joined per row.
func WriteClusters(w io.Writer, clusters []census.Cluster) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "logins"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, c := range clusters {
		if err := cw.Write([]string{c.Key, strings.Join(c.Logins, " ")}); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
