package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skridlevsky/contrib-census/internal/census"
)

func TestSummarizeTiers(t *testing.T) {
	rows := []census.BucketRow{
		{Login: "alice", Tier: "Core", Commits: 300, PRsMerged: 40, IssuesClosed: 10, Total: 350},
		{Login: "bob", Tier: "Core", Commits: 100, PRsMerged: 20, IssuesClosed: 30, Total: 150},
		{Login: "carol", Tier: "Occasional", Commits: 4, Total: 4},
		{Login: "dave", Tier: "Dormant"},
	}

	summaries := SummarizeTiers(rows)
	require.Len(t, summaries, 3)

	// Cascade order, empty tiers omitted.
	assert.Equal(t, "Core", summaries[0].Tier)
	assert.Equal(t, "Occasional", summaries[1].Tier)
	assert.Equal(t, "Dormant", summaries[2].Tier)

	core := summaries[0]
	assert.Equal(t, 2, core.Members)
	assert.Equal(t, 200.0, core.AvgCommits)
	assert.Equal(t, 30.0, core.AvgPRsMerged)
	assert.Equal(t, 20.0, core.AvgIssuesClosed)
	assert.Equal(t, 250.0, core.AvgTotal)

	dormant := summaries[2]
	assert.Equal(t, 1, dormant.Members)
	assert.Equal(t, 0.0, dormant.AvgTotal)
}

func TestWriteTierSummary(t *testing.T) {
	var buf bytes.Buffer
	summaries := []TierSummary{
		{Tier: "Core", Members: 2, AvgCommits: 200, AvgPRsMerged: 30, AvgIssuesClosed: 20, AvgTotal: 250},
	}
	require.NoError(t, WriteTierSummary(&buf, summaries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"tier", "members", "avg_commits", "avg_prs_merged", "avg_issues_closed", "avg_total"}, records[0])
	assert.Equal(t, []string{"Core", "2", "200.00", "30.00", "20.00", "250.00"}, records[1])
}
