package mcp

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Aman-CERP/indexify/internal/index"
)

// Search result bounds for the search_index tool.
const (
	DefaultSearchK = 5
	MaxSearchK     = 100
)

// FormatSearchResults formats index search results as markdown.
func FormatSearchResults(indexName, query string, results []index.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\" in index `%s`", query, indexName)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\" in `%s`\n\n", query, indexName)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// formatResult formats a single result. Metadata keys are sorted so the
// output is stable.
func formatResult(sb *strings.Builder, num int, r index.Result) {
	fmt.Fprintf(sb, "### %d. (score: %.4f)\n", num, r.Score)

	if len(r.Metadata) > 0 {
		pairs := make([]string, 0, len(r.Metadata))
		for _, k := range slices.Sorted(maps.Keys(r.Metadata)) {
			pairs = append(pairs, fmt.Sprintf("`%s`=%s", k, r.Metadata[k]))
		}
		fmt.Fprintf(sb, "**Metadata:** %s\n\n", strings.Join(pairs, ", "))
	}

	fmt.Fprintf(sb, "```text\n%s\n```\n\n", r.Text)
}

// FormatIndexList formats index summaries as a markdown table.
func FormatIndexList(indexes []IndexOutput) string {
	if len(indexes) == 0 {
		return "No indexes."
	}

	var sb strings.Builder
	sb.WriteString("| name | model | dim | metric | splitter | backend |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, ix := range indexes {
		fmt.Fprintf(&sb, "| %s | %s | %d | %s | %s | %s |\n",
			ix.Name, ix.Model, ix.Dimensions, ix.Metric, ix.Splitter, ix.Backend)
	}
	return sb.String()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
