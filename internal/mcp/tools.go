package mcp

import (
	"time"

	"github.com/Aman-CERP/indexify/internal/catalog"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

// ListModelsInput defines the input schema for the list_models tool (no parameters).
type ListModelsInput struct{}

// ListModelsOutput defines the output schema for the list_models tool.
type ListModelsOutput struct {
	Models []ModelOutput `json:"models" jsonschema:"configured embedding models"`
}

// ModelOutput describes one embedding model.
type ModelOutput struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

// GenerateInput defines the input schema for the generate_embeddings tool.
type GenerateInput struct {
	Model string   `json:"model" jsonschema:"name of a configured embedding model"`
	Texts []string `json:"texts" jsonschema:"texts to embed, one vector is returned per text"`
}

// GenerateOutput defines the output schema for the generate_embeddings tool.
type GenerateOutput struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// CreateIndexInput defines the input schema for the create_index tool.
type CreateIndexInput struct {
	Name        string   `json:"name" jsonschema:"index name: letters, digits, dot, dash and underscore"`
	Model       string   `json:"model" jsonschema:"embedding model used for every text in the index"`
	Metric      string   `json:"metric,omitempty" jsonschema:"distance metric: cosine, dot or euclidean, default cosine"`
	Splitter    string   `json:"splitter,omitempty" jsonschema:"text splitter: none, new_line or regex, default new_line"`
	Pattern     string   `json:"pattern,omitempty" jsonschema:"regular expression separating fragments when splitter is regex"`
	DedupFields []string `json:"dedup_fields,omitempty" jsonschema:"metadata fields that identify a fragment instead of its text"`
}

// IndexOutput describes one index.
type IndexOutput struct {
	Name        string    `json:"name"`
	Model       string    `json:"embedding_model"`
	Dimensions  int       `json:"vector_dim"`
	Metric      string    `json:"metric"`
	Splitter    string    `json:"splitter"`
	Pattern     string    `json:"pattern,omitempty"`
	DedupFields []string  `json:"dedup_fields,omitempty"`
	Backend     string    `json:"backend"`
	CreatedAt   string    `json:"created_at"`
	Count       *int      `json:"count,omitempty"`
}

// DocumentInput is one text to add, with optional metadata.
type DocumentInput struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddTextsInput defines the input schema for the add_texts tool.
type AddTextsInput struct {
	Index     string          `json:"index" jsonschema:"name of an existing index"`
	Documents []DocumentInput `json:"documents" jsonschema:"texts to split, embed and store"`
}

// AddTextsOutput defines the output schema for the add_texts tool.
type AddTextsOutput struct {
	Index string `json:"index"`
	Added int    `json:"added" jsonschema:"number of fragments written"`
}

// SearchIndexInput defines the input schema for the search_index tool.
type SearchIndexInput struct {
	Index string `json:"index" jsonschema:"name of an existing index"`
	Query string `json:"query" jsonschema:"text to search for"`
	K     int    `json:"k,omitempty" jsonschema:"number of results, default 5"`
}

// SearchIndexOutput defines the output schema for the search_index tool.
type SearchIndexOutput struct {
	Index   string         `json:"index"`
	Results []index.Result `json:"results"`
}

// IndexNameInput names one index.
type IndexNameInput struct {
	Name string `json:"name" jsonschema:"index name"`
}

// ListIndexesInput defines the input schema for the list_indexes tool (no parameters).
type ListIndexesInput struct{}

// ListIndexesOutput defines the output schema for the list_indexes tool.
type ListIndexesOutput struct {
	Indexes []IndexOutput `json:"indexes"`
}

// DeleteIndexOutput defines the output schema for the delete_index tool.
type DeleteIndexOutput struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// IndexStatsOutput defines the output schema for the index_stats tool.
type IndexStatsOutput struct {
	Index           string           `json:"index"`
	TotalQueries    int64            `json:"total_queries"`
	ZeroResultCount int64            `json:"zero_result_count"`
	RepeatCount     int64            `json:"repeat_count"`
	Latency         map[string]int64 `json:"latency_distribution" jsonschema:"searches per latency bucket (p10 is under 10ms)"`
	TopTerms        []TermOutput     `json:"top_terms"`
	// ZeroResultQueries are the most recent first.
	ZeroResultQueries []string `json:"zero_result_queries"`
	FirstDay          string   `json:"first_day,omitempty"`
}

// TermOutput is one frequent query term.
type TermOutput struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func toStatsOutput(s *telemetry.Stats) IndexStatsOutput {
	out := IndexStatsOutput{
		Index:             s.Index,
		TotalQueries:      s.TotalQueries,
		ZeroResultCount:   s.ZeroResultCount,
		RepeatCount:       s.RepeatCount,
		Latency:           make(map[string]int64, len(s.LatencyDistribution)),
		TopTerms:          make([]TermOutput, len(s.TopTerms)),
		ZeroResultQueries: make([]string, len(s.ZeroResultQueries)),
		FirstDay:          s.FirstDay,
	}
	for b, n := range s.LatencyDistribution {
		out.Latency[string(b)] = n
	}
	for i, tc := range s.TopTerms {
		out.TopTerms[i] = TermOutput{Term: tc.Term, Count: tc.Count}
	}
	for i, q := range s.ZeroResultQueries {
		out.ZeroResultQueries[i] = q.Query
	}
	return out
}

func toIndexOutput(rec catalog.Record) IndexOutput {
	return IndexOutput{
		Name:        rec.Name,
		Model:       rec.Model,
		Dimensions:  rec.Dimensions,
		Metric:      rec.Metric,
		Splitter:    rec.Splitter,
		Pattern:     rec.Pattern,
		DedupFields: rec.DedupFields,
		Backend:     rec.Backend,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
