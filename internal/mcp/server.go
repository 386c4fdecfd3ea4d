package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/indexify/internal/embed"
	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/splitter"
	"github.com/Aman-CERP/indexify/internal/store"
	"github.com/Aman-CERP/indexify/pkg/version"
)

// Embedder is the part of the embedding router the tools use.
type Embedder interface {
	Models() []embed.ModelInfo
	GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Server is the MCP server for Indexify.
type Server struct {
	mcp      *mcp.Server
	embedder Embedder
	indexes  *index.Manager
	logger   *slog.Logger

	tools []ToolInfo
	calls map[string]toolFunc
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// toolFunc runs a tool from loosely typed arguments.
type toolFunc func(ctx context.Context, args map[string]any) (any, error)

// NewServer creates a new MCP server. indexes may be nil, in which case the
// index tools fail with ErrIndexesDisabled.
func NewServer(embedder Embedder, indexes *index.Manager, logger *slog.Logger) (*Server, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		embedder: embedder,
		indexes:  indexes,
		logger:   logger,
		calls:    make(map[string]toolFunc),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)

	s.registerTools()
	return s, nil
}

// addTool registers a typed handler with the MCP server and with CallTool.
func addTool[In, Out any](s *Server, name, description string, h mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: description}, logged(s, name, h))
	s.tools = append(s.tools, ToolInfo{Name: name, Description: description})
	s.calls[name] = func(ctx context.Context, args map[string]any) (any, error) {
		var in In
		if args != nil {
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, NewInvalidParamsError(err.Error())
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NewInvalidParamsError(fmt.Sprintf("invalid arguments for %s: %v", name, err))
			}
		}
		_, out, err := h(ctx, nil, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	s.logger.Debug("Registered tool", slog.String("name", name))
}

// logged wraps a handler with a per-call log line.
func logged[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		requestID := uuid.NewString()[:8]
		res, out, err := h(ctx, req, in)
		attrs := []any{
			slog.String("request_id", requestID),
			slog.String("tool", name),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			s.logger.Warn("tool_call_failed", append(attrs, ixerrors.LogAttrs(err)...)...)
		} else {
			s.logger.Debug("tool_call", attrs...)
		}
		return res, out, err
	}
}

func (s *Server) registerTools() {
	addTool(s, "list_models",
		"List the configured embedding models and the vector length each produces.",
		s.listModelsHandler)
	addTool(s, "generate_embeddings",
		"Embed a list of texts with a configured model. Returns one vector per text, in order.",
		s.generateHandler)
	addTool(s, "create_index",
		"Create a named vector index bound to one embedding model, distance metric and text splitter.",
		s.createIndexHandler)
	addTool(s, "add_texts",
		"Split texts into fragments, embed them with the index model and store them. Re-adding a fragment replaces it.",
		s.addTextsHandler)
	addTool(s, "search_index",
		"Return the k stored fragments nearest to a query, best first.",
		s.searchIndexHandler)
	addTool(s, "list_indexes",
		"List every index with its model, metric and splitter.",
		s.listIndexesHandler)
	addTool(s, "describe_index",
		"Show one index and how many fragments it holds.",
		s.describeIndexHandler)
	addTool(s, "index_stats",
		"Show how an index has been searched: query count, zero-result queries, latency buckets and frequent terms.",
		s.indexStatsHandler)
	addTool(s, "delete_index",
		"Delete an index and its stored vectors.",
		s.deleteIndexHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", len(s.tools)))
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return version.Name, version.Version
}

// ListTools returns all registered tools in registration order.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(s.tools))
	copy(out, s.tools)
	return out
}

// CallTool invokes a tool by name with the given arguments and returns its
// structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	call, ok := s.calls[name]
	if !ok {
		return nil, NewMethodNotFoundError(name)
	}
	return call(ctx, args)
}

func (s *Server) listModelsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListModelsInput) (
	*mcp.CallToolResult,
	ListModelsOutput,
	error,
) {
	models := s.embedder.Models()
	out := ListModelsOutput{Models: make([]ModelOutput, 0, len(models))}
	for _, m := range models {
		out.Models = append(out.Models, ModelOutput{Name: m.Name, Dimensions: m.Dimensions})
	}
	return nil, out, nil
}

func (s *Server) generateHandler(ctx context.Context, _ *mcp.CallToolRequest, input GenerateInput) (
	*mcp.CallToolResult,
	GenerateOutput,
	error,
) {
	if input.Model == "" {
		return nil, GenerateOutput{}, NewInvalidParamsError("model parameter is required")
	}
	vectors, err := s.embedder.GenerateEmbeddings(ctx, input.Texts, input.Model)
	if err != nil {
		return nil, GenerateOutput{}, MapError(err)
	}
	if vectors == nil {
		vectors = [][]float32{}
	}
	return nil, GenerateOutput{Model: input.Model, Embeddings: vectors}, nil
}

func (s *Server) createIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input CreateIndexInput) (
	*mcp.CallToolResult,
	IndexOutput,
	error,
) {
	if s.indexes == nil {
		return nil, IndexOutput{}, MapError(ErrIndexesDisabled)
	}

	metric := input.Metric
	if metric == "" {
		metric = string(store.MetricCosine)
	}
	ix, err := s.indexes.CreateIndex(ctx, index.CreateParams{
		Name:        input.Name,
		Model:       input.Model,
		Metric:      metric,
		Splitter:    splitter.Strategy{Kind: splitter.Kind(strings.ToLower(input.Splitter)), Pattern: input.Pattern},
		DedupFields: input.DedupFields,
	})
	if err != nil {
		return nil, IndexOutput{}, MapError(err)
	}
	return nil, toIndexOutput(ix.Record()), nil
}

func (s *Server) addTextsHandler(ctx context.Context, _ *mcp.CallToolRequest, input AddTextsInput) (
	*mcp.CallToolResult,
	AddTextsOutput,
	error,
) {
	ix, err := s.load(ctx, input.Index)
	if err != nil {
		return nil, AddTextsOutput{}, err
	}

	docs := make([]index.Document, len(input.Documents))
	for i, d := range input.Documents {
		docs[i] = index.Document{Text: d.Text, Metadata: d.Metadata}
	}
	added, err := ix.AddTexts(ctx, docs)
	if err != nil {
		return nil, AddTextsOutput{}, MapError(err)
	}
	return nil, AddTextsOutput{Index: ix.Name(), Added: added}, nil
}

func (s *Server) searchIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchIndexInput) (
	*mcp.CallToolResult,
	SearchIndexOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchIndexOutput{}, NewInvalidParamsError("query parameter is required")
	}
	ix, err := s.load(ctx, input.Index)
	if err != nil {
		return nil, SearchIndexOutput{}, err
	}

	results, err := ix.Search(ctx, input.Query, clampLimit(input.K, DefaultSearchK, 1, MaxSearchK))
	if err != nil {
		return nil, SearchIndexOutput{}, MapError(err)
	}
	if results == nil {
		results = []index.Result{}
	}

	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(ix.Name(), input.Query, results)}},
	}
	return res, SearchIndexOutput{Index: ix.Name(), Results: results}, nil
}

func (s *Server) listIndexesHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ListIndexesInput) (
	*mcp.CallToolResult,
	ListIndexesOutput,
	error,
) {
	if s.indexes == nil {
		return nil, ListIndexesOutput{}, MapError(ErrIndexesDisabled)
	}
	recs, err := s.indexes.ListIndexes(ctx)
	if err != nil {
		return nil, ListIndexesOutput{}, MapError(err)
	}

	out := ListIndexesOutput{Indexes: make([]IndexOutput, 0, len(recs))}
	for _, rec := range recs {
		out.Indexes = append(out.Indexes, toIndexOutput(rec))
	}
	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatIndexList(out.Indexes)}},
	}
	return res, out, nil
}

func (s *Server) describeIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexNameInput) (
	*mcp.CallToolResult,
	IndexOutput,
	error,
) {
	if s.indexes == nil {
		return nil, IndexOutput{}, MapError(ErrIndexesDisabled)
	}
	info, err := s.indexes.DescribeIndex(ctx, input.Name)
	if err != nil {
		return nil, IndexOutput{}, MapError(err)
	}
	if info == nil {
		return nil, IndexOutput{}, MapError(ixerrors.IndexNotFound(input.Name))
	}

	out := toIndexOutput(info.Record)
	count := info.Count
	out.Count = &count
	return nil, out, nil
}

func (s *Server) indexStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexNameInput) (
	*mcp.CallToolResult,
	IndexStatsOutput,
	error,
) {
	if s.indexes == nil {
		return nil, IndexStatsOutput{}, MapError(ErrIndexesDisabled)
	}
	stats, err := s.indexes.IndexStats(ctx, input.Name)
	if err != nil {
		return nil, IndexStatsOutput{}, MapError(err)
	}
	if stats == nil {
		return nil, IndexStatsOutput{}, MapError(ixerrors.IndexNotFound(input.Name))
	}
	return nil, toStatsOutput(stats), nil
}

func (s *Server) deleteIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexNameInput) (
	*mcp.CallToolResult,
	DeleteIndexOutput,
	error,
) {
	if s.indexes == nil {
		return nil, DeleteIndexOutput{}, MapError(ErrIndexesDisabled)
	}
	deleted, err := s.indexes.DeleteIndex(ctx, input.Name)
	if err != nil {
		return nil, DeleteIndexOutput{}, MapError(err)
	}
	if !deleted {
		return nil, DeleteIndexOutput{}, MapError(ixerrors.IndexNotFound(input.Name))
	}
	return nil, DeleteIndexOutput{Name: input.Name, Deleted: true}, nil
}

// load returns the named index or an MCP error.
func (s *Server) load(ctx context.Context, name string) (*index.Index, error) {
	if s.indexes == nil {
		return nil, MapError(ErrIndexesDisabled)
	}
	if name == "" {
		return nil, NewInvalidParamsError("index parameter is required")
	}
	ix, err := s.indexes.Load(ctx, name)
	if err != nil {
		return nil, MapError(err)
	}
	if ix == nil {
		return nil, MapError(ixerrors.IndexNotFound(name))
	}
	return ix, nil
}

// Serve runs the server on the named transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
