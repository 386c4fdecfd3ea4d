package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/memory"
	"github.com/Aman-CERP/indexify/internal/splitter"
)

const (
	msgNoIndexes    = "server is not configured to have indexes"
	msgNoMemory     = "server is not configured to have memory"
	msgIndexMissing = "index does not exist"
)

type errorsBody struct {
	Errors []string `json:"errors"`
}

func okBody() errorsBody { return errorsBody{Errors: []string{}} }

func errBody(msg string) errorsBody { return errorsBody{Errors: []string{msg}} }

// message renders err for response bodies.
func message(err error) string {
	if ie, ok := ixerrors.As(err); ok {
		return ie.Message
	}
	return err.Error()
}

// bind decodes a JSON body, or the query string when there is no body.
func bind(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		if err := c.ShouldBindQuery(v); err != nil {
			return ixerrors.ValidationError("invalid query: "+err.Error(), err)
		}
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ixerrors.ValidationError("request body is empty", err)
		}
		return ixerrors.ValidationError("invalid request body: "+err.Error(), err)
	}
	return nil
}

func (s *Server) fail(c *gin.Context, status int, err error, body any) {
	if status >= http.StatusInternalServerError {
		attrs := append([]any{slog.String("request_id", c.GetString(requestIDKey)), slog.String("path", c.FullPath())},
			ixerrors.LogAttrs(err)...)
		s.logger.Error("request_failed", attrs...)
	}
	c.JSON(status, body)
}

type listModelsResponse struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

func (s *Server) handleListModels(c *gin.Context) {
	models := s.embedder.Models()
	resp := listModelsResponse{Models: make([]modelInfo, len(models))}
	for i, m := range models {
		resp.Models[i] = modelInfo{Name: m.Name, Dimensions: m.Dimensions}
	}
	c.JSON(http.StatusOK, resp)
}

type generateRequest struct {
	Inputs []string `json:"inputs" form:"inputs"`
	Model  string   `json:"model" form:"model"`
}

type generateResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := bind(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, generateResponse{Error: message(err)})
		return
	}

	vectors, err := s.embedder.GenerateEmbeddings(c.Request.Context(), req.Inputs, req.Model)
	if err != nil {
		status := http.StatusExpectationFailed
		if errors.Is(err, ixerrors.ErrUnknownModel) {
			status = http.StatusBadRequest
		}
		s.fail(c, status, err, generateResponse{Error: message(err)})
		return
	}
	c.JSON(http.StatusOK, generateResponse{Embeddings: vectors})
}

type indexCreateRequest struct {
	Name           string          `json:"name"`
	EmbeddingModel string          `json:"embedding_model"`
	Metric         string          `json:"metric"`
	TextSplitter   json.RawMessage `json:"text_splitter"`
	HashOn         []string        `json:"hash_on"`
}

func (s *Server) handleIndexCreate(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	var req indexCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}
	strategy, err := splitter.ParseWire(req.TextSplitter)
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(message(err)))
		return
	}

	_, err = s.indexes.CreateIndex(c.Request.Context(), index.CreateParams{
		Name:        req.Name,
		Model:       req.EmbeddingModel,
		Metric:      req.Metric,
		Splitter:    strategy,
		DedupFields: req.HashOn,
	})
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	c.JSON(http.StatusOK, okBody())
}

type addTextsRequest struct {
	Index     string           `json:"index"`
	Documents []index.Document `json:"documents"`
}

func (s *Server) handleIndexAdd(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	var req addTextsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}

	ix, ok := s.loadIndex(c, req.Index, func(msg string) any { return errBody(msg) })
	if !ok {
		return
	}
	if _, err := ix.AddTexts(c.Request.Context(), req.Documents); err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	c.JSON(http.StatusOK, okBody())
}

type searchRequest struct {
	Index string `json:"index" form:"index"`
	Query string `json:"query" form:"query"`
	K     int    `json:"k" form:"k"`
}

type fragment struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

type searchResponse struct {
	Results []fragment `json:"results"`
	Errors  []string   `json:"errors"`
}

func searchErr(msg string) any {
	return searchResponse{Results: []fragment{}, Errors: []string{msg}}
}

func (s *Server) handleIndexSearch(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, searchErr(msgNoIndexes))
		return
	}
	var req searchRequest
	if err := bind(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, searchErr(message(err)))
		return
	}

	ix, ok := s.loadIndex(c, req.Index, searchErr)
	if !ok {
		return
	}
	results, err := ix.Search(c.Request.Context(), req.Query, req.K)
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, searchErr(message(err)))
		return
	}

	resp := searchResponse{Results: make([]fragment, len(results)), Errors: []string{}}
	for i, r := range results {
		resp.Results[i] = fragment{Text: r.Text, Metadata: r.Metadata}
	}
	c.JSON(http.StatusOK, resp)
}

// loadIndex writes the error response itself and reports false when the
// index cannot be used.
func (s *Server) loadIndex(c *gin.Context, name string, body func(string) any) (*index.Index, bool) {
	if name == "" {
		c.JSON(http.StatusBadRequest, body("index is required"))
		return nil, false
	}
	ix, err := s.indexes.Load(c.Request.Context(), name)
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, body(message(err)))
		return nil, false
	}
	if ix == nil {
		c.JSON(http.StatusNotFound, body(msgIndexMissing))
		return nil, false
	}
	return ix, true
}

type indexSummary struct {
	Name         string          `json:"name"`
	Model        string          `json:"embedding_model"`
	Dimensions   int             `json:"vector_dim"`
	Metric       string          `json:"metric"`
	TextSplitter json.RawMessage `json:"text_splitter"`
	HashOn       []string        `json:"hash_on"`
	Backend      string          `json:"backend"`
	Count        *int            `json:"count,omitempty"`
}

func (s *Server) handleIndexList(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	recs, err := s.indexes.ListIndexes(c.Request.Context())
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	out := make([]indexSummary, len(recs))
	for i, rec := range recs {
		out[i] = summarize(index.Info{Record: rec}, false)
	}
	c.JSON(http.StatusOK, gin.H{"indexes": out, "errors": []string{}})
}

func (s *Server) handleIndexDescribe(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	info, err := s.indexes.DescribeIndex(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, errBody(msgIndexMissing))
		return
	}
	c.JSON(http.StatusOK, summarize(*info, true))
}

func (s *Server) handleIndexStats(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	stats, err := s.indexes.IndexStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	if stats == nil {
		c.JSON(http.StatusNotFound, errBody(msgIndexMissing))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleIndexDelete(c *gin.Context) {
	if s.indexes == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoIndexes))
		return
	}
	removed, err := s.indexes.DeleteIndex(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, errBody(msgIndexMissing))
		return
	}
	c.JSON(http.StatusOK, okBody())
}

func summarize(info index.Info, withCount bool) indexSummary {
	strategy := splitter.Strategy{Kind: splitter.Kind(info.Splitter), Pattern: info.Pattern}
	wire, err := strategy.MarshalWire()
	if err != nil {
		wire = json.RawMessage(`null`)
	}
	sum := indexSummary{
		Name:         info.Name,
		Model:        info.Model,
		Dimensions:   info.Dimensions,
		Metric:       info.Metric,
		TextSplitter: wire,
		HashOn:       info.DedupFields,
		Backend:      info.Backend,
	}
	if sum.HashOn == nil {
		sum.HashOn = []string{}
	}
	if withCount {
		n := info.Count
		sum.Count = &n
	}
	return sum
}

type memoryCreateRequest struct {
	MemoryPolicy string `json:"memory_policy"`
	Window       int    `json:"window"`
}

type memoryCreateResponse struct {
	SessionID string   `json:"session_id,omitempty"`
	Errors    []string `json:"errors"`
}

func (s *Server) handleMemoryCreate(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoMemory))
		return
	}
	var req memoryCreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
			return
		}
	}
	id, err := s.memory.Create(memory.Policy(req.MemoryPolicy), req.Window)
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	c.JSON(http.StatusOK, memoryCreateResponse{SessionID: id, Errors: []string{}})
}

type memoryAddRequest struct {
	SessionID string           `json:"session_id"`
	Messages  []memory.Message `json:"messages"`
}

func (s *Server) handleMemoryAdd(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusBadRequest, errBody(msgNoMemory))
		return
	}
	var req memoryAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}
	if err := s.memory.Add(req.SessionID, req.Messages...); err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err, errBody(message(err)))
		return
	}
	c.JSON(http.StatusOK, okBody())
}

type memoryGetRequest struct {
	SessionID string `json:"session_id" form:"session_id"`
}

type memoryGetResponse struct {
	Messages []memory.Message `json:"messages"`
	Errors   []string         `json:"errors"`
}

func (s *Server) handleMemoryGet(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusBadRequest, memoryGetResponse{Messages: []memory.Message{}, Errors: []string{msgNoMemory}})
		return
	}
	var req memoryGetRequest
	if err := bind(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, memoryGetResponse{Messages: []memory.Message{}, Errors: []string{message(err)}})
		return
	}
	msgs, err := s.memory.Retrieve(req.SessionID)
	if err != nil {
		s.fail(c, ixerrors.HTTPStatus(err), err,
			memoryGetResponse{Messages: []memory.Message{}, Errors: []string{message(err)}})
		return
	}
	c.JSON(http.StatusOK, memoryGetResponse{Messages: msgs, Errors: []string{}})
}
