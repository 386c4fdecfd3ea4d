package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/indexify/internal/embed"
)

// ModelProbeTimeout bounds each model probe.
const ModelProbeTimeout = 10 * time.Second

// ModelProber is the part of the embedding router the model checks use.
type ModelProber interface {
	Models() []embed.ModelInfo
	Available(ctx context.Context, model string) bool
}

// CheckModels probes every configured model. No configured models at all is
// a failure because no index can be created.
func (c *Checker) CheckModels(ctx context.Context) []CheckResult {
	models := c.models.Models()
	if len(models) == 0 {
		return []CheckResult{{
			Name:     "embedding_models",
			Status:   StatusFail,
			Message:  "no embedding models configured",
			Details:  "Add a model under embeddings.models in indexify.yaml",
			Required: true,
		}}
	}

	results := make([]CheckResult, 0, len(models))
	for _, m := range models {
		results = append(results, c.checkModel(ctx, m))
	}
	return results
}

func (c *Checker) checkModel(ctx context.Context, m embed.ModelInfo) CheckResult {
	result := CheckResult{
		Name:     "model:" + m.Name,
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, ModelProbeTimeout)
	defer cancel()

	start := time.Now()
	if !c.models.Available(ctx, m.Name) {
		result.Status = StatusWarn
		result.Message = "provider not reachable"
		result.Details = fmt.Sprintf("Indexes on %s cannot add texts or search until it answers", m.Name)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d dimensions, answered in %s", m.Dimensions, time.Since(start).Round(time.Millisecond))
	return result
}
