package recognizer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ai-food-diary/internal/food"
	"ai-food-diary/internal/llm"
	"ai-food-diary/internal/shared"
)

//go:embed estimate_prompt.md
var estimatePrompt string

var estimateTmpl = template.Must(template.New("estimate").Parse(estimatePrompt))

// MetaRecorder persists LLM usage metadata.
type MetaRecorder interface {
	RecordMeta(meta shared.AgentMeta) error
}

// Estimator asks an LLM for the nutrition of a product the catalog does not know.
type Estimator struct {
	text     llm.TextGenerator
	recorder MetaRecorder
	logger   *zap.Logger
}

// NewEstimator creates an Estimator; recorder may be nil.
func NewEstimator(text llm.TextGenerator, recorder MetaRecorder, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{text: text, recorder: recorder, logger: logger}
}

type estimatePayload struct {
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Fat      *float64 `json:"fat"`
	Carbs    *float64 `json:"carbs"`
}

// Estimate returns nutrients already scaled to weightGrams.
func (e *Estimator) Estimate(ctx context.Context, product string, weightGrams float64) (food.Nutrients, error) {
	start := time.Now()

	var buf bytes.Buffer
	err := estimateTmpl.Execute(&buf, struct {
		Product     string
		WeightGrams string
	}{product, food.FormatGrams(weightGrams)})
	if err != nil {
		return food.Nutrients{}, fmt.Errorf("failed to build estimate prompt: %w", err)
	}

	resp, err := e.text.GenerateContent(ctx, buf.String())
	e.record(shared.AgentMeta{AgentName: "Estimator", Usage: resp.Usage, Latency: time.Since(start)})
	if err != nil {
		return food.Nutrients{}, fmt.Errorf("failed to get LLM response: %w", err)
	}

	var p estimatePayload
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &p); err != nil {
		return food.Nutrients{}, fmt.Errorf("failed to parse estimate: %w. Response: %s", err, resp.Content)
	}
	if p.Calories == nil || p.Protein == nil || p.Fat == nil || p.Carbs == nil {
		return food.Nutrients{}, fmt.Errorf("estimate is missing fields. Response: %s", resp.Content)
	}
	if *p.Calories < 0 || *p.Protein < 0 || *p.Fat < 0 || *p.Carbs < 0 {
		return food.Nutrients{}, fmt.Errorf("estimate has negative values. Response: %s", resp.Content)
	}

	return food.Nutrients{Calories: *p.Calories, Protein: *p.Protein, Fat: *p.Fat, Carbs: *p.Carbs}.Rounded(), nil
}

func (e *Estimator) record(meta shared.AgentMeta) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordMeta(meta); err != nil {
		e.logger.Warn("failed to record estimator metrics", zap.Error(err))
	}
}
