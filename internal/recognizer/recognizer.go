package recognizer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"ai-food-diary/internal/food"
	"ai-food-diary/internal/llm"
	"ai-food-diary/internal/shared"
)

//go:embed recognize_prompt.md
var recognizePrompt string

var recognizeTmpl = template.Must(template.New("recognize").Parse(recognizePrompt))

// Input is either a free-text description or an image.
type Input struct {
	Text     string
	Image    []byte
	MIMEType string
}

// Result is the recognized dish with its ingredients.
type Result struct {
	DishName    string
	Ingredients []food.Ingredient
	Meta        shared.AgentMeta
}

// Recognizer turns a meal description or photo into ingredients using an LLM.
type Recognizer struct {
	text   llm.TextGenerator
	vision llm.VisionGenerator
}

// NewRecognizer creates a Recognizer. vision may be nil when image input is
// not supported.
func NewRecognizer(text llm.TextGenerator, vision llm.VisionGenerator) *Recognizer {
	return &Recognizer{text: text, vision: vision}
}

type recognizePromptData struct {
	Description string
	FromImage   bool
}

// Recognize identifies the dish and its ingredients. Unparseable or
// incomplete model output fails with food.ErrRecognitionFailed; a valid
// but empty ingredient list fails with food.ErrNoIngredients.
func (r *Recognizer) Recognize(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	fromImage := len(in.Image) > 0

	var buf bytes.Buffer
	if err := recognizeTmpl.Execute(&buf, recognizePromptData{Description: in.Text, FromImage: fromImage}); err != nil {
		return Result{}, fmt.Errorf("failed to build recognition prompt: %w", err)
	}

	var (
		resp llm.ContentResponse
		err  error
	)
	switch {
	case fromImage && r.vision == nil:
		return Result{}, fmt.Errorf("%w: image input is not supported", food.ErrRecognitionFailed)
	case fromImage:
		resp, err = r.vision.GenerateFromImage(ctx, buf.String(), in.Image, in.MIMEType)
	default:
		resp, err = r.text.GenerateContent(ctx, buf.String())
	}

	meta := shared.AgentMeta{AgentName: "Recognizer", Usage: resp.Usage, Latency: time.Since(start)}
	if err != nil {
		return Result{Meta: meta}, fmt.Errorf("%w: %v", food.ErrRecognitionFailed, err)
	}

	dish, ingredients, err := decodeRecognition(resp.Content)
	if err != nil {
		return Result{Meta: meta}, err
	}

	return Result{DishName: dish, Ingredients: ingredients, Meta: meta}, nil
}

type recognitionPayload struct {
	DishName    *string              `json:"dish_name"`
	Ingredients *[]ingredientPayload `json:"ingredients"`
}

type ingredientPayload struct {
	Product     *string  `json:"product"`
	WeightGrams *float64 `json:"weight_grams"`
}

func decodeRecognition(content string) (string, []food.Ingredient, error) {
	var p recognitionPayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &p); err != nil {
		return "", nil, fmt.Errorf("%w: failed to parse response: %v. Response: %s", food.ErrRecognitionFailed, err, content)
	}
	if p.DishName == nil {
		return "", nil, fmt.Errorf("%w: missing dish_name", food.ErrRecognitionFailed)
	}
	if p.Ingredients == nil {
		return "", nil, fmt.Errorf("%w: missing ingredients", food.ErrRecognitionFailed)
	}
	if len(*p.Ingredients) == 0 {
		return "", nil, food.ErrNoIngredients
	}

	out := make([]food.Ingredient, 0, len(*p.Ingredients))
	for i, ing := range *p.Ingredients {
		if ing.Product == nil || strings.TrimSpace(*ing.Product) == "" {
			return "", nil, fmt.Errorf("%w: ingredient #%d has no product", food.ErrRecognitionFailed, i+1)
		}
		if ing.WeightGrams == nil || *ing.WeightGrams <= 0 {
			return "", nil, fmt.Errorf("%w: ingredient %q has no positive weight", food.ErrRecognitionFailed, *ing.Product)
		}
		out = append(out, food.Ingredient{Product: strings.TrimSpace(*ing.Product), WeightGrams: *ing.WeightGrams})
	}

	return strings.TrimSpace(*p.DishName), out, nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// IsUserFacing reports whether err should be shown to the user as a
// "try again" prompt rather than an internal failure.
func IsUserFacing(err error) bool {
	return errors.Is(err, food.ErrRecognitionFailed) || errors.Is(err, food.ErrNoIngredients)
}
