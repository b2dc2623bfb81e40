package recognizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-food-diary/internal/food"
	"ai-food-diary/internal/llm"
	"ai-food-diary/internal/shared"
)

type MockTextGenerator struct {
	Response    string
	ShouldError bool
	Prompts     []string
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.ShouldError {
		return llm.ContentResponse{}, errors.New("mock ai error")
	}
	return llm.ContentResponse{
		Content: m.Response,
		Usage:   shared.TokenUsage{PromptTokens: 100, CompletionTokens: 20, Model: "mock"},
	}, nil
}

type MockVisionGenerator struct {
	Response string
	MIMEType string
	Images   int
}

func (m *MockVisionGenerator) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (llm.ContentResponse, error) {
	m.Images++
	m.MIMEType = mimeType
	return llm.ContentResponse{Content: m.Response}, nil
}

type recordingRecorder struct {
	metas []shared.AgentMeta
}

func (r *recordingRecorder) RecordMeta(meta shared.AgentMeta) error {
	r.metas = append(r.metas, meta)
	return nil
}

func TestRecognize_Text(t *testing.T) {
	gen := &MockTextGenerator{Response: "```json\n" + `{
		"dish_name": "Овсянка с бананом",
		"ingredients": [
			{"product": "овсянка", "weight_grams": 50},
			{"product": " банан ", "weight_grams": 120}
		]
	}` + "\n```"}

	res, err := NewRecognizer(gen, nil).Recognize(context.Background(), Input{Text: "Овсянка 50г с бананом"})
	require.NoError(t, err)

	assert.Equal(t, "Овсянка с бананом", res.DishName)
	assert.Equal(t, []food.Ingredient{
		{Product: "овсянка", WeightGrams: 50},
		{Product: "банан", WeightGrams: 120},
	}, res.Ingredients)
	assert.Equal(t, "Recognizer", res.Meta.AgentName)
	assert.Equal(t, 100, res.Meta.Usage.PromptTokens)

	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], `"Овсянка 50г с бананом"`)
	assert.Contains(t, gen.Prompts[0], "# Food Recognition Prompt")
}

func TestRecognize_Image(t *testing.T) {
	vision := &MockVisionGenerator{Response: `{"dish_name": "Салат", "ingredients": [{"product": "огурец", "weight_grams": 80}]}`}
	text := &MockTextGenerator{}

	res, err := NewRecognizer(text, vision).Recognize(context.Background(), Input{Image: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "Салат", res.DishName)
	assert.Equal(t, 1, vision.Images)
	assert.Equal(t, "image/jpeg", vision.MIMEType)
	assert.Empty(t, text.Prompts)
}

func TestRecognize_ImageWithoutVision(t *testing.T) {
	_, err := NewRecognizer(&MockTextGenerator{}, nil).Recognize(context.Background(), Input{Image: []byte{1}})
	assert.ErrorIs(t, err, food.ErrRecognitionFailed)
}

func TestRecognize_StrictDecode(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  error
	}{
		{"NotJSON", "I think this is soup", food.ErrRecognitionFailed},
		{"MissingDishName", `{"ingredients": [{"product": "суп", "weight_grams": 300}]}`, food.ErrRecognitionFailed},
		{"MissingIngredients", `{"dish_name": "Суп"}`, food.ErrRecognitionFailed},
		{"MissingWeight", `{"dish_name": "Суп", "ingredients": [{"product": "суп"}]}`, food.ErrRecognitionFailed},
		{"ZeroWeight", `{"dish_name": "Суп", "ingredients": [{"product": "суп", "weight_grams": 0}]}`, food.ErrRecognitionFailed},
		{"StringWeight", `{"dish_name": "Суп", "ingredients": [{"product": "суп", "weight_grams": "300"}]}`, food.ErrRecognitionFailed},
		{"EmptyProduct", `{"dish_name": "Суп", "ingredients": [{"product": " ", "weight_grams": 300}]}`, food.ErrRecognitionFailed},
		{"EmptyList", `{"dish_name": "", "ingredients": []}`, food.ErrNoIngredients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &MockTextGenerator{Response: tt.response}
			_, err := NewRecognizer(gen, nil).Recognize(context.Background(), Input{Text: "суп"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsUserFacing(err))
		})
	}
}

func TestRecognize_GeneratorError(t *testing.T) {
	_, err := NewRecognizer(&MockTextGenerator{ShouldError: true}, nil).Recognize(context.Background(), Input{Text: "суп"})
	assert.ErrorIs(t, err, food.ErrRecognitionFailed)
}

func TestEstimator(t *testing.T) {
	gen := &MockTextGenerator{Response: `{"calories": 123.4, "protein": 1.26, "fat": 0.04, "carbs": 30}`}
	rec := &recordingRecorder{}

	got, err := NewEstimator(gen, rec, nil).Estimate(context.Background(), "маракуйя", 150)
	require.NoError(t, err)
	assert.Equal(t, food.Nutrients{Calories: 123, Protein: 1.3, Fat: 0, Carbs: 30}, got)

	require.Len(t, gen.Prompts, 1)
	assert.True(t, strings.Contains(gen.Prompts[0], `150 g of "маракуйя"`))
	require.Len(t, rec.metas, 1)
	assert.Equal(t, "Estimator", rec.metas[0].AgentName)
}

func TestEstimator_RejectsIncomplete(t *testing.T) {
	for _, resp := range []string{
		`{"calories": 100, "protein": 1, "fat": 1}`,
		`{"calories": -5, "protein": 1, "fat": 1, "carbs": 1}`,
		`nope`,
	} {
		_, err := NewEstimator(&MockTextGenerator{Response: resp}, nil, nil).Estimate(context.Background(), "x", 10)
		assert.Error(t, err, resp)
	}

	_, err := NewEstimator(&MockTextGenerator{ShouldError: true}, nil, nil).Estimate(context.Background(), "x", 10)
	assert.Error(t, err)
}
