package diary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"ai-food-diary/internal/draft"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/nutrition"
	"ai-food-diary/internal/recognizer"
	"ai-food-diary/internal/shared"
)

// MinTextLength is the shortest meal description accepted for recognition.
const MinTextLength = 3

// DefaultRecognitionTimeout bounds one recognition call.
const DefaultRecognitionTimeout = 60 * time.Second

// Recognizer identifies a dish and its ingredients.
type Recognizer interface {
	Recognize(ctx context.Context, in recognizer.Input) (recognizer.Result, error)
}

// Resolver resolves ingredients to scaled nutrition, in order.
type Resolver interface {
	ResolveAll(ctx context.Context, ings []food.Ingredient) []food.ResolvedNutrition
}

// MealStore persists committed entries. Save must return ErrDuplicateEntry
// when the entry's draft ID was already saved.
type MealStore interface {
	Save(ctx context.Context, e *food.MealEntry) error
}

// MetaRecorder persists model usage of recognition calls.
type MetaRecorder interface {
	RecordMeta(meta shared.AgentMeta) error
}

// Engine runs the meal pipeline: recognize, resolve, aggregate, then keep
// the result as a draft until the user commits, edits or cancels it.
type Engine struct {
	recognizer Recognizer
	resolver   Resolver
	drafts     *draft.Cache
	meals      MealStore
	classifier Classifier
	recorder   MetaRecorder
	logger     *zap.Logger

	timeout time.Duration
	now     func() time.Time

	// serializes commit, cancel and edit of one draft ID
	locks *draft.KeyedMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) EngineOption { return func(e *Engine) { e.classifier = c } }

// WithMetaRecorder records token usage of every recognition.
func WithMetaRecorder(r MetaRecorder) EngineOption { return func(e *Engine) { e.recorder = r } }

// WithRecognitionTimeout bounds each recognition call.
func WithRecognitionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// NewEngine wires an Engine.
func NewEngine(rec Recognizer, res Resolver, drafts *draft.Cache, meals MealStore, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		recognizer: rec,
		resolver:   res,
		drafts:     drafts,
		meals:      meals,
		classifier: KeywordClassifier{},
		logger:     logger,
		timeout:    DefaultRecognitionTimeout,
		now:        time.Now,
		locks:      draft.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveAndAggregate recognizes the input and returns the aggregated
// analysis without storing it.
func (e *Engine) ResolveAndAggregate(ctx context.Context, in recognizer.Input) (food.Analysis, error) {
	if len(in.Image) == 0 {
		in.Text = strings.TrimSpace(in.Text)
		if utf8.RuneCountInString(in.Text) < MinTextLength {
			return food.Analysis{}, fmt.Errorf("%w: description is too short", food.ErrRecognitionFailed)
		}
	}

	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.recognizer.Recognize(rctx, in)
	e.recordMeta(res.Meta)
	if err != nil {
		if errors.Is(err, food.ErrRecognitionFailed) || errors.Is(err, food.ErrNoIngredients) {
			return food.Analysis{}, err
		}
		return food.Analysis{}, fmt.Errorf("%w: %v", food.ErrRecognitionFailed, err)
	}
	if len(res.Ingredients) == 0 {
		return food.Analysis{}, food.ErrNoIngredients
	}

	resolved := e.resolver.ResolveAll(ctx, res.Ingredients)
	return nutrition.Aggregate(res.DishName, resolved)
}

// Analyze recognizes the input and stores the result as a new draft.
func (e *Engine) Analyze(ctx context.Context, userID int64, in recognizer.Input) (string, food.Analysis, error) {
	a, err := e.ResolveAndAggregate(ctx, in)
	if err != nil {
		return "", food.Analysis{}, err
	}
	id, err := e.PutDraft(ctx, userID, a)
	if err != nil {
		return "", food.Analysis{}, err
	}
	e.logger.Info("meal analyzed",
		zap.Int64("user_id", userID),
		zap.String("draft_id", id),
		zap.String("dish", a.Name),
		zap.Float64("calories", a.Calories))
	return id, a, nil
}

// PutDraft stores an analysis under a fresh draft ID.
func (e *Engine) PutDraft(ctx context.Context, userID int64, a food.Analysis) (string, error) {
	id, err := e.drafts.Put(ctx, userID, a)
	if err != nil {
		return "", fmt.Errorf("failed to store draft: %w", err)
	}
	return id, nil
}

// GetDraft returns a live draft of the user.
func (e *Engine) GetDraft(ctx context.Context, userID int64, id string) (food.Analysis, error) {
	return e.drafts.Get(ctx, userID, id)
}

// BeginEdit marks the draft as the target of the user's next message.
func (e *Engine) BeginEdit(ctx context.Context, userID int64, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.drafts.MarkEditing(ctx, userID, id)
}

// EditingDraft returns the draft the user is amending, or "".
func (e *Engine) EditingDraft(ctx context.Context, userID int64) (string, error) {
	return e.drafts.EditingDraft(ctx, userID)
}

// EditDraft re-recognizes a draft with the user's amendment and stores the
// result as a new draft. The old draft stays live.
func (e *Engine) EditDraft(ctx context.Context, userID int64, id, amendment string) (string, food.Analysis, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	old, err := e.drafts.Load(ctx, userID, id)
	if err != nil {
		if errors.Is(err, food.ErrDraftNotFound) {
			if cerr := e.drafts.ClearEditing(ctx, userID); cerr != nil {
				e.logger.Warn("failed to clear editing marker", zap.Int64("user_id", userID), zap.Error(cerr))
			}
		}
		return "", food.Analysis{}, err
	}

	amendment = strings.TrimSpace(amendment)
	if amendment == "" {
		return "", food.Analysis{}, fmt.Errorf("%w: empty amendment", food.ErrRecognitionFailed)
	}

	kind := e.classifier.Classify(amendment)
	prompt := EditPrompt(kind, old, amendment)

	a, err := e.ResolveAndAggregate(ctx, recognizer.Input{Text: prompt})
	if err != nil {
		return "", food.Analysis{}, err
	}
	newID, err := e.PutDraft(ctx, userID, a)
	if err != nil {
		return "", food.Analysis{}, err
	}

	if err := e.drafts.ClearEditing(ctx, userID); err != nil {
		e.logger.Warn("failed to clear editing marker", zap.Int64("user_id", userID), zap.Error(err))
	}

	e.logger.Info("draft edited",
		zap.Int64("user_id", userID),
		zap.String("draft_id", id),
		zap.String("new_draft_id", newID),
		zap.Stringer("kind", kind))
	return newID, a, nil
}

// EditPrompt builds the recognition text for an amendment.
func EditPrompt(kind EditKind, old food.Analysis, amendment string) string {
	if kind == EditCorrection {
		return "первоначальное распознавание неверно; правильное описание: " + amendment
	}
	return old.Description() + ". Дополнительно: " + amendment
}

// CommitDraft writes the draft to the journal under slot and removes it.
// Each draft is committed at most once; later commits see ErrDraftNotFound.
func (e *Engine) CommitDraft(ctx context.Context, userID int64, id string, slot food.MealSlot) (food.MealEntry, error) {
	if !slot.Valid() {
		return food.MealEntry{}, fmt.Errorf("%w: %q", food.ErrInvalidMealSlot, slot)
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	a, err := e.drafts.Load(ctx, userID, id)
	if errors.Is(err, food.ErrDraftNotFound) {
		return food.MealEntry{}, err
	}
	if err != nil {
		return food.MealEntry{}, fmt.Errorf("%w: %v", food.ErrCommitConflict, err)
	}

	entry := food.MealEntry{
		UserID:    userID,
		DraftID:   id,
		Slot:      slot,
		Analysis:  a,
		Timestamp: e.now(),
	}

	err = e.meals.Save(ctx, &entry)
	if errors.Is(err, ErrDuplicateEntry) {
		e.logger.Warn("draft was already committed, discarding it",
			zap.Int64("user_id", userID), zap.String("draft_id", id))
		if rmErr := e.drafts.Remove(ctx, userID, id); rmErr != nil {
			e.logger.Warn("failed to remove committed draft", zap.String("draft_id", id), zap.Error(rmErr))
		}
		return food.MealEntry{}, food.ErrDraftNotFound
	}
	if err != nil {
		return food.MealEntry{}, fmt.Errorf("%w: %v", food.ErrCommitConflict, err)
	}

	// The entry is durable; a draft left behind here is caught as a
	// duplicate on the next commit.
	if err := e.drafts.Remove(ctx, userID, id); err != nil {
		e.logger.Warn("failed to remove committed draft", zap.String("draft_id", id), zap.Error(err))
	}

	e.logger.Info("meal committed",
		zap.Int64("user_id", userID),
		zap.String("draft_id", id),
		zap.String("slot", string(slot)),
		zap.Int64("entry_id", entry.ID))
	return entry, nil
}

// CancelDraft discards a draft. Cancelling an unknown draft is a no-op.
func (e *Engine) CancelDraft(ctx context.Context, userID int64, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.drafts.Remove(ctx, userID, id)
}

// AnalyzeProduct stores a draft for grams of a user-described product whose
// per-100g values are known.
func (e *Engine) AnalyzeProduct(ctx context.Context, userID int64, name string, per100 food.NutritionProfile, grams float64) (string, food.Analysis, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", food.Analysis{}, errors.New("product name is required")
	}
	if grams <= 0 {
		return "", food.Analysis{}, fmt.Errorf("weight must be positive, got %v", grams)
	}

	a := food.Analysis{
		Name:        fmt.Sprintf("%s (%sг)", name, food.FormatGrams(grams)),
		Ingredients: []string{name},
		WeightGrams: grams,
		Nutrients:   per100.Scale(grams),
	}
	id, err := e.drafts.PutWithPrefix(ctx, userID, draft.PrefixProduct, a)
	if err != nil {
		return "", food.Analysis{}, fmt.Errorf("failed to store draft: %w", err)
	}
	return id, a, nil
}

// SetStep stores the chat step of the user; "" clears it.
func (e *Engine) SetStep(ctx context.Context, userID int64, step string) error {
	return e.drafts.SetStep(ctx, userID, step)
}

// Step returns the chat step of the user.
func (e *Engine) Step(ctx context.Context, userID int64) (string, error) {
	return e.drafts.Step(ctx, userID)
}

// Reset drops all drafts and markers of the user.
func (e *Engine) Reset(ctx context.Context, userID int64) error {
	return e.drafts.Reset(ctx, userID)
}

func (e *Engine) recordMeta(meta shared.AgentMeta) {
	if e.recorder == nil || meta.Usage.Empty() {
		return
	}
	if err := e.recorder.RecordMeta(meta); err != nil {
		e.logger.Warn("failed to record usage", zap.String("agent", meta.AgentName), zap.Error(err))
	}
}
