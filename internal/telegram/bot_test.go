package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ai-food-diary/internal/config"
	"ai-food-diary/internal/diary"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/recognizer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) GetFileDirectURL(fileID string) (string, error) {
	return "", nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeEngine struct {
	analyses  []string
	edits     []string
	commits   []string
	cancels   []string
	products  []string
	editing   string
	step      string
	commitErr error
	// when set, Analyze waits for it to close
	gate chan struct{}
}

var sampleAnalysis = food.Analysis{
	Name:        "Овсянка с бананом",
	Ingredients: []string{"Овсянка 50г", "Банан 120г"},
	WeightGrams: 170,
	Nutrients:   food.Nutrients{Calories: 287, Protein: 7.3, Fat: 3.4, Carbs: 57.4},
}

func (f *fakeEngine) Analyze(ctx context.Context, userID int64, in recognizer.Input) (string, food.Analysis, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", food.Analysis{}, ctx.Err()
		}
	}
	f.analyses = append(f.analyses, in.Text)
	return "food_1_a", sampleAnalysis, nil
}

func (f *fakeEngine) AnalyzeProduct(ctx context.Context, userID int64, name string, per100 food.NutritionProfile, grams float64) (string, food.Analysis, error) {
	f.products = append(f.products, name)
	return "product_1_a", food.Analysis{Name: name, WeightGrams: grams, Nutrients: per100.Scale(grams)}, nil
}

func (f *fakeEngine) BeginEdit(ctx context.Context, userID int64, id string) error {
	f.editing = id
	return nil
}

func (f *fakeEngine) EditingDraft(ctx context.Context, userID int64) (string, error) {
	return f.editing, nil
}

func (f *fakeEngine) EditDraft(ctx context.Context, userID int64, id, amendment string) (string, food.Analysis, error) {
	f.edits = append(f.edits, id+"|"+amendment)
	f.editing = ""
	return "food_2_b", sampleAnalysis, nil
}

func (f *fakeEngine) CommitDraft(ctx context.Context, userID int64, id string, slot food.MealSlot) (food.MealEntry, error) {
	if f.commitErr != nil {
		return food.MealEntry{}, f.commitErr
	}
	f.commits = append(f.commits, string(slot)+"|"+id)
	return food.MealEntry{UserID: userID, DraftID: id, Slot: slot, Analysis: sampleAnalysis}, nil
}

func (f *fakeEngine) CancelDraft(ctx context.Context, userID int64, id string) error {
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeEngine) SetStep(ctx context.Context, userID int64, step string) error {
	f.step = step
	return nil
}

func (f *fakeEngine) Step(ctx context.Context, userID int64) (string, error) { return f.step, nil }

func (f *fakeEngine) Reset(ctx context.Context, userID int64) error {
	f.step, f.editing = "", ""
	return nil
}

type fakeJournal struct{ entries []food.MealEntry }

func (j fakeJournal) ListByDay(ctx context.Context, userID int64, day time.Time) ([]food.MealEntry, error) {
	return j.entries, nil
}

func newTestBot(engine Engine, allowed ...int64) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	cfg := config.Default()
	cfg.TelegramAllowedUserIDs = allowed
	return newBot(sender, cfg, engine, fakeJournal{}, nil, nil), sender
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

func TestParseCallback(t *testing.T) {
	cb, err := parseCallback("save:lunch:food_1700000000000_ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, callback{action: actionSave, slot: food.Lunch, draftID: "food_1700000000000_ab12cd34"}, cb)

	cb, err = parseCallback("edit:food_1_x")
	require.NoError(t, err)
	assert.Equal(t, actionEdit, cb.action)

	cb, err = parseCallback("cancel:food_1_x")
	require.NoError(t, err)
	assert.Equal(t, "food_1_x", cb.draftID)

	for _, bad := range []string{"", "save:brunch:food_1", "save:lunch:", "edit:", "redo|x", "cancel:a:b"} {
		_, err := parseCallback(bad)
		assert.Error(t, err, bad)
	}
}

func TestAnalysisKeyboardFitsCallbackLimit(t *testing.T) {
	kb := analysisKeyboard("food_1700000000000_ab12cd34")
	require.Len(t, kb.InlineKeyboard, 3)
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			require.NotNil(t, b.CallbackData)
			assert.LessOrEqual(t, len(*b.CallbackData), 64)
			_, err := parseCallback(*b.CallbackData)
			assert.NoError(t, err)
		}
	}
}

func TestFormatAnalysis(t *testing.T) {
	out := formatAnalysis(sampleAnalysis)
	if !strings.Contains(out, "*Овсянка с бананом* (170г)") {
		t.Error("Missing dish header")
	}
	if !strings.Contains(out, "• Банан 120г") {
		t.Error("Missing ingredient line")
	}
	if !strings.Contains(out, "🔥 287 ккал | Б 7.3 г | Ж 3.4 г | У 57.4 г") {
		t.Error("Missing nutrients line")
	}
}

func TestFormatDay(t *testing.T) {
	assert.Contains(t, formatDay(diary.DaySummary{}), "еще не добавлял")

	sum := diary.Summarize([]food.MealEntry{
		{Slot: food.Breakfast, Analysis: sampleAnalysis},
		{Slot: food.Dinner, Analysis: food.Analysis{Name: "Суп", WeightGrams: 300, Nutrients: food.Nutrients{Calories: 120}}},
	})
	out := formatDay(sum)
	assert.Contains(t, out, "🌅 *Завтрак*: 287 ккал")
	assert.Contains(t, out, "🌙 *Ужин*: 120 ккал")
	assert.Contains(t, out, "🔥 407 ккал")
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(food.ErrDraftNotFound), "заново")
	assert.Contains(t, userMessage(food.ErrRecognitionFailed), "Попробуй еще раз")
	assert.Contains(t, userMessage(food.ErrCommitConflict), "Не удалось сохранить")
}

func TestBot_TextToCommit(t *testing.T) {
	engine := &fakeEngine{}
	bot, sender := newTestBot(engine)
	ctx := context.Background()

	bot.HandleUpdate(ctx, textUpdate(7, "Овсянка 50г с бананом"))
	require.Equal(t, []string{"Овсянка 50г с бананом"}, engine.analyses)

	var withKeyboard *tgbotapi.MessageConfig
	for _, c := range sender.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ReplyMarkup != nil {
			withKeyboard = &m
		}
	}
	require.NotNil(t, withKeyboard)
	assert.Contains(t, withKeyboard.Text, "Овсянка с бананом")

	bot.HandleUpdate(ctx, callbackUpdate(7, "save:breakfast:food_1_a"))
	assert.Equal(t, []string{"breakfast|food_1_a"}, engine.commits)
	assert.Len(t, sender.requests, 1)

	texts := sender.texts()
	assert.Contains(t, texts[len(texts)-1], "Завтрак добавлен!")
}

func TestBot_CommitOfStaleDraft(t *testing.T) {
	engine := &fakeEngine{commitErr: food.ErrDraftNotFound}
	bot, sender := newTestBot(engine)

	bot.HandleUpdate(context.Background(), callbackUpdate(7, "save:lunch:food_1_gone"))
	texts := sender.texts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[len(texts)-1], "больше недоступен")
}

func TestBot_EditFlow(t *testing.T) {
	engine := &fakeEngine{}
	bot, _ := newTestBot(engine)
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(7, "edit:food_1_a"))
	assert.Equal(t, "food_1_a", engine.editing)

	bot.HandleUpdate(ctx, textUpdate(7, "добавь 10г масла"))
	assert.Equal(t, []string{"food_1_a|добавь 10г масла"}, engine.edits)
	assert.Empty(t, engine.analyses)
}

func TestBot_DispatchKeepsUserOrder(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	bot, _ := newTestBot(engine)

	bot.Dispatch(textUpdate(7, "гречка с котлетой"))
	bot.Dispatch(callbackUpdate(7, "edit:food_1_a"))
	bot.Dispatch(textUpdate(7, "добавь 10г масла"))
	close(engine.gate)

	require.NoError(t, bot.Shutdown(context.Background()))
	assert.Equal(t, []string{"гречка с котлетой"}, engine.analyses)
	assert.Equal(t, []string{"food_1_a|добавь 10г масла"}, engine.edits)
}

func TestBot_ShutdownCancelsPendingUpdates(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	bot, _ := newTestBot(engine)

	bot.Dispatch(textUpdate(7, "гречка с котлетой"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bot.Shutdown(ctx), context.DeadlineExceeded)
	assert.Empty(t, engine.analyses)

	bot.Dispatch(textUpdate(7, "борщ"))
	assert.Empty(t, engine.analyses)
}

func TestBot_CancelAndProduct(t *testing.T) {
	engine := &fakeEngine{}
	bot, _ := newTestBot(engine)
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(7, "cancel:food_1_a"))
	assert.Equal(t, []string{"food_1_a"}, engine.cancels)

	bot.HandleUpdate(ctx, textUpdate(7, "/product"))
	assert.Equal(t, stepAwaitingProduct, engine.step)

	bot.HandleUpdate(ctx, textUpdate(7, "Творог 5%; 120 17 5 3,3; 200г"))
	assert.Equal(t, []string{"Творог 5%"}, engine.products)
	assert.Empty(t, engine.step)
	assert.Empty(t, engine.analyses)
}

func TestBot_IgnoresUnauthorizedUsers(t *testing.T) {
	engine := &fakeEngine{}
	bot, sender := newTestBot(engine, 1)

	bot.HandleUpdate(context.Background(), textUpdate(2, "борщ со сметаной"))
	assert.Empty(t, engine.analyses)
	assert.Empty(t, sender.sent)
}
