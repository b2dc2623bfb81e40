package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ai-food-diary/internal/config"
	"ai-food-diary/internal/diary"
	"ai-food-diary/internal/draft"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/metrics"
	"ai-food-diary/internal/recognizer"
)

const (
	stepAwaitingProduct = "awaiting_product"
	maxPhotoBytes       = 10 << 20
	handleTimeout       = 2 * time.Minute
)

// Engine is the part of diary.Engine the bot drives.
type Engine interface {
	Analyze(ctx context.Context, userID int64, in recognizer.Input) (string, food.Analysis, error)
	AnalyzeProduct(ctx context.Context, userID int64, name string, per100 food.NutritionProfile, grams float64) (string, food.Analysis, error)
	BeginEdit(ctx context.Context, userID int64, id string) error
	EditingDraft(ctx context.Context, userID int64) (string, error)
	EditDraft(ctx context.Context, userID int64, id, amendment string) (string, food.Analysis, error)
	CommitDraft(ctx context.Context, userID int64, id string, slot food.MealSlot) (food.MealEntry, error)
	CancelDraft(ctx context.Context, userID int64, id string) error
	SetStep(ctx context.Context, userID int64, step string) error
	Step(ctx context.Context, userID int64) (string, error)
	Reset(ctx context.Context, userID int64) error
}

// Journal lists committed meals.
type Journal interface {
	ListByDay(ctx context.Context, userID int64, day time.Time) ([]food.MealEntry, error)
}

// MetricsSource feeds the admin report.
type MetricsSource interface {
	GetDailyUsage(days int) ([]metrics.DailyUsage, error)
	GetTierCounts(days int) ([]metrics.TierCount, error)
}

// Sender is the subset of *tgbotapi.BotAPI used to talk to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot wraps the Telegram API and the food diary engine.
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	engine  Engine
	journal Journal
	metrics MetricsSource
	cfg     *config.Config
	logger  *zap.Logger

	httpClient *http.Client
	// one update at a time per user
	users    *draft.KeyedMutex
	dispatch *dispatcher
	// parent of every dispatched update; cancelled when Shutdown gives up waiting
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewBot initializes the Telegram Bot. With a webhook URL configured the
// webhook is registered; otherwise any stale webhook is removed so Poll can
// long-poll.
func NewBot(cfg *config.Config, engine Engine, journal Journal, metricsSource MetricsSource, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	if cfg.TelegramWebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
		}
		resp, err := api.Request(wh)
		if err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
		}
		logger.Info("webhook set", zap.String("response", resp.Description))
	} else if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return nil, fmt.Errorf("failed to delete webhook: %w", err)
	}

	b := newBot(api, cfg, engine, journal, metricsSource, logger)
	b.api = api
	return b, nil
}

func newBot(sender Sender, cfg *config.Config, engine Engine, journal Journal, metricsSource MetricsSource, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		sender:     sender,
		engine:     engine,
		journal:    journal,
		metrics:    metricsSource,
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		users:      draft.NewKeyedMutex(),
		dispatch:   newDispatcher(),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
}

// UsesWebhook reports whether updates arrive through the webhook.
func (b *Bot) UsesWebhook() bool {
	return b.cfg.TelegramWebhookURL != ""
}

// Poll long-polls for updates until ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.Dispatch(update)
		}
	}
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.Dispatch(*update)
}

// Dispatch queues an update for background handling. Updates of the same
// user are handled in arrival order.
func (b *Bot) Dispatch(update tgbotapi.Update) {
	from := updateSender(update)
	if from == nil {
		return
	}
	ok := b.dispatch.submit(from.ID, func() {
		b.HandleUpdate(b.baseCtx, update)
	})
	if !ok {
		b.logger.Warn("dropping update during shutdown", zap.Int64("user_id", from.ID), zap.Int("update_id", update.UpdateID))
	}
}

// Shutdown stops accepting updates and waits for queued ones to finish.
// When ctx expires first, in-flight handlers are cancelled and ctx's error
// is returned once they return.
func (b *Bot) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.dispatch.close()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

// HandleUpdate processes one update synchronously. Updates of the same user
// are handled one at a time; different users proceed in parallel.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	from := updateSender(update)
	if from == nil {
		return
	}

	if !b.cfg.IsAllowed(from.ID) {
		b.logger.Warn("unauthorized access attempt", zap.Int64("user_id", from.ID), zap.String("username", from.UserName))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	unlock := b.users.Lock(strconv.FormatInt(from.ID, 10))
	defer unlock()

	if update.CallbackQuery != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	b.processMessage(ctx, update.Message)
}

func updateSender(update tgbotapi.Update) *tgbotapi.User {
	switch {
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From
	case update.Message != nil:
		return update.Message.From
	}
	return nil
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		b.reply(msg.Chat.ID, "Пожалуйста, отправь фото еды или опиши ее текстом.")
		return
	}

	editing, err := b.engine.EditingDraft(ctx, userID)
	if err != nil {
		b.logger.Error("failed to read editing marker", zap.Int64("user_id", userID), zap.Error(err))
	}
	if editing != "" {
		b.reply(msg.Chat.ID, "🔄 Пересчитываю с учетом правок...")
		id, a, err := b.engine.EditDraft(ctx, userID, editing, text)
		b.sendAnalysis(msg.Chat.ID, id, a, err)
		return
	}

	step, err := b.engine.Step(ctx, userID)
	if err != nil {
		b.logger.Error("failed to read step", zap.Int64("user_id", userID), zap.Error(err))
	}
	if step == stepAwaitingProduct {
		b.handleProduct(ctx, msg.Chat.ID, userID, text)
		return
	}

	b.reply(msg.Chat.ID, "🔍 Анализирую описание еды...")
	id, a, err := b.engine.Analyze(ctx, userID, recognizer.Input{Text: text})
	b.sendAnalysis(msg.Chat.ID, id, a, err)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	switch msg.Command() {
	case "start":
		if err := b.engine.Reset(ctx, userID); err != nil {
			b.logger.Error("failed to reset session", zap.Int64("user_id", userID), zap.Error(err))
		}
		b.reply(msg.Chat.ID, welcomeText)
	case "today":
		b.handleToday(ctx, msg.Chat.ID, userID)
	case "product":
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			b.handleProduct(ctx, msg.Chat.ID, userID, args)
			return
		}
		if err := b.engine.SetStep(ctx, userID, stepAwaitingProduct); err != nil {
			b.logger.Error("failed to set step", zap.Int64("user_id", userID), zap.Error(err))
		}
		b.replyMarkdown(msg.Chat.ID, productHelpText)
	case "metrics":
		if userID != b.cfg.AdminTelegramID {
			b.reply(msg.Chat.ID, "⛔ Access Denied: Admin only.")
			return
		}
		b.handleMetricsCommand(msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, welcomeText)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	b.reply(msg.Chat.ID, "🔍 Анализирую фото еды...")

	// Telegram lists sizes ascending; the last one is the original.
	photo := msg.Photo[len(msg.Photo)-1]
	img, mimeType, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.logger.Error("failed to download photo", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.reply(msg.Chat.ID, userMessage(food.ErrRecognitionFailed))
		return
	}

	id, a, err := b.engine.Analyze(ctx, msg.From.ID, recognizer.Input{
		Text:     strings.TrimSpace(msg.Caption),
		Image:    img,
		MIMEType: mimeType,
	})
	b.sendAnalysis(msg.Chat.ID, id, a, err)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := b.sender.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("file download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

func (b *Bot) handleProduct(ctx context.Context, chatID, userID int64, text string) {
	parts := strings.Split(text, ";")
	if len(parts) != 3 {
		b.replyMarkdown(chatID, productHelpText)
		return
	}

	per100, err := food.ParseKBJU(parts[1])
	if err != nil {
		b.replyMarkdown(chatID, "❌ Не удалось разобрать КБЖУ.\n\n"+productHelpText)
		return
	}
	grams, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[2]), "г")), ",", "."), 64)
	if err != nil || grams <= 0 {
		b.replyMarkdown(chatID, "❌ Вес должен быть положительным числом.\n\n"+productHelpText)
		return
	}

	if err := b.engine.SetStep(ctx, userID, ""); err != nil {
		b.logger.Error("failed to clear step", zap.Int64("user_id", userID), zap.Error(err))
	}

	id, a, err := b.engine.AnalyzeProduct(ctx, userID, strings.TrimSpace(parts[0]), per100, grams)
	b.sendAnalysis(chatID, id, a, err)
}

func (b *Bot) handleToday(ctx context.Context, chatID, userID int64) {
	entries, err := b.journal.ListByDay(ctx, userID, time.Now())
	if err != nil {
		b.logger.Error("failed to load today's meals", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(chatID, "❌ Не удалось загрузить историю питания.")
		return
	}
	b.replyMarkdown(chatID, formatDay(diary.Summarize(entries)))
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Answer callback to remove spinner
	if _, err := b.sender.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}
	if query.Message == nil {
		return
	}

	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	userID := query.From.ID

	cb, err := parseCallback(query.Data)
	if err != nil {
		b.logger.Warn("ignoring callback", zap.String("data", query.Data), zap.Error(err))
		return
	}

	switch cb.action {
	case actionSave:
		entry, err := b.engine.CommitDraft(ctx, userID, cb.draftID, cb.slot)
		if err != nil {
			b.logFailure("commit failed", userID, cb.draftID, err)
			b.editText(chatID, messageID, userMessage(err))
			return
		}
		b.editText(chatID, messageID, formatCommitted(entry))

	case actionEdit:
		if err := b.engine.BeginEdit(ctx, userID, cb.draftID); err != nil {
			b.logFailure("edit failed", userID, cb.draftID, err)
			b.reply(chatID, userMessage(err))
			return
		}
		b.reply(chatID, "✏️ Напиши, что изменить. Например: \"добавь 10г масла\" или \"это не омлет, а яичница\".")

	case actionCancel:
		if err := b.engine.CancelDraft(ctx, userID, cb.draftID); err != nil {
			b.logFailure("cancel failed", userID, cb.draftID, err)
			b.reply(chatID, userMessage(err))
			return
		}
		b.editText(chatID, messageID, "❌ Отменено.")
	}
}

func (b *Bot) handleMetricsCommand(chatID int64) {
	usage, err := b.metrics.GetDailyUsage(7)
	if err != nil {
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	tiers, err := b.metrics.GetTierCounts(7)
	if err != nil {
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	health := metrics.GetSysHealth(b.cfg.DataDir())
	b.replyMarkdown(chatID, formatMetricsReport(usage, tiers, health))
}

func (b *Bot) sendAnalysis(chatID int64, id string, a food.Analysis, err error) {
	if err != nil {
		if !recognizer.IsUserFacing(err) {
			b.logger.Error("analysis failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		b.reply(chatID, userMessage(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, formatAnalysis(a))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = analysisKeyboard(id)
	b.send(msg)
}

func (b *Bot) logFailure(text string, userID int64, draftID string, err error) {
	log := b.logger.Error
	if errors.Is(err, food.ErrDraftNotFound) {
		log = b.logger.Info
	}
	log(text, zap.Int64("user_id", userID), zap.String("draft_id", draftID), zap.Error(err))
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	b.send(msg)
}

func (b *Bot) editText(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	b.send(edit)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Warn("failed to send telegram message", zap.Error(err))
	}
}
