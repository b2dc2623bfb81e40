package telegram

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ai-food-diary/internal/diary"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/metrics"
)

// Callback actions carried in inline button data.
const (
	actionSave   = "save"
	actionEdit   = "edit"
	actionCancel = "cancel"
)

var slotIcons = map[food.MealSlot]string{
	food.Breakfast: "🌅",
	food.Lunch:     "🌞",
	food.Dinner:    "🌙",
	food.Snack:     "🍪",
}

type callback struct {
	action  string
	slot    food.MealSlot
	draftID string
}

// parseCallback decodes "save:<slot>:<id>", "edit:<id>" and "cancel:<id>".
func parseCallback(data string) (callback, error) {
	parts := strings.Split(data, ":")
	switch {
	case len(parts) == 3 && parts[0] == actionSave:
		slot, err := food.ParseMealSlot(parts[1])
		if err != nil {
			return callback{}, err
		}
		if parts[2] == "" {
			break
		}
		return callback{action: actionSave, slot: slot, draftID: parts[2]}, nil
	case len(parts) == 2 && (parts[0] == actionEdit || parts[0] == actionCancel) && parts[1] != "":
		return callback{action: parts[0], draftID: parts[1]}, nil
	}
	return callback{}, fmt.Errorf("unknown callback data %q", data)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func formatNutrients(n food.Nutrients) string {
	return fmt.Sprintf("🔥 %.0f ккал | Б %.1f г | Ж %.1f г | У %.1f г", n.Calories, n.Protein, n.Fat, n.Carbs)
}

func formatAnalysis(a food.Analysis) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🍽 *%s* (%sг)\n\n", escape(a.Name), food.FormatGrams(a.WeightGrams)))
	for _, ing := range a.Ingredients {
		sb.WriteString("• " + escape(ing) + "\n")
	}
	sb.WriteString("\n" + formatNutrients(a.Nutrients) + "\n\n")
	sb.WriteString("_Выбери прием пищи, чтобы сохранить._")
	return sb.String()
}

func analysisKeyboard(draftID string) tgbotapi.InlineKeyboardMarkup {
	button := func(slot food.MealSlot) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(
			slotIcons[slot]+" "+slot.Title(),
			fmt.Sprintf("%s:%s:%s", actionSave, slot, draftID),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(food.Breakfast), button(food.Lunch)),
		tgbotapi.NewInlineKeyboardRow(button(food.Dinner), button(food.Snack)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Изменить", actionEdit+":"+draftID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", actionCancel+":"+draftID),
		),
	)
}

func formatCommitted(e food.MealEntry) string {
	return fmt.Sprintf("✅ *%s добавлен!*\n\n🍎 %s (%sг)\n%s",
		e.Slot.Title(), escape(e.Analysis.Name), food.FormatGrams(e.Analysis.WeightGrams), formatNutrients(e.Analysis.Nutrients))
}

func formatDay(sum diary.DaySummary) string {
	if len(sum.Slots) == 0 {
		return "📋 Сегодня ты еще не добавлял еду."
	}

	var sb strings.Builder
	sb.WriteString("📋 *Приемы пищи сегодня:*\n\n")
	for _, s := range sum.Slots {
		sb.WriteString(fmt.Sprintf("%s *%s*: %.0f ккал\n", slotIcons[s.Slot], s.Slot.Title(), s.Total.Calories))
		for _, e := range s.Entries {
			sb.WriteString(fmt.Sprintf("• %s (%sг), %.0f ккал\n",
				escape(e.Analysis.Name), food.FormatGrams(e.Analysis.WeightGrams), e.Analysis.Calories))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("*Итого:*\n" + formatNutrients(sum.Total))
	return sb.String()
}

func formatMetricsReport(usage []metrics.DailyUsage, tiers []metrics.TierCount, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🔎 *Resolution Tiers*\n")
	if len(tiers) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, t := range tiers {
		sb.WriteString(fmt.Sprintf("• %s: %d\n", escape(string(t.Tier)), t.Count))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Uptime: %s\n", health.Uptime))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataDiskSize))
	return sb.String()
}

// userMessage turns a pipeline error into the reply shown in chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, food.ErrDraftNotFound):
		return "⏳ Этот анализ больше недоступен. Отправь фото или описание еды заново."
	case errors.Is(err, food.ErrNoIngredients):
		return "🤔 Не удалось распознать ингредиенты. Опиши блюдо подробнее, например: \"Овсянка 100г с бананом 150г\"."
	case errors.Is(err, food.ErrRecognitionFailed):
		return "❌ Не удалось проанализировать еду. Попробуй еще раз или опиши блюдо текстом."
	case errors.Is(err, food.ErrInvalidMealSlot):
		return "❌ Неизвестный прием пищи."
	default:
		return "❌ Не удалось сохранить прием пищи. Попробуй еще раз."
	}
}

const welcomeText = "👋 Привет! Я считаю калории и БЖУ.\n\n" +
	"Отправь фото еды или опиши ее текстом, например: \"Овсянка 50г с бананом\".\n\n" +
	"/today - приемы пищи за сегодня\n" +
	"/product - добавить продукт с известным КБЖУ"

const productHelpText = "🥫 Отправь продукт в формате:\n" +
	"`название; ккал белки жиры углеводы на 100г; граммы`\n\n" +
	"Например: `Творог 5%; 120 17 5 3,3; 200`"
