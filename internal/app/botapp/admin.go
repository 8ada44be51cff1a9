package botapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	tginfra "github.com/ivankudzin/tgshop/internal/infra/telegram"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
)

const (
	statePromo          = "promo"
	stateAddID          = "add_id"
	stateAddTitle       = "add_title"
	stateAddDescription = "add_description"
	stateAddPriceStars  = "add_price_stars"
	stateAddPriceRub    = "add_price_rub"
	stateAddDeliver     = "add_deliver"
	stateAddURL         = "add_url"
	stateAddDays        = "add_days"

	skipMarker = "-"
)

type dialogState struct {
	Kind   string
	UserID int64
	Draft  catalogsvc.Product

	// Editing reuses the add steps on an existing product: the draft starts
	// as the stored product and the skip marker keeps a field as is.
	Editing    bool
	OriginalID string
}

func (a *App) setState(chatID int64, state dialogState) {
	a.stateMu.Lock()
	a.stateByChat[chatID] = state
	a.stateMu.Unlock()
}

func (a *App) getState(chatID int64) (dialogState, bool) {
	a.stateMu.Lock()
	state, ok := a.stateByChat[chatID]
	a.stateMu.Unlock()
	return state, ok
}

func (a *App) clearState(chatID int64) {
	a.stateMu.Lock()
	delete(a.stateByChat, chatID)
	a.stateMu.Unlock()
}

func (a *App) handleAdminCallback(ctx context.Context, update tginfra.CallbackUpdate, arg string) error {
	action, param, _ := strings.Cut(arg, ":")

	if action != "add" && action != "edit" {
		a.clearState(update.ChatID)
	}

	switch action {
	case "menu":
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, "Админка:", adminMenuKeyboard())
	case "products":
		return a.showAdminProducts(ctx, update)
	case "product":
		return a.showAdminProductCard(ctx, update, param)
	case "add":
		a.setState(update.ChatID, dialogState{Kind: stateAddID, UserID: update.UserID})
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		return a.bot.SendText(ctx, update.ChatID, "Новый товар. Отправьте id (латиница, цифры, - и _):")
	case "edit":
		return a.startEditProduct(ctx, update, param)
	case "del":
		return a.deleteProduct(ctx, update, param)
	case "stats":
		return a.showStats(ctx, update)
	case "purchases":
		return a.showRecentPurchases(ctx, update)
	case "payments":
		return a.showRecentPayments(ctx, update)
	case "reset":
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		text := "Удалить всю историю покупок и платежей? Перед удалением будет создана резервная копия."
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, resetConfirmKeyboard())
	case "reset_confirm":
		return a.resetStats(ctx, update)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие")
	}
}

func (a *App) showAdminProducts(ctx context.Context, update tginfra.CallbackUpdate) error {
	products, err := a.catalog.List(ctx)
	if err != nil {
		a.logger.Error("admin list products", zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	if len(products) == 0 {
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, emptyCatalogText, backKeyboard("admin:menu"))
	}

	return a.bot.EditText(ctx, update.ChatID, update.MessageID, "Товары:", adminProductsKeyboard(products))
}

func (a *App) showAdminProductCard(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	product, err := a.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, productGoneText)
		}
		a.logger.Error("admin load product", zap.String("product_id", productID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nНазвание: %s\n", product.ID, product.Title)
	if product.Description != "" {
		fmt.Fprintf(&b, "Описание: %s\n", product.Description)
	}
	fmt.Fprintf(&b, "Цена: ⭐ %d / 💳 %d ₽\n", product.PriceStars, product.PriceRub)
	if product.Days > 0 {
		fmt.Fprintf(&b, "Подписка: %d дн.\n", product.Days)
	}
	if product.DeliverText != "" {
		fmt.Fprintf(&b, "Выдача: %s\n", product.DeliverText)
	}
	if product.DeliverURL != "" {
		fmt.Fprintf(&b, "Ссылка: %s\n", product.DeliverURL)
	}

	return a.bot.EditText(ctx, update.ChatID, update.MessageID, b.String(), adminProductKeyboard(product.ID))
}

func (a *App) startEditProduct(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	product, err := a.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, productGoneText)
		}
		a.logger.Error("admin load product for edit", zap.String("product_id", productID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}

	a.setState(update.ChatID, dialogState{
		Kind:       stateAddID,
		UserID:     update.UserID,
		Draft:      product,
		Editing:    true,
		OriginalID: product.ID,
	})
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	text := fmt.Sprintf("Редактирование «%s». На любом шаге «-» оставляет текущее значение.\nid (сейчас %s):", product.Title, product.ID)
	return a.bot.SendText(ctx, update.ChatID, text)
}

func (a *App) deleteProduct(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	if err := a.catalog.Delete(ctx, productID); err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, productGoneText)
		}
		a.logger.Error("admin delete product", zap.String("product_id", productID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, "Удалено"); err != nil {
		return err
	}
	return a.showAdminProducts(ctx, update)
}

func (a *App) showStats(ctx context.Context, update tginfra.CallbackUpdate) error {
	stats, err := a.ledgerRepo.Stats(ctx)
	if err != nil {
		a.logger.Error("admin stats", zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	text := fmt.Sprintf(
		"📊 Статистика\n\nПокупок: %d\nПокупателей: %d\nЗвёздами: %d\nКартой: %d\nВсего звёзд: %d\nВсего рублей: %d",
		stats.Purchases, stats.Buyers, stats.StarsPaid, stats.GatewayPaid, stats.TotalStars, stats.TotalRub,
	)
	return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, backKeyboard("admin:menu"))
}

func (a *App) showRecentPurchases(ctx context.Context, update tginfra.CallbackUpdate) error {
	entries, err := a.ledgerRepo.ListRecent(ctx, 10)
	if err != nil {
		a.logger.Error("admin recent purchases", zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	if len(entries) == 0 {
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, "Покупок пока нет.", backKeyboard("admin:menu"))
	}

	var b strings.Builder
	b.WriteString("Последние покупки:\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "\n%s — user %d — %s (%s)",
			entry.CreatedAt.Format("02.01 15:04"), entry.UserID, entry.Title, entry.Method)
	}
	return a.bot.EditText(ctx, update.ChatID, update.MessageID, b.String(), backKeyboard("admin:menu"))
}

func (a *App) showRecentPayments(ctx context.Context, update tginfra.CallbackUpdate) error {
	records, err := a.paymentRepo.ListRecent(ctx, 10)
	if err != nil {
		a.logger.Error("admin recent payments", zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	if len(records) == 0 {
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, "Платежей пока нет.", backKeyboard("admin:menu"))
	}

	var b strings.Builder
	b.WriteString("Последние платежи:\n")
	for _, record := range records {
		fmt.Fprintf(&b, "\n%s — user %d — %d ₽ — %s",
			record.CreatedAt.Format("02.01 15:04"), record.UserID, record.AmountRub, record.Status)
	}
	return a.bot.EditText(ctx, update.ChatID, update.MessageID, b.String(), backKeyboard("admin:menu"))
}

func (a *App) resetStats(ctx context.Context, update tginfra.CallbackUpdate) error {
	summary, err := a.payments.ResetLedger(ctx, a.cfg.Payments.BackupDir)
	if err != nil {
		a.logger.Error("admin reset ledger", zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	text := fmt.Sprintf("История очищена.\nУдалено покупок: %d, платежей: %d.\nРезервная копия: %s",
		summary.PurchasesPurged, summary.PaymentsPurged, summary.BackupPath)
	return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, backKeyboard("admin:menu"))
}

func (a *App) handleAdminText(ctx context.Context, update tginfra.TextUpdate, state dialogState) error {
	if !a.isAdmin(update.UserID) {
		a.clearState(update.ChatID)
		return nil
	}

	text := strings.TrimSpace(update.Text)
	if text == "" {
		return a.bot.SendText(ctx, update.ChatID, "Текст не может быть пустым.")
	}

	next, reply, done := advanceDraft(state, text)
	if done {
		return a.finishSaveProduct(ctx, update.ChatID, next)
	}
	if reply == "" {
		a.clearState(update.ChatID)
		return nil
	}
	a.setState(update.ChatID, next)
	return a.bot.SendText(ctx, update.ChatID, reply)
}

// advanceDraft applies one admin reply to the product dialog. It returns the
// next state and the message to send back, or done=true once the draft is
// ready to save. An empty reply means the dialog is over.
func advanceDraft(state dialogState, text string) (dialogState, string, bool) {
	keep := state.Editing && text == skipMarker

	switch state.Kind {
	case stateAddID:
		if !keep {
			state.Draft.ID = text
		}
		state.Kind = stateAddTitle
		return state, nextPrompt(state, "Название товара:", state.Draft.Title), false
	case stateAddTitle:
		if !keep {
			state.Draft.Title = text
		}
		state.Kind = stateAddDescription
		return state, nextPrompt(state, "Описание (или «-», чтобы пропустить):", state.Draft.Description), false
	case stateAddDescription:
		if text != skipMarker {
			state.Draft.Description = text
		}
		state.Kind = stateAddPriceStars
		return state, nextPrompt(state, "Цена в звёздах:", formatCurrent(state.Draft.PriceStars)), false
	case stateAddPriceStars:
		if !keep {
			stars, err := strconv.ParseInt(text, 10, 64)
			if err != nil || stars <= 0 {
				return state, "Нужно целое положительное число. Цена в звёздах:", false
			}
			state.Draft.PriceStars = stars
		}
		state.Kind = stateAddPriceRub
		return state, nextPrompt(state, "Цена в рублях (или «-», чтобы посчитать по курсу):", formatCurrent(state.Draft.PriceRub)), false
	case stateAddPriceRub:
		if text != skipMarker {
			rub, err := strconv.ParseInt(text, 10, 64)
			if err != nil || rub <= 0 {
				return state, "Нужно целое положительное число или «-». Цена в рублях:", false
			}
			state.Draft.PriceRub = rub
		}
		state.Kind = stateAddDeliver
		return state, nextPrompt(state, "Текст выдачи — его получит покупатель (или «-»):", state.Draft.DeliverText), false
	case stateAddDeliver:
		if text != skipMarker {
			state.Draft.DeliverText = text
		}
		state.Kind = stateAddURL
		return state, nextPrompt(state, "Ссылка выдачи http(s) (или «-»):", state.Draft.DeliverURL), false
	case stateAddURL:
		if text != skipMarker {
			state.Draft.DeliverURL = text
		}
		state.Kind = stateAddDays
		return state, nextPrompt(state, "Срок подписки в днях (или «-», если это не подписка):", formatCurrent(int64(state.Draft.Days))), false
	case stateAddDays:
		if text != skipMarker {
			days, err := strconv.Atoi(text)
			if err != nil || days <= 0 {
				return state, "Нужно целое положительное число или «-». Срок в днях:", false
			}
			state.Draft.Days = days
		}
		return state, "", true
	default:
		return state, "", false
	}
}

func nextPrompt(state dialogState, prompt, current string) string {
	if state.Editing && current != "" {
		return prompt + "\nСейчас: " + current
	}
	return prompt
}

func formatCurrent(v int64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func (a *App) finishSaveProduct(ctx context.Context, chatID int64, state dialogState) error {
	a.clearState(chatID)

	saved, err := a.catalog.Save(ctx, state.Draft)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrValidation) {
			return a.bot.SendText(ctx, chatID, "Товар не сохранён: "+err.Error())
		}
		a.logger.Error("admin save product", zap.Error(err))
		return a.bot.SendText(ctx, chatID, genericFailureText)
	}

	// A renamed product keeps a single row: the old id goes away once the
	// new one is saved.
	if state.Editing && state.OriginalID != "" && state.OriginalID != saved.ID {
		if err := a.catalog.Delete(ctx, state.OriginalID); err != nil && !errors.Is(err, catalogsvc.ErrProductNotFound) {
			a.logger.Error("admin drop renamed product", zap.String("product_id", state.OriginalID), zap.Error(err))
		}
	}

	text := fmt.Sprintf("Товар «%s» сохранён: ⭐ %d / 💳 %d ₽", saved.Title, saved.PriceStars, saved.PriceRub)
	return a.bot.SendTextWithMarkup(ctx, chatID, text, backKeyboard("admin:products"))
}
