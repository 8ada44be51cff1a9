package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	tginfra "github.com/ivankudzin/tgshop/internal/infra/telegram"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	ratesvc "github.com/ivankudzin/tgshop/internal/services/rate"
	subsvc "github.com/ivankudzin/tgshop/internal/services/subscriptions"
)

const (
	greetingText           = "Добро пожаловать в магазин! Выберите раздел:"
	emptyCatalogText       = "Каталог пока пуст."
	promoPromptText        = "Отправьте промокод сообщением."
	promoNotFoundText      = "Такой промокод не найден."
	productGoneText        = "Товар больше не доступен."
	gatewayDisabledText    = "Оплата картой временно недоступна."
	gatewayUnavailableText = "Платёжный сервис временно недоступен. Попробуйте позже."
	paymentPendingText     = "Оплата ещё не поступила. Попробуйте проверить чуть позже."
	paymentCanceledText    = "Платёж отменён. Создайте новый, если хотите оплатить."
	paymentNotFoundText    = "Платёж не найден."
	alreadyDeliveredText   = "Этот платёж уже обработан, товар был выдан ранее."
	genericFailureText     = "Что-то пошло не так. Попробуйте ещё раз."
)

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	if a.bot == nil {
		return nil
	}

	a.clearState(update.ChatID)

	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start", "menu":
		return a.bot.SendTextWithMarkup(ctx, update.ChatID, greetingText, mainMenuKeyboard(a.isAdmin(update.UserID)))
	case "admin":
		if !a.isAdmin(update.UserID) {
			return nil
		}
		return a.bot.SendTextWithMarkup(ctx, update.ChatID, "Админка:", adminMenuKeyboard())
	default:
		return nil
	}
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	if a.bot == nil {
		return nil
	}

	data := strings.TrimSpace(update.Data)
	action, arg, _ := strings.Cut(data, ":")

	if action == "admin" {
		if !a.isAdmin(update.UserID) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, "Недостаточно прав")
		}
		return a.handleAdminCallback(ctx, update, arg)
	}

	a.clearState(update.ChatID)

	switch action {
	case "menu":
		return a.handleMenuCallback(ctx, update, arg)
	case "product":
		return a.showProductCard(ctx, update, arg)
	case "pay_stars":
		return a.startStarsPayment(ctx, update, arg)
	case "pay_yookassa":
		return a.startGatewayPayment(ctx, update, arg)
	case "yookassa_check":
		return a.checkGatewayPayment(ctx, update, arg)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестное действие")
	}
}

func (a *App) handleMenuCallback(ctx context.Context, update tginfra.CallbackUpdate, section string) error {
	switch section {
	case "home":
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, greetingText, mainMenuKeyboard(a.isAdmin(update.UserID)))
	case "catalog":
		products, err := a.catalog.List(ctx)
		if err != nil {
			a.logger.Error("list catalog", zap.Error(err))
			return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
		}
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		if len(products) == 0 {
			return a.bot.EditText(ctx, update.ChatID, update.MessageID, emptyCatalogText, backKeyboard("menu:home"))
		}
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, "Выберите товар:", catalogKeyboard(products))
	case "promo":
		// Peek the remaining wait without burning an attempt: opening the
		// prompt while limited answers with the wait instead.
		retryAfter, err := a.limiter.RetryAfter(ctx, update.UserID, "promocode", a.promoRule())
		if err != nil {
			a.logger.Warn("promocode rate peek failed", zap.Error(err))
		}
		if retryAfter > 0 {
			return a.bot.AnswerCallback(ctx, update.CallbackID, rateLimitedText(retryAfter))
		}
		a.setState(update.ChatID, dialogState{Kind: statePromo, UserID: update.UserID})
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		return a.bot.SendTextWithMarkup(ctx, update.ChatID, promoPromptText, backKeyboard("menu:home"))
	case "support":
		if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
			return err
		}
		text := "По всем вопросам: " + a.cfg.Bot.SupportContact
		return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, backKeyboard("menu:home"))
	case "mysub":
		return a.showSubscription(ctx, update)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, "Неизвестный раздел")
	}
}

func (a *App) showSubscription(ctx context.Context, update tginfra.CallbackUpdate) error {
	sub, err := a.subscriptions.Status(ctx, update.UserID)
	if err != nil {
		a.logger.Error("subscription status", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	var text string
	switch sub.State {
	case subsvc.StateActive:
		text = fmt.Sprintf("Подписка «%s» активна до %s.", sub.Title, sub.ExpiresAt.Format("02.01.2006"))
	case subsvc.StateExpired:
		text = fmt.Sprintf("Подписка «%s» истекла %s.", sub.Title, sub.ExpiresAt.Format("02.01.2006"))
	default:
		text = "У вас нет активной подписки."
	}
	return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, backKeyboard("menu:home"))
}

func (a *App) showProductCard(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	product, err := a.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, productGoneText)
		}
		a.logger.Error("load product card", zap.String("product_id", productID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, genericFailureText)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	text := product.Title
	if product.Description != "" {
		text += "\n\n" + product.Description
	}
	text += fmt.Sprintf("\n\nЦена: ⭐ %d звёзд / 💳 %d ₽", product.PriceStars, product.PriceRub)

	return a.bot.EditText(ctx, update.ChatID, update.MessageID, text, productKeyboard(product, a.payments.GatewayEnabled()))
}

func (a *App) startStarsPayment(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	invoice, err := a.payments.BeginStarsInvoice(ctx, update.UserID, productID)
	if err != nil {
		return a.answerPaymentError(ctx, update.CallbackID, err)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	return a.bot.SendStarsInvoice(ctx, update.ChatID, invoice.Title, invoice.Details, invoice.Payload, invoice.PriceStars)
}

func (a *App) startGatewayPayment(ctx context.Context, update tginfra.CallbackUpdate, productID string) error {
	invoice, err := a.payments.CreateGatewayPayment(ctx, update.UserID, productID, update.MessageID)
	if err != nil {
		return a.answerPaymentError(ctx, update.CallbackID, err)
	}
	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}

	text := fmt.Sprintf("Счёт на %d ₽ за «%s» создан.\nОплатите по ссылке и нажмите «Проверить оплату».", invoice.AmountRub, invoice.Title)
	return a.bot.SendTextWithMarkup(ctx, update.ChatID, text, gatewayInvoiceKeyboard(invoice.RedirectURL, invoice.PaymentID))
}

func (a *App) checkGatewayPayment(ctx context.Context, update tginfra.CallbackUpdate, paymentID string) error {
	delivery, err := a.payments.CheckGatewayPayment(ctx, update.UserID, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, paymentsvc.ErrPaymentPending):
			return a.bot.AnswerCallback(ctx, update.CallbackID, paymentPendingText)
		case errors.Is(err, paymentsvc.ErrPaymentCanceled):
			if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
				return err
			}
			return a.bot.SendText(ctx, update.ChatID, paymentCanceledText)
		default:
			return a.answerPaymentError(ctx, update.CallbackID, err)
		}
	}

	if err := a.bot.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	if delivery.AlreadyDelivered {
		return a.bot.SendText(ctx, update.ChatID, alreadyDeliveredText)
	}
	return a.sendDelivery(ctx, update.ChatID, delivery)
}

func (a *App) handleText(ctx context.Context, update tginfra.TextUpdate) error {
	if a.bot == nil {
		return nil
	}

	state, ok := a.getState(update.ChatID)
	if !ok || state.UserID != update.UserID {
		return nil
	}

	if state.Kind == statePromo {
		a.clearState(update.ChatID)
		return a.handlePromoText(ctx, update)
	}
	return a.handleAdminText(ctx, update, state)
}

func (a *App) promoRule() ratesvc.Rule {
	return ratesvc.Rule{
		Limit:  a.cfg.Limits.Promocode.Limit,
		Window: a.cfg.Limits.Promocode.Window,
	}
}

func (a *App) handlePromoText(ctx context.Context, update tginfra.TextUpdate) error {
	retryAfter, allowed, err := a.limiter.Allow(ctx, update.UserID, "promocode", a.promoRule())
	if err != nil {
		a.logger.Warn("promocode rate check failed", zap.Error(err))
	}
	if !allowed {
		return a.bot.SendText(ctx, update.ChatID, rateLimitedText(retryAfter))
	}

	// Promo codes are not sold yet, every code answers the same way.
	return a.bot.SendText(ctx, update.ChatID, promoNotFoundText)
}

func (a *App) handlePreCheckout(ctx context.Context, update tginfra.PreCheckoutUpdate) error {
	if err := a.payments.VerifyStarsPayload(update.UserID, update.Payload); err != nil {
		a.logger.Warn("pre checkout rejected",
			zap.Int64("user_id", update.UserID),
			zap.Error(err),
		)
		return a.bot.AnswerPreCheckout(ctx, update.QueryID, false, "Счёт устарел. Откройте товар и создайте новый.")
	}
	return a.bot.AnswerPreCheckout(ctx, update.QueryID, true, "")
}

func (a *App) handlePayment(ctx context.Context, update tginfra.PaymentUpdate) error {
	delivery, err := a.payments.ConfirmStarsPayment(ctx, update.UserID, update.ChargeID, update.Currency, update.Payload)
	if err != nil {
		a.logger.Error("confirm stars payment",
			zap.Int64("user_id", update.UserID),
			zap.String("charge_id", update.ChargeID),
			zap.Error(err),
		)
		text := "Оплата прошла, но выдать товар не удалось. Напишите в поддержку: " + a.cfg.Bot.SupportContact
		return a.bot.SendText(ctx, update.ChatID, text)
	}

	if delivery.AlreadyDelivered {
		return a.bot.SendText(ctx, update.ChatID, alreadyDeliveredText)
	}
	return a.sendDelivery(ctx, update.ChatID, delivery)
}

// sendDelivery renders the purchase as plain text: deliver payloads are
// admin-authored and must not be parsed as markup.
func (a *App) sendDelivery(ctx context.Context, chatID int64, delivery paymentsvc.Delivery) error {
	var b strings.Builder
	b.WriteString("✅ Оплата получена!\n\nВаш товар: ")
	b.WriteString(delivery.Product.Title)
	if delivery.Product.DeliverText != "" {
		b.WriteString("\n\n")
		b.WriteString(delivery.Product.DeliverText)
	}
	if delivery.Product.DeliverURL != "" {
		b.WriteString("\n\n")
		b.WriteString(delivery.Product.DeliverURL)
	}
	return a.bot.SendText(ctx, chatID, b.String())
}

func (a *App) answerPaymentError(ctx context.Context, callbackID string, err error) error {
	if rl, ok := paymentsvc.IsRateLimited(err); ok {
		return a.bot.AnswerCallback(ctx, callbackID, rateLimitedText(rl.RetryAfter()))
	}

	switch {
	case errors.Is(err, paymentsvc.ErrProductGone):
		return a.bot.AnswerCallback(ctx, callbackID, productGoneText)
	case errors.Is(err, paymentsvc.ErrGatewayDisabled):
		return a.bot.AnswerCallback(ctx, callbackID, gatewayDisabledText)
	case errors.Is(err, paymentsvc.ErrGatewayUnavailable):
		return a.bot.AnswerCallback(ctx, callbackID, gatewayUnavailableText)
	case errors.Is(err, paymentsvc.ErrPaymentNotFound):
		return a.bot.AnswerCallback(ctx, callbackID, paymentNotFoundText)
	case errors.Is(err, paymentsvc.ErrValidation), errors.Is(err, paymentsvc.ErrTokenInvalid):
		return a.bot.AnswerCallback(ctx, callbackID, genericFailureText)
	default:
		a.logger.Error("payment flow failed", zap.Error(err))
		return a.bot.AnswerCallback(ctx, callbackID, genericFailureText)
	}
}

func rateLimitedText(retryAfterSec int64) string {
	if retryAfterSec <= 0 {
		retryAfterSec = 1
	}
	return fmt.Sprintf("Слишком много попыток. Попробуйте через %d сек.", retryAfterSec)
}
