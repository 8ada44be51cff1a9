package botapp

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
)

func mainMenuKeyboard(isAdmin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("🛒 Каталог", "menu:catalog")},
		{tgbotapi.NewInlineKeyboardButtonData("📦 Моя подписка", "menu:mysub")},
		{
			tgbotapi.NewInlineKeyboardButtonData("🎟 Промокод", "menu:promo"),
			tgbotapi.NewInlineKeyboardButtonData("💬 Поддержка", "menu:support"),
		},
	}
	if isAdmin {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Админка", "admin:menu"),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func catalogKeyboard(products []catalogsvc.Product) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(products)+1)
	for _, product := range products {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(product.Title, "product:"+product.ID),
		})
	}
	rows = append(rows, backRow("menu:home"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func productKeyboard(product catalogsvc.Product, gatewayEnabled bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("⭐ Оплатить звёздами", "pay_stars:"+product.ID)},
	}
	if gatewayEnabled {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("💳 Оплатить картой", "pay_yookassa:"+product.ID),
		})
	}
	rows = append(rows, backRow("menu:catalog"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func gatewayInvoiceKeyboard(redirectURL, paymentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Перейти к оплате", redirectURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить оплату", "yookassa_check:"+paymentID),
		),
		backRow("menu:catalog"),
	)
}

func adminMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Товары", "admin:products"),
			tgbotapi.NewInlineKeyboardButtonData("➕ Добавить", "admin:add"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "admin:stats"),
			tgbotapi.NewInlineKeyboardButtonData("🧾 Покупки", "admin:purchases"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Платежи", "admin:payments"),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Сброс", "admin:reset"),
		),
		backRow("menu:home"),
	)
}

func adminProductsKeyboard(products []catalogsvc.Product) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(products)+2)
	for _, product := range products {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(product.Title, "admin:product:"+product.ID),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("➕ Добавить", "admin:add"),
	})
	rows = append(rows, backRow("admin:menu"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func adminProductKeyboard(productID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Изменить", "admin:edit:"+productID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", "admin:del:"+productID),
		),
		backRow("admin:products"),
	)
}

func resetConfirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Да, удалить всё", "admin:reset_confirm"),
		),
		backRow("admin:menu"),
	)
}

func backKeyboard(target string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(backRow(target))
}

func backRow(target string) []tgbotapi.InlineKeyboardButton {
	return []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", target),
	}
}
