package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkurbatov/vpn-shop-bot/internal/catalog"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func FormatAmountMinor(amount int64) string {
	return fmt.Sprintf("%d ₽", amount/catalog.MinorUnitsPerMajor)
}

func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}

func Welcome() string {
	return "🎉 <b>Добро пожаловать в VPN Bot!</b>\n\n" +
		"Здесь вы можете приобрести быстрый и надёжный VPN.\n\n" +
		"🔒 Наши преимущества:\n" +
		"• Высокая скорость соединения\n" +
		"• Серверы по всему миру\n" +
		"• Полная анонимность\n\n" +
		"Выберите действие:"
}

func Help() string {
	return "📖 <b>Помощь</b>\n\n" +
		"🛒 /plans — тарифные планы\n" +
		"👤 /profile — профиль и подписка\n" +
		"🎁 /referral — реферальная программа\n" +
		"❌ /cancel — отменить текущую покупку\n" +
		"💬 /support — поддержка"
}

func Support() string {
	return "💬 <b>Поддержка</b>\nНапишите нам, и мы ответим в течение дня."
}

func PlansHeader() string {
	return "📋 <b>Доступные тарифные планы</b>\n"
}

func PlanLine(p catalog.Plan) string {
	return fmt.Sprintf("\n📦 <b>%s</b>\n💰 Цена: %d ₽\n⏰ Срок: %d дней\n📝 %s\n",
		Escape(p.Name), p.Price, p.DurationDays, Escape(p.Description))
}

func ChoosePlan() string {
	return "\nВыберите подходящий план:"
}

func ChooseProtocol() string {
	return "🔌 <b>Выберите протокол</b>\nWireGuard быстрее, OpenVPN совместимее."
}

func ChooseMethod(planName string, amount int64) string {
	return fmt.Sprintf("💳 <b>Выберите способ оплаты</b>\n\nПлан: %s\nСумма: %s",
		Escape(planName), FormatAmountMinor(amount))
}

func PaymentCreated(amount int64, payURL string) string {
	return fmt.Sprintf("✅ <b>Счёт создан</b>\n\n"+
		"💰 Сумма: %s\n"+
		"🔗 <a href=\"%s\">Ссылка для оплаты</a>\n\n"+
		"⏰ Счёт действителен 15 минут.\n"+
		"После оплаты нажмите «Я оплатил».", FormatAmountMinor(amount), payURL)
}

func PaymentStillPending() string {
	return "⏳ <b>Платёж ещё не подтверждён</b>\nПопробуйте проверить через минуту."
}

func PaymentSucceeded(endsAt time.Time) string {
	return fmt.Sprintf("🎉 <b>Оплата прошла успешно!</b>\n\n"+
		"✅ VPN подписка активирована\n"+
		"📅 Действует до: %s\n\n"+
		"Ваша конфигурация VPN ниже.", FormatDate(endsAt))
}

func PaymentAlreadyProcessed(endsAt time.Time) string {
	return fmt.Sprintf("ℹ️ <b>Этот платёж уже обработан</b>\n"+
		"Подписка действует до %s. Отправляю конфигурацию ещё раз.", FormatDate(endsAt))
}

func PaymentClosed(status types.OrderStatus) string {
	if status == types.OrderCancelled {
		return "❌ <b>Этот заказ был отменён</b>\nНачните покупку заново: /plans"
	}
	return "❌ <b>Платёж не прошёл</b>\nЗаказ закрыт. Начните покупку заново: /plans"
}

func PurchaseCancelled() string {
	return "❌ <b>Покупка отменена</b>\nВернуться к тарифам: /plans"
}

func NothingToCancel() string {
	return "ℹ️ Нет активной покупки для отмены."
}

func ConfigCaption() string {
	return "📱 Ваш VPN конфигурационный файл"
}

func QRCaption() string {
	return "📱 QR-код для быстрой настройки"
}

func ErrorDefault() string {
	return "🚫 <b>Произошла ошибка</b>\nПопробуйте ещё раз."
}

func ErrorTryLater() string {
	return "⏳ <b>Платёжный сервис временно недоступен</b>\nПопробуйте ещё раз через пару минут."
}

func ErrorPaymentRejected() string {
	return "🚫 <b>Не удалось создать платёж</b>\nПопробуйте другой способ оплаты."
}

func ErrorCapacity() string {
	return "😔 <b>Сервис временно недоступен</b>\nСвободные места закончились, мы уже расширяем мощности. Попробуйте позже."
}

func ErrorStaleStep() string {
	return "🤔 Этот шаг уже неактуален. Начните заново: /plans"
}

func ErrorUnknownCommand() string {
	return "❓ <b>Команда не найдена</b>\nСписок команд: /help"
}

func TextHint() string {
	return "🤖 Используйте кнопки или команды. Список команд: /help"
}

func SubscriptionActive(planName string, endsAt time.Time, daysLeft int) string {
	return fmt.Sprintf("✅ Подписка активна\n📦 План: %s\n📅 До: %s (осталось дней: %d)",
		Escape(planName), FormatDate(endsAt), daysLeft)
}

func SubscriptionInactive() string {
	return "❌ Активной подписки нет\nОформить: /plans"
}

func ProfileInfo(u *types.User, subscriptionInfo string) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return fmt.Sprintf("👤 <b>Ваш профиль</b>\n\n"+
		"🆔 ID: %d\n"+
		"📛 Имя: %s\n"+
		"📅 С нами с: %s\n\n"+
		"%s\n\n"+
		"🎁 Ваш реферальный код: <code>%s</code>",
		u.UserID, Escape(name), FormatDate(u.CreatedAt), subscriptionInfo, u.ReferralCode)
}

func ReferralInfo(count, earnedMinor int64, link string) string {
	return fmt.Sprintf("🎁 <b>Реферальная программа</b>\n\n"+
		"Приглашено: %d\n"+
		"Заработано: %s\n\n"+
		"Ваша ссылка:\n%s", count, FormatAmountMinor(earnedMinor), link)
}

func AdminStats(s *types.BotStats) string {
	return fmt.Sprintf("📊 <b>Статистика</b>\n\n"+
		"👥 Пользователей: %d\n"+
		"✅ Активных подписок: %d\n"+
		"💰 Выручка за месяц: %s\n"+
		"📦 Завершённых заказов: %d",
		s.TotalUsers, s.ActiveSubscriptions, FormatAmountMinor(s.MonthRevenue), s.CompletedOrders)
}

func AdminNotAuthorized() string {
	return "⛔ Недостаточно прав."
}

// Button labels.

func BtnBuyVPN() string         { return "🚀 Купить VPN" }
func BtnProfile() string        { return "👤 Профиль" }
func BtnHelp() string           { return "ℹ️ Помощь" }
func BtnSupport() string        { return "💬 Поддержка" }
func BtnReferral() string       { return "🎁 Рефералы" }
func BtnBack() string           { return "🔙 Назад" }
func BtnMainMenu() string       { return "🏠 Главное меню" }
func BtnWireGuard() string      { return "⚡ WireGuard" }
func BtnOpenVPN() string        { return "🔐 OpenVPN" }
func BtnIHavePaid() string      { return "✅ Я оплатил" }
func BtnCancelPurchase() string { return "❌ Отменить" }

func BtnMethod(method string) string {
	switch method {
	case "crypto":
		return "🪙 Криптовалюта"
	case "yoomoney":
		return "💳 ЮMoney"
	default:
		return method
	}
}
