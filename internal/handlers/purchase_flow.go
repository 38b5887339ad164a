package handlers

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/skip2/go-qrcode"

	"github.com/dkurbatov/vpn-shop-bot/internal/contextkeys"
	"github.com/dkurbatov/vpn-shop-bot/internal/messages"
	"github.com/dkurbatov/vpn-shop-bot/internal/payments"
	"github.com/dkurbatov/vpn-shop-bot/internal/provision"
	"github.com/dkurbatov/vpn-shop-bot/internal/purchase"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

const qrCodeSize = 512

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (h *Handlers) HandleCallback(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	data, ok := contextkeys.GetCallbackData(ctx)
	if !ok || update.CallbackQuery == nil {
		return
	}
	chatID := callbackChatID(update)
	if chatID == 0 {
		h.answerCallback(ctx, b, update, messages.ErrorStaleStep())
		return
	}

	switch {
	case data == "buy_vpn":
		h.answerCallback(ctx, b, update, "")
		h.editToPlans(ctx, b, update, chatID, user.UserID)
	case strings.HasPrefix(data, "plan_"):
		h.handleSelectPlan(ctx, b, update, chatID, strings.TrimPrefix(data, "plan_"))
	case strings.HasPrefix(data, "protocol_"):
		h.handleSelectProtocol(ctx, b, update, chatID, strings.TrimPrefix(data, "protocol_"))
	case strings.HasPrefix(data, "pay_"):
		h.handleSelectMethod(ctx, b, update, chatID, user, strings.TrimPrefix(data, "pay_"))
	case strings.HasPrefix(data, "verify_"):
		h.handleVerify(ctx, b, update, chatID, user, strings.TrimPrefix(data, "verify_"))
	case data == "cancel_purchase":
		h.handleCancel(ctx, b, update, chatID, user)
	case data == "main_menu":
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.Welcome(), h.mainMenuKeyboard())
	case data == "profile":
		h.answerCallback(ctx, b, update, "")
		h.sendProfile(ctx, b, chatID, user)
	case data == "referral":
		h.answerCallback(ctx, b, update, "")
		h.sendReferral(ctx, b, chatID, user)
	case data == "help":
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.Help(), h.backToMenuKeyboard())
	case data == "support":
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.Support(), h.backToMenuKeyboard())
	default:
		h.answerCallback(ctx, b, update, messages.ErrorStaleStep())
	}
}

func (h *Handlers) sendPlans(ctx context.Context, b *bot.Bot, chatID, userID int64) {
	if err := h.orch.BeginPurchase(chatID, userID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("begin purchase failed")
		h.sendError(ctx, b, chatID)
		return
	}
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        h.plansText(),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: h.plansKeyboard(),
	})
}

func (h *Handlers) editToPlans(ctx context.Context, b *bot.Bot, update *models.Update, chatID, userID int64) {
	if err := h.orch.BeginPurchase(chatID, userID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("begin purchase failed")
		h.sendError(ctx, b, chatID)
		return
	}
	h.editMessage(ctx, b, update, chatID, h.plansText(), h.plansKeyboard())
}

func (h *Handlers) plansText() string {
	var sb strings.Builder
	sb.WriteString(messages.PlansHeader())
	for _, p := range h.orch.Plans() {
		sb.WriteString(messages.PlanLine(p))
	}
	sb.WriteString(messages.ChoosePlan())
	return sb.String()
}

func (h *Handlers) plansKeyboard() *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(h.orch.Plans())+1)
	for _, p := range h.orch.Plans() {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: p.Name + " — " + messages.FormatAmountMinor(p.AmountMinor()), CallbackData: "plan_" + p.ID},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: messages.BtnMainMenu(), CallbackData: "main_menu"},
	})
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (h *Handlers) handleSelectPlan(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, planID string) {
	_, err := h.orch.SelectPlan(ctx, chatID, planID)
	if err != nil {
		h.answerStep(ctx, b, update, chatID, err)
		return
	}
	h.answerCallback(ctx, b, update, "")
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: messages.BtnWireGuard(), CallbackData: "protocol_wireguard"}},
			{{Text: messages.BtnOpenVPN(), CallbackData: "protocol_openvpn"}},
			{{Text: messages.BtnCancelPurchase(), CallbackData: "cancel_purchase"}},
		},
	}
	h.editMessage(ctx, b, update, chatID, messages.ChooseProtocol(), keyboard)
}

func (h *Handlers) handleSelectProtocol(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, raw string) {
	_, err := h.orch.SelectProtocol(ctx, chatID, raw)
	if err != nil {
		h.answerStep(ctx, b, update, chatID, err)
		return
	}
	plan, ok := h.orch.CurrentPlan(chatID)
	if !ok {
		h.answerCallback(ctx, b, update, messages.ErrorStaleStep())
		return
	}
	h.answerCallback(ctx, b, update, "")
	rows := make([][]models.InlineKeyboardButton, 0, len(h.orch.Methods())+1)
	for _, method := range h.orch.Methods() {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: messages.BtnMethod(method), CallbackData: "pay_" + method},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: messages.BtnCancelPurchase(), CallbackData: "cancel_purchase"},
	})
	h.editMessage(ctx, b, update, chatID, messages.ChooseMethod(plan.Name, plan.AmountMinor()), &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (h *Handlers) handleSelectMethod(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, user *types.User, method string) {
	intent, err := h.orch.SelectPaymentMethod(ctx, chatID, user.UserID, method)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrProviderUnavailable):
			h.answerCallback(ctx, b, update, "")
			h.editMessage(ctx, b, update, chatID, messages.ErrorTryLater(), h.backToMenuKeyboard())
		case errors.Is(err, payments.ErrProviderRejected):
			h.answerCallback(ctx, b, update, "")
			h.editMessage(ctx, b, update, chatID, messages.ErrorPaymentRejected(), h.backToMenuKeyboard())
		default:
			h.answerStep(ctx, b, update, chatID, err)
		}
		return
	}
	h.answerCallback(ctx, b, update, "")
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: messages.BtnIHavePaid(), CallbackData: "verify_" + intent.Order.ID}},
			{{Text: messages.BtnCancelPurchase(), CallbackData: "cancel_purchase"}},
		},
	}
	h.editMessage(ctx, b, update, chatID, messages.PaymentCreated(intent.Order.Amount, intent.PayURL), keyboard)
}

func (h *Handlers) handleVerify(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, user *types.User, orderID string) {
	result, err := h.orch.VerifyPayment(ctx, chatID, user.UserID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, purchase.ErrOrderMismatch):
			h.answerCallback(ctx, b, update, messages.ErrorStaleStep())
		case errors.Is(err, provision.ErrAllocationExhausted):
			h.answerCallback(ctx, b, update, "")
			h.editMessage(ctx, b, update, chatID, messages.ErrorCapacity(), h.backToMenuKeyboard())
		case errors.Is(err, purchase.ErrProvisioningFailed):
			h.answerCallback(ctx, b, update, "")
			h.editMessage(ctx, b, update, chatID, messages.ErrorTryLater(), h.backToMenuKeyboard())
		case errors.Is(err, payments.ErrProviderUnavailable):
			h.answerCallback(ctx, b, update, messages.ErrorTryLater())
		default:
			h.log.Error().Err(err).Str("order_id", orderID).Msg("verify failed")
			h.answerCallback(ctx, b, update, "")
			h.editMessage(ctx, b, update, chatID, messages.ErrorDefault(), h.backToMenuKeyboard())
		}
		return
	}

	switch result.Outcome {
	case purchase.VerifyStillPending:
		h.answerCallback(ctx, b, update, messages.PaymentStillPending())
	case purchase.VerifyOrderClosed:
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.PaymentClosed(result.Order.Status), h.backToMenuKeyboard())
	case purchase.VerifyCompleted:
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.PaymentSucceeded(result.Subscription.EndsAt), nil)
		h.deliverProfile(ctx, b, chatID, result)
	case purchase.VerifyAlreadyCompleted:
		h.answerCallback(ctx, b, update, "")
		h.editMessage(ctx, b, update, chatID, messages.PaymentAlreadyProcessed(result.Subscription.EndsAt), nil)
		h.deliverProfile(ctx, b, chatID, result)
	}
}

func (h *Handlers) deliverProfile(ctx context.Context, b *bot.Bot, chatID int64, result *purchase.VerifyResult) {
	config := result.Subscription.VPNConfig
	if config == "" {
		h.log.Error().Str("order_id", result.Order.ID).Msg("subscription has no client config")
		return
	}
	_, err := b.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: result.FileName,
			Data:     strings.NewReader(config),
		},
		Caption:   messages.ConfigCaption(),
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		h.log.Error().Err(err).Str("order_id", result.Order.ID).Msg("config document send failed")
	}

	png, err := qrcode.Encode(config, qrcode.Medium, qrCodeSize)
	if err != nil {
		h.log.Error().Err(err).Str("order_id", result.Order.ID).Msg("qr encode failed")
		return
	}
	_, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: chatID,
		Photo: &models.InputFileUpload{
			Filename: "vpn_config_qr.png",
			Data:     bytes.NewReader(png),
		},
		Caption:   messages.QRCaption(),
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		h.log.Error().Err(err).Str("order_id", result.Order.ID).Msg("qr photo send failed")
	}
}

func (h *Handlers) handleCancel(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, user *types.User) {
	cancelled, err := h.orch.Cancel(ctx, chatID, user.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("cancel failed")
		h.answerCallback(ctx, b, update, messages.ErrorDefault())
		return
	}
	h.answerCallback(ctx, b, update, "")
	text := messages.NothingToCancel()
	if cancelled > 0 {
		text = messages.PurchaseCancelled()
	}
	h.editMessage(ctx, b, update, chatID, text, h.backToMenuKeyboard())
}

// answerStep maps conversation-step errors to a short callback notice so a
// tap on an outdated keyboard never leaves the spinner hanging.
func (h *Handlers) answerStep(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, err error) {
	switch {
	case errors.Is(err, purchase.ErrWrongState),
		errors.Is(err, purchase.ErrUnknownPlan),
		errors.Is(err, purchase.ErrUnknownProtocol),
		errors.Is(err, payments.ErrUnknownMethod):
		h.answerCallback(ctx, b, update, messages.ErrorStaleStep())
	default:
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("purchase step failed")
		h.answerCallback(ctx, b, update, messages.ErrorDefault())
	}
}

func (h *Handlers) answerCallback(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	if update.CallbackQuery == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            text,
	})
}

func (h *Handlers) editMessage(ctx context.Context, b *bot.Bot, update *models.Update, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	msg := update.CallbackQuery.Message.Message
	if msg == nil {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        text,
			ParseMode:   messages.ParseModeHTML,
			ReplyMarkup: keyboard,
		})
		return
	}
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: msg.ID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := b.EditMessageText(ctx, params); err != nil {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        text,
			ParseMode:   messages.ParseModeHTML,
			ReplyMarkup: keyboard,
		})
	}
}

func callbackChatID(update *models.Update) int64 {
	if update.CallbackQuery == nil {
		return 0
	}
	m := update.CallbackQuery.Message
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}
