package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/dkurbatov/vpn-shop-bot/internal/catalog"
	"github.com/dkurbatov/vpn-shop-bot/internal/config"
	"github.com/dkurbatov/vpn-shop-bot/internal/contextkeys"
	"github.com/dkurbatov/vpn-shop-bot/internal/messages"
	"github.com/dkurbatov/vpn-shop-bot/internal/purchase"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

type Handlers struct {
	orch    *purchase.Orchestrator
	ledger  *purchase.Ledger
	subs    types.SubscriptionStore
	stats   types.StatsStore
	catalog *catalog.Catalog
	cfg     *config.Config
	log     zerolog.Logger
	botName string
}

func NewHandlers(
	orch *purchase.Orchestrator,
	ledger *purchase.Ledger,
	subs types.SubscriptionStore,
	stats types.StatsStore,
	cat *catalog.Catalog,
	cfg *config.Config,
	log zerolog.Logger,
	botName string,
) *Handlers {
	return &Handlers{
		orch:    orch,
		ledger:  ledger,
		subs:    subs,
		stats:   stats,
		catalog: cat,
		cfg:     cfg,
		log:     log,
		botName: botName,
	}
}

func (h *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := contextkeys.GetUser(ctx)
	if !ok {
		h.log.Error().Msg("user not found in context")
		return
	}

	messageType, _ := contextkeys.GetMessageType(ctx)
	switch messageType {
	case contextkeys.MessageTypeCommand:
		h.HandleCommand(ctx, b, update, user)
	case contextkeys.MessageTypeClickButton:
		h.HandleCallback(ctx, b, update, user)
	default:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    user.ChatID,
			Text:      messages.TextHint(),
			ParseMode: messages.ParseModeHTML,
		})
	}
}

func (h *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if strings.Contains(cmd, "@") {
		cmd = strings.SplitN(cmd, "@", 2)[0]
	}
	chatID := update.Message.Chat.ID

	switch cmd {
	case "/start":
		referralCode := ""
		if len(fields) > 1 {
			referralCode = strings.TrimSpace(fields[1])
		}
		if _, err := h.orch.StartConversation(ctx, *user, referralCode); err != nil {
			h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("start failed")
			h.sendError(ctx, b, chatID)
			return
		}
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        messages.Welcome(),
			ParseMode:   messages.ParseModeHTML,
			ReplyMarkup: h.mainMenuKeyboard(),
		})
	case "/plans":
		h.sendPlans(ctx, b, chatID, user.UserID)
	case "/profile":
		h.sendProfile(ctx, b, chatID, user)
	case "/referral":
		h.sendReferral(ctx, b, chatID, user)
	case "/cancel":
		cancelled, err := h.orch.Cancel(ctx, chatID, user.UserID)
		if err != nil {
			h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("cancel failed")
			h.sendError(ctx, b, chatID)
			return
		}
		text := messages.NothingToCancel()
		if cancelled > 0 {
			text = messages.PurchaseCancelled()
		}
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: messages.ParseModeHTML,
		})
	case "/help":
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      messages.Help(),
			ParseMode: messages.ParseModeHTML,
		})
	case "/support":
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      messages.Support(),
			ParseMode: messages.ParseModeHTML,
		})
	case "/admin":
		h.HandleAdmin(ctx, b, chatID, user)
	default:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      messages.ErrorUnknownCommand(),
			ParseMode: messages.ParseModeHTML,
		})
	}
}

func (h *Handlers) sendError(ctx context.Context, b *bot.Bot, chatID int64) {
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      messages.ErrorDefault(),
		ParseMode: messages.ParseModeHTML,
	})
}

func (h *Handlers) sendProfile(ctx context.Context, b *bot.Bot, chatID int64, user *types.User) {
	subInfo := messages.SubscriptionInactive()
	sub, err := h.subs.GetActiveSubscription(ctx, user.UserID)
	if err == nil && sub != nil {
		planName := sub.PlanID
		if plan, ok := h.catalog.Plan(sub.PlanID); ok {
			planName = plan.Name
		}
		subInfo = messages.SubscriptionActive(planName, sub.EndsAt, daysLeft(sub))
	}
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        messages.ProfileInfo(user, subInfo),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: h.backToMenuKeyboard(),
	})
}

func (h *Handlers) sendReferral(ctx context.Context, b *bot.Bot, chatID int64, user *types.User) {
	count, err := h.ledger.Referrals(ctx, user.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("referral count failed")
		h.sendError(ctx, b, chatID)
		return
	}
	earned, err := h.ledger.Balance(ctx, user.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("referral balance failed")
		h.sendError(ctx, b, chatID)
		return
	}
	link := "https://t.me/" + h.botName + "?start=" + user.ReferralCode
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        messages.ReferralInfo(count, earned, link),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: h.backToMenuKeyboard(),
	})
}

func (h *Handlers) mainMenuKeyboard() *models.InlineKeyboardMarkup {
	pad := func(s string) string { return "   " + s + "   " }
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: pad(messages.BtnBuyVPN()), CallbackData: "buy_vpn"}},
			{{Text: pad(messages.BtnProfile()), CallbackData: "profile"}},
			{
				{Text: pad(messages.BtnHelp()), CallbackData: "help"},
				{Text: pad(messages.BtnSupport()), CallbackData: "support"},
			},
			{{Text: pad(messages.BtnReferral()), CallbackData: "referral"}},
		},
	}
}

func (h *Handlers) backToMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: messages.BtnMainMenu(), CallbackData: "main_menu"}},
		},
	}
}

func daysLeft(sub *types.Subscription) int {
	d := int(sub.EndsAt.Sub(nowUTC()).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
