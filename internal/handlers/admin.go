package handlers

import (
	"context"

	"github.com/go-telegram/bot"

	"github.com/dkurbatov/vpn-shop-bot/internal/messages"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

func (h *Handlers) HandleAdmin(ctx context.Context, b *bot.Bot, chatID int64, user *types.User) {
	if !h.cfg.IsAdmin(user.UserID) {
		h.log.Warn().Int64("user_id", user.UserID).Msg("admin command from non-admin")
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      messages.AdminNotAuthorized(),
			ParseMode: messages.ParseModeHTML,
		})
		return
	}

	stats, err := h.stats.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		h.sendError(ctx, b, chatID)
		return
	}
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      messages.AdminStats(stats),
		ParseMode: messages.ParseModeHTML,
	})
}
