package middleware

import (
	"context"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/dkurbatov/vpn-shop-bot/internal/contextkeys"
	"github.com/dkurbatov/vpn-shop-bot/internal/messages"
	"github.com/dkurbatov/vpn-shop-bot/internal/purchase"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

type Middlewares struct {
	users types.UserStore
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*userLock
}

// userLock serializes one user's updates. Entries are evicted once the
// last holder releases, so the map is bounded by concurrently active users
// rather than everyone the bot has ever seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func New(users types.UserStore, log zerolog.Logger) *Middlewares {
	return &Middlewares{
		users: users,
		log:   log,
		locks: make(map[int64]*userLock),
	}
}

func (m *Middlewares) lockUser(userID int64) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// SerializeMiddleware processes one user's updates strictly one at a time.
// The purchase scratch state is not safe for concurrent mutation from two
// simultaneous triggers; different users proceed in parallel.
func (m *Middlewares) SerializeMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		userID, _ := identityFromUpdate(update)
		if userID == 0 {
			return
		}

		unlock := m.lockUser(userID)
		defer unlock()

		next(ctx, b, update)
	}
}

// IdentifyMiddleware upserts the user row and classifies the update,
// putting the user and callback data into the context.
func (m *Middlewares) IdentifyMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		userID, chatID := identityFromUpdate(update)
		if userID == 0 || chatID == 0 {
			return
		}

		from := fromUser(update)
		user, err := m.users.GetOrCreateUser(ctx, types.User{
			UserID:       userID,
			ChatID:       chatID,
			Username:     from.Username,
			FirstName:    from.FirstName,
			LastName:     from.LastName,
			ReferralCode: purchase.NewReferralCode(),
		})
		if err != nil {
			m.log.Error().Err(err).Int64("user_id", userID).Msg("user upsert failed")
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      messages.ErrorDefault(),
				ParseMode: messages.ParseModeHTML,
			})
			return
		}

		ctx = contextkeys.WithUser(ctx, user)

		switch {
		case update.CallbackQuery != nil && update.CallbackQuery.Data != "":
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
		case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
		case update.Message != nil && update.Message.Text != "":
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeText)
		default:
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown)
		}

		next(ctx, b, update)
	}
}

func identityFromUpdate(update *models.Update) (userID, chatID int64) {
	switch {
	case update == nil:
		return 0, 0
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID, chatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
	default:
		return 0, 0
	}
}

func fromUser(update *models.Update) *models.User {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From
	}
	if update.CallbackQuery != nil {
		return &update.CallbackQuery.From
	}
	return &models.User{}
}

func chatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}
