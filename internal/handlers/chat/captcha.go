package chat

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
)

type captchaStore interface {
	SetCaptchaState(ctx context.Context, state *db.CaptchaState) error
	GetCaptchaState(ctx context.Context, chatID, userID int64) (*db.CaptchaState, error)
	PassCaptcha(ctx context.Context, chatID, userID int64) error
	InsertMember(ctx context.Context, chatID, userID int64) error
	DeleteMember(ctx context.Context, chatID, userID int64) error
	DeleteCaptchaState(ctx context.Context, chatID, userID int64) error
}

type captchaTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// CaptchaGate greets newcomers and holds them unverified until they press
// the verification button. Verification is one-way: once passed, a user is
// never challenged again in that chat.
type CaptchaGate struct {
	s     bot.Service
	store captchaStore
	ops   captchaTransport
}

func NewCaptchaGate(s bot.Service, store captchaStore, ops captchaTransport) *CaptchaGate {
	gate := &CaptchaGate{
		s:     s,
		store: store,
		ops:   ops,
	}
	bot.RegisterUpdateHandler("captcha", gate)
	return gate
}

func (g *CaptchaGate) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || chat == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}

	if u.CallbackQuery != nil {
		return g.handleCallback(ctx, u.CallbackQuery, chat)
	}

	msg := u.Message
	if msg == nil {
		return true, nil
	}

	if msg.LeftChatMember != nil {
		g.forget(ctx, chat.ID, msg.LeftChatMember.ID)
		return true, nil
	}
	if len(msg.NewChatMembers) == 0 {
		return true, nil
	}

	settings, err := g.s.GetSettings(ctx, chat.ID)
	if err != nil {
		return true, err
	}
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		if err := g.store.InsertMember(ctx, chat.ID, member.ID); err != nil {
			g.getLogEntry().WithField("error", err.Error()).Error("failed to record member")
		}
		if settings.CaptchaEnabled {
			if err := g.Challenge(ctx, chat.ID, member); err != nil {
				g.getLogEntry().WithField("error", err.Error()).Error("failed to challenge newcomer")
			}
			continue
		}
		if settings.GreetingEnabled {
			g.greet(ctx, chat.ID, member)
		}
	}
	return false, nil
}

// Challenge records the user as unverified and posts the verification
// prompt. Safe to call again for a user who is already unverified.
func (g *CaptchaGate) Challenge(ctx context.Context, chatID int64, user *api.User) error {
	state := &db.CaptchaState{
		ChatID:    chatID,
		UserID:    user.ID,
		Passed:    false,
		CreatedAt: time.Now(),
	}
	if err := g.store.SetCaptchaState(ctx, state); err != nil {
		return errors.Store("set captcha state", err)
	}

	lang := g.s.GetLanguage(ctx, chatID, user)
	text := fmt.Sprintf(i18n.Get("Welcome, %s! Press the button below to prove you are human.", lang), bot.GetFullName(user))
	buttons := [][]telegram.Button{{
		{
			Text: i18n.Get("I am human", lang),
			Data: fmt.Sprintf("captcha:%d:%d", chatID, user.ID),
		},
	}}
	if _, err := g.ops.SendMessage(ctx, chatID, text, 0, buttons); err != nil {
		return err
	}
	return nil
}

// Verified reports whether the user may talk. Users without a record
// predate the gate and count as verified.
func (g *CaptchaGate) Verified(ctx context.Context, chatID, userID int64) (bool, error) {
	state, err := g.store.GetCaptchaState(ctx, chatID, userID)
	if err != nil {
		return false, errors.Store("get captcha state", err)
	}
	if state == nil {
		return true, nil
	}
	return state.Passed, nil
}

func (g *CaptchaGate) handleCallback(ctx context.Context, query *api.CallbackQuery, chat *api.Chat) (bool, error) {
	var chatID, userID int64
	if _, err := fmt.Sscanf(query.Data, "captcha:%d:%d", &chatID, &userID); err != nil {
		return true, nil
	}

	lang := g.s.GetLanguage(ctx, chatID, query.From)
	if query.From == nil || query.From.ID != userID {
		g.answer(ctx, query.ID, i18n.Get("This button is not for you.", lang))
		return false, nil
	}

	state, err := g.store.GetCaptchaState(ctx, chatID, userID)
	if err != nil {
		return false, errors.Store("get captcha state", err)
	}
	if state != nil && state.Passed {
		g.answer(ctx, query.ID, i18n.Get("You are already verified.", lang))
		return false, nil
	}

	if err := g.store.PassCaptcha(ctx, chatID, userID); err != nil {
		return false, errors.Store("pass captcha", err)
	}
	g.answer(ctx, query.ID, i18n.Get("Verified. Welcome!", lang))
	if query.Message != nil {
		if err := g.ops.DeleteMessage(ctx, chatID, query.Message.MessageID); err != nil {
			g.getLogEntry().WithField("error", err.Error()).Debug("failed to delete captcha prompt")
		}
	}
	return false, nil
}

func (g *CaptchaGate) greet(ctx context.Context, chatID int64, user *api.User) {
	lang := g.s.GetLanguage(ctx, chatID, user)
	text := fmt.Sprintf(i18n.Get("Welcome, %s!", lang), bot.GetFullName(user))
	if _, err := g.ops.SendMessage(ctx, chatID, text, 0, nil); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Error("failed to greet newcomer")
	}
}

func (g *CaptchaGate) forget(ctx context.Context, chatID, userID int64) {
	if err := g.store.DeleteMember(ctx, chatID, userID); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Error("failed to drop member record")
	}
	if err := g.store.DeleteCaptchaState(ctx, chatID, userID); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Error("failed to drop captcha state")
	}
}

func (g *CaptchaGate) answer(ctx context.Context, callbackID, text string) {
	if err := g.ops.AnswerCallback(ctx, callbackID, text); err != nil {
		g.getLogEntry().WithField("error", err.Error()).Debug("failed to answer callback")
	}
}

func (g *CaptchaGate) getLogEntry() *log.Entry {
	return log.WithField("object", "CaptchaGate")
}
