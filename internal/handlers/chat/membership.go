package chat

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
)

type membershipStore interface {
	PurgeChat(ctx context.Context, chatID int64) error
}

type membershipTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
}

// Membership reacts to the bot itself joining or leaving a group: joining
// provisions settings and schedules, leaving wipes everything the bot knew
// about the chat.
type Membership struct {
	s          bot.Service
	store      membershipStore
	ops        membershipTransport
	controller *moderation.Controller
}

func NewMembership(s bot.Service, store membershipStore, ops membershipTransport, controller *moderation.Controller) *Membership {
	m := &Membership{
		s:          s,
		store:      store,
		ops:        ops,
		controller: controller,
	}
	bot.RegisterUpdateHandler("membership", m)
	return m
}

func (m *Membership) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.MyChatMember == nil || chat == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	switch u.MyChatMember.NewChatMember.Status {
	case "member", "administrator":
		return false, m.joined(ctx, chat.ID)
	case "left", "kicked":
		return false, m.left(ctx, chat.ID)
	}
	return true, nil
}

func (m *Membership) joined(ctx context.Context, chatID int64) error {
	if _, err := m.s.GetSettings(ctx, chatID); err != nil {
		return err
	}
	if err := m.controller.Install(ctx, chatID); err != nil {
		m.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to install schedule")
	}
	lang := m.s.GetLanguage(ctx, chatID, nil)
	text := i18n.Get("Hello! I will keep this chat tidy. Admins, see /help for configuration.", lang)
	if _, err := m.ops.SendMessage(ctx, chatID, text, 0, nil); err != nil {
		m.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to send hello")
	}
	return nil
}

func (m *Membership) left(ctx context.Context, chatID int64) error {
	m.controller.Uninstall(chatID)
	if err := m.store.PurgeChat(ctx, chatID); err != nil {
		return errors.Store("purge chat", err)
	}
	m.getLogEntry().WithField("chat_id", chatID).Info("left chat, state purged")
	return nil
}

func (m *Membership) getLogEntry() *log.Entry {
	return log.WithField("object", "Membership")
}
