package chat

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/adapters"
	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/filters"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/observability"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

type dispatcherTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Dispatcher runs every group message through the moderation gates in a
// fixed order: closed window, active mute, captcha, content filters. The
// first gate that fires wins; later gates never see the message.
type Dispatcher struct {
	s       bot.Service
	ops     dispatcherTransport
	tracker *moderation.Tracker
	gate    *CaptchaGate
	engine  *filters.Engine
	llm     adapters.LLM
	sched   *schedule.Scheduler
	cfg     config.Moderation
}

func NewDispatcher(s bot.Service, ops dispatcherTransport, tracker *moderation.Tracker, gate *CaptchaGate, engine *filters.Engine, llm adapters.LLM, sched *schedule.Scheduler, cfg config.Moderation) *Dispatcher {
	d := &Dispatcher{
		s:       s,
		ops:     ops,
		tracker: tracker,
		gate:    gate,
		engine:  engine,
		llm:     llm,
		sched:   sched,
		cfg:     cfg,
	}
	bot.RegisterUpdateHandler("dispatcher", d)
	return d
}

func (d *Dispatcher) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	msg := u.Message
	if msg.IsCommand() || user.IsBot {
		return true, nil
	}

	started := time.Now()
	defer func() {
		observability.ObserveProcessingDuration(time.Since(started))
	}()

	settings, err := d.s.GetSettings(ctx, chat.ID)
	if err != nil {
		return true, err
	}

	isAdmin, err := d.ops.IsChatAdmin(ctx, chat.ID, user.ID)
	if err != nil {
		d.getLogEntry().WithField("error", err.Error()).Warn("admin check failed, treating as regular member")
	}
	if isAdmin {
		return true, nil
	}

	if settings.IsClosed {
		return false, d.enforceClosedWindow(ctx, chat.ID, user, msg)
	}

	mute, err := d.tracker.ActiveMute(ctx, chat.ID, user.ID, time.Now())
	if err != nil {
		return true, err
	}
	if mute != nil {
		d.deleteMessage(ctx, chat.ID, msg.MessageID)
		return false, nil
	}

	verified, err := d.gate.Verified(ctx, chat.ID, user.ID)
	if err != nil {
		return true, err
	}
	if !verified {
		d.deleteMessage(ctx, chat.ID, msg.MessageID)
		if err := d.gate.Challenge(ctx, chat.ID, user); err != nil {
			d.getLogEntry().WithField("error", err.Error()).Error("failed to rechallenge unverified user")
		}
		return false, nil
	}

	kind, matched := d.classify(ctx, settings, msg)
	if !matched {
		return true, nil
	}
	observability.RecordFilterHit(string(kind))
	return false, d.punish(ctx, chat.ID, user, msg, kind)
}

// classify runs the content filters in their fixed order and returns the
// first that matches. A classifier failure counts as no match.
func (d *Dispatcher) classify(ctx context.Context, settings *db.Settings, msg *api.Message) (filters.Kind, bool) {
	content := bot.ExtractContentFromMessage(msg)

	if settings.ProfanityFilterEnabled && d.engine.MatchesProfanity(content) {
		return filters.KindProfanity, true
	}
	if settings.LinkFilterEnabled && d.engine.MatchesLink(content) {
		return filters.KindLink, true
	}
	if settings.FileFilterEnabled && d.engine.IsDangerousFile(bot.AttachedFileName(msg)) {
		return filters.KindFile, true
	}
	if settings.ToxicityFilterEnabled && d.llm != nil && content != "" {
		verdict, err := d.llm.Detect(ctx, content)
		if err != nil {
			d.getLogEntry().WithField("error", err.Error()).Warn("toxicity classifier unavailable")
		} else if verdict != nil && *verdict {
			return filters.KindToxicity, true
		}
	}
	return "", false
}

// punish deletes the message, adds a warning and escalates at the limit.
func (d *Dispatcher) punish(ctx context.Context, chatID int64, user *api.User, msg *api.Message, kind filters.Kind) error {
	d.deleteMessage(ctx, chatID, msg.MessageID)

	count, limited, err := d.tracker.Increment(ctx, chatID, user.ID)
	if err != nil {
		return err
	}
	lang := d.s.GetLanguage(ctx, chatID, user)

	if !limited {
		observability.RecordModerationAction("warn")
		text := fmt.Sprintf(i18n.Get("%s, your message was removed (%s). Warning %d/%d.", lang),
			bot.GetFullName(user), i18n.Get(string(kind), lang), count, d.cfg.WarningsLimit)
		d.sendNotice(ctx, chatID, text, nil)
		return nil
	}

	category := moderation.CategoryFilter
	if kind == filters.KindFile {
		category = moderation.CategoryFile
	}
	mute, err := d.tracker.Escalate(ctx, chatID, user.ID, category)
	if err != nil {
		var enforcement *errors.EnforcementError
		if errors.As(err, &enforcement) {
			d.getLogEntry().WithField("error", err.Error()).Error("failed to restrict user at warning limit")
			return nil
		}
		return err
	}
	observability.RecordModerationAction("mute")

	text := fmt.Sprintf(i18n.Get("%s has been muted until %s for repeated violations.", lang),
		bot.GetFullName(user), mute.ExpiresAt.UTC().Format("15:04 MST"))
	buttons := [][]telegram.Button{{
		{
			Text: i18n.Get("Unmute", lang),
			Data: fmt.Sprintf("unmute:%d:%d", chatID, user.ID),
		},
	}}
	d.sendNotice(ctx, chatID, text, buttons)
	return nil
}

// enforceClosedWindow removes the message and restricts the sender for the
// configured cool-off.
func (d *Dispatcher) enforceClosedWindow(ctx context.Context, chatID int64, user *api.User, msg *api.Message) error {
	d.deleteMessage(ctx, chatID, msg.MessageID)
	if err := d.ops.RestrictUser(ctx, chatID, user.ID, time.Now().Add(d.cfg.ClosedChatMute)); err != nil {
		d.getLogEntry().WithField("error", err.Error()).Error("failed to restrict sender in closed chat")
		return nil
	}
	observability.RecordModerationAction("closed_window_restrict")

	lang := d.s.GetLanguage(ctx, chatID, user)
	text := fmt.Sprintf(i18n.Get("%s, the chat is closed right now. You are muted for a while.", lang), bot.GetFullName(user))
	d.sendNotice(ctx, chatID, text, nil)
	return nil
}

// sendNotice posts a short-lived service message and schedules its removal.
func (d *Dispatcher) sendNotice(ctx context.Context, chatID int64, text string, buttons [][]telegram.Button) {
	messageID, err := d.ops.SendMessage(ctx, chatID, text, 0, buttons)
	if err != nil {
		d.getLogEntry().WithField("error", err.Error()).Error("failed to send notice")
		return
	}
	d.sched.After(fmt.Sprintf("notice:%d:%d", chatID, messageID), d.cfg.NoticeLifetime, func(ctx context.Context) {
		d.deleteMessage(ctx, chatID, messageID)
	})
}

func (d *Dispatcher) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if err := d.ops.DeleteMessage(ctx, chatID, messageID); err != nil {
		d.getLogEntry().WithField("error", err.Error()).Debug("failed to delete message")
	}
}

func (d *Dispatcher) getLogEntry() *log.Entry {
	return log.WithField("object", "Dispatcher")
}
