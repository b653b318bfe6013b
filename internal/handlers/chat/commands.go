package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

// commandKind tags a decoded command. Commands are decoded once; every
// consumer switches on the tag, never on the raw string.
type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdMute
	cmdUnmute
	cmdBan
	cmdKick
	cmdSetRules
	cmdSetWorkHours
	cmdSetReportChat
	cmdRules
	cmdReport
	cmdVoteBan
	cmdVoteMute
	cmdHelp
)

type command struct {
	kind commandKind
	args string
}

func parseCommand(msg *api.Message) command {
	switch msg.Command() {
	case "mute":
		return command{cmdMute, msg.CommandArguments()}
	case "unmute":
		return command{cmdUnmute, msg.CommandArguments()}
	case "ban":
		return command{cmdBan, msg.CommandArguments()}
	case "kick":
		return command{cmdKick, msg.CommandArguments()}
	case "setrules":
		return command{cmdSetRules, msg.CommandArguments()}
	case "setworkhours":
		return command{cmdSetWorkHours, msg.CommandArguments()}
	case "setreportchat":
		return command{cmdSetReportChat, msg.CommandArguments()}
	case "rules", "info":
		return command{cmdRules, ""}
	case "report":
		return command{cmdReport, msg.CommandArguments()}
	case "voteban":
		return command{cmdVoteBan, ""}
	case "votemute":
		return command{cmdVoteMute, ""}
	case "help":
		return command{cmdHelp, ""}
	default:
		return command{cmdUnknown, ""}
	}
}

type commandStore interface {
	GetRules(ctx context.Context, chatID int64) (string, error)
	SetRules(ctx context.Context, chatID int64, text string) error
	AddReport(ctx context.Context, report *db.Report) (*db.Report, error)
	SetReportChat(ctx context.Context, chatID, reportChatID int64) error
	SetPendingCommand(ctx context.Context, pc *db.PendingCommand) error
	GetPendingCommand(ctx context.Context, chatID, userID int64) (*db.PendingCommand, error)
	DeletePendingCommand(ctx context.Context, chatID, userID int64) error
}

type commandTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	BanUser(ctx context.Context, chatID, userID int64) error
	KickUser(ctx context.Context, chatID, userID int64) error
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Commands handles slash commands, the inline button callbacks that are not
// captcha, and the follow-up messages of two-step admin commands.
type Commands struct {
	s           bot.Service
	store       commandStore
	ops         commandTransport
	tracker     *moderation.Tracker
	coordinator *moderation.Coordinator
	controller  *moderation.Controller
	sched       *schedule.Scheduler
	cfg         config.Moderation
}

func NewCommands(s bot.Service, store commandStore, ops commandTransport, tracker *moderation.Tracker, coordinator *moderation.Coordinator, controller *moderation.Controller, sched *schedule.Scheduler, cfg config.Moderation) *Commands {
	c := &Commands{
		s:           s,
		store:       store,
		ops:         ops,
		tracker:     tracker,
		coordinator: coordinator,
		controller:  controller,
		sched:       sched,
		cfg:         cfg,
	}
	bot.RegisterUpdateHandler("commands", c)
	return c
}

func (c *Commands) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || chat == nil {
		return true, nil
	}
	if u.CallbackQuery != nil {
		return c.handleCallback(ctx, u.CallbackQuery, chat)
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	msg := u.Message
	if msg == nil || user == nil || user.IsBot {
		return true, nil
	}

	if !msg.IsCommand() {
		return c.consumePendingInput(ctx, chat.ID, user, msg)
	}

	cmd := parseCommand(msg)
	lang := c.s.GetLanguage(ctx, chat.ID, user)

	switch cmd.kind {
	case cmdUnknown:
		return true, nil
	case cmdMute:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdMute(ctx, chat.ID, msg, cmd.args, lang)
		})
	case cmdUnmute:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdUnmute(ctx, chat.ID, msg, lang)
		})
	case cmdBan:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdRemove(ctx, chat.ID, msg, lang, true)
		})
	case cmdKick:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdRemove(ctx, chat.ID, msg, lang, false)
		})
	case cmdSetRules:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdSetRules(ctx, chat.ID, user.ID, cmd.args, lang)
		})
	case cmdSetWorkHours:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdSetWorkHours(ctx, chat.ID, user.ID, cmd.args, lang)
		})
	case cmdSetReportChat:
		return false, c.adminOnly(ctx, chat.ID, user, lang, func() error {
			return c.cmdSetReportChat(ctx, chat.ID, cmd.args, lang)
		})
	case cmdRules:
		return false, c.cmdRules(ctx, chat.ID, msg, lang)
	case cmdReport:
		return false, c.cmdReport(ctx, chat.ID, user, msg, cmd.args, lang)
	case cmdVoteBan:
		return false, c.cmdVote(ctx, chat.ID, user, msg, db.VoteKindBan, lang)
	case cmdVoteMute:
		return false, c.cmdVote(ctx, chat.ID, user, msg, db.VoteKindMute, lang)
	case cmdHelp:
		return false, c.cmdHelp(ctx, chat.ID, msg, lang)
	}
	return true, nil
}

// consumePendingInput feeds a plain message to the admin's pending two-step
// command, when one exists and has not expired.
func (c *Commands) consumePendingInput(ctx context.Context, chatID int64, user *api.User, msg *api.Message) (bool, error) {
	pc, err := c.store.GetPendingCommand(ctx, chatID, user.ID)
	if err != nil {
		return true, errors.Store("get pending command", err)
	}
	if pc == nil {
		return true, nil
	}
	lang := c.s.GetLanguage(ctx, chatID, user)
	text := strings.TrimSpace(msg.Text)

	switch pc.Kind {
	case db.PendingCommandSetRules:
		if text == "" {
			c.notice(ctx, chatID, i18n.Get("Rules text cannot be empty, try again.", lang))
			return false, nil
		}
		if err := c.store.SetRules(ctx, chatID, text); err != nil {
			return false, errors.Store("set rules", err)
		}
		if err := c.store.DeletePendingCommand(ctx, chatID, user.ID); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Error("failed to clear pending command")
		}
		c.notice(ctx, chatID, i18n.Get("Rules updated.", lang))
		return false, nil
	case db.PendingCommandSetWorkHours:
		if err := c.controller.SetWorkHours(ctx, chatID, text); err != nil {
			if errors.Is(err, errors.ErrValidation) {
				c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("That does not look right: %s. Try again.", lang), err.Error()))
				return false, nil
			}
			return false, err
		}
		if err := c.store.DeletePendingCommand(ctx, chatID, user.ID); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Error("failed to clear pending command")
		}
		c.notice(ctx, chatID, i18n.Get("Work hours updated.", lang))
		return false, nil
	}
	return true, nil
}

func (c *Commands) handleCallback(ctx context.Context, query *api.CallbackQuery, chat *api.Chat) (bool, error) {
	data := query.Data
	switch {
	case strings.HasPrefix(data, "unmute:"):
		return false, c.callbackUnmute(ctx, query)
	case strings.HasPrefix(data, "vote:"):
		return false, c.callbackVote(ctx, query, chat)
	default:
		return true, nil
	}
}

func (c *Commands) callbackUnmute(ctx context.Context, query *api.CallbackQuery) error {
	var chatID, userID int64
	if _, err := fmt.Sscanf(query.Data, "unmute:%d:%d", &chatID, &userID); err != nil {
		return nil
	}
	lang := c.s.GetLanguage(ctx, chatID, query.From)

	isAdmin, err := c.ops.IsChatAdmin(ctx, chatID, query.From.ID)
	if err != nil || !isAdmin {
		c.answer(ctx, query.ID, i18n.Get("Admins only.", lang))
		return nil
	}
	if err := c.tracker.Unmute(ctx, chatID, userID); err != nil {
		c.answer(ctx, query.ID, i18n.Get("Could not unmute.", lang))
		return err
	}
	c.answer(ctx, query.ID, i18n.Get("Unmuted.", lang))
	if query.Message != nil {
		if err := c.ops.DeleteMessage(ctx, chatID, query.Message.MessageID); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Debug("failed to delete mute notice")
		}
	}
	return nil
}

func (c *Commands) callbackVote(ctx context.Context, query *api.CallbackQuery, chat *api.Chat) error {
	parts := strings.Split(query.Data, ":")
	if len(parts) != 3 {
		return nil
	}
	targetID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil
	}

	chatID := chat.ID
	if query.Message != nil {
		chatID = query.Message.Chat.ID
	}
	lang := c.s.GetLanguage(ctx, chatID, query.From)

	tally, needed, err := c.coordinator.CastVote(ctx, chatID, targetID, query.From.ID)
	switch {
	case errors.Is(err, errors.ErrAlreadyVoted):
		c.answer(ctx, query.ID, i18n.Get("You already voted.", lang))
		return nil
	case errors.Is(err, errors.ErrVoteClosed):
		c.answer(ctx, query.ID, i18n.Get("This vote is over.", lang))
		return nil
	case err != nil:
		c.answer(ctx, query.ID, i18n.Get("Could not register your vote.", lang))
		return err
	}
	c.answer(ctx, query.ID, fmt.Sprintf(i18n.Get("Vote registered (%d/%d).", lang), tally, needed))
	return nil
}

// adminOnly runs fn when the sender is a chat admin, otherwise posts a
// refusal notice.
func (c *Commands) adminOnly(ctx context.Context, chatID int64, user *api.User, lang string, fn func() error) error {
	isAdmin, err := c.ops.IsChatAdmin(ctx, chatID, user.ID)
	if err != nil {
		return err
	}
	if !isAdmin {
		c.notice(ctx, chatID, i18n.Get("Admins only.", lang))
		return nil
	}
	return fn()
}

func replyTarget(msg *api.Message) *api.User {
	if msg.ReplyToMessage == nil {
		return nil
	}
	return msg.ReplyToMessage.From
}

func (c *Commands) cmdMute(ctx context.Context, chatID int64, msg *api.Message, args, lang string) error {
	target := replyTarget(msg)
	if target == nil {
		c.notice(ctx, chatID, i18n.Get("Reply to the offender's message with this command.", lang))
		return nil
	}
	duration, err := parseDuration(args)
	if err != nil {
		c.notice(ctx, chatID, i18n.Get("Invalid duration, use forms like 30m, 2h or 3d.", lang))
		return nil
	}
	if _, err := c.tracker.Mute(ctx, chatID, target.ID, duration, "admin"); err != nil {
		return err
	}
	c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("%s has been muted for %s.", lang), bot.GetFullName(target), duration))
	return nil
}

func (c *Commands) cmdUnmute(ctx context.Context, chatID int64, msg *api.Message, lang string) error {
	target := replyTarget(msg)
	if target == nil {
		c.notice(ctx, chatID, i18n.Get("Reply to the offender's message with this command.", lang))
		return nil
	}
	if err := c.tracker.Unmute(ctx, chatID, target.ID); err != nil {
		return err
	}
	c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("%s has been unmuted.", lang), bot.GetFullName(target)))
	return nil
}

func (c *Commands) cmdRemove(ctx context.Context, chatID int64, msg *api.Message, lang string, ban bool) error {
	target := replyTarget(msg)
	if target == nil {
		c.notice(ctx, chatID, i18n.Get("Reply to the offender's message with this command.", lang))
		return nil
	}
	if ban {
		if err := c.ops.BanUser(ctx, chatID, target.ID); err != nil {
			return errors.Enforcement("ban", err)
		}
		c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("%s has been banned.", lang), bot.GetFullName(target)))
		return nil
	}
	if err := c.ops.KickUser(ctx, chatID, target.ID); err != nil {
		return errors.Enforcement("kick", err)
	}
	c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("%s has been kicked.", lang), bot.GetFullName(target)))
	return nil
}

func (c *Commands) cmdSetRules(ctx context.Context, chatID, userID int64, args, lang string) error {
	if text := strings.TrimSpace(args); text != "" {
		if err := c.store.SetRules(ctx, chatID, text); err != nil {
			return errors.Store("set rules", err)
		}
		c.notice(ctx, chatID, i18n.Get("Rules updated.", lang))
		return nil
	}
	if err := c.setPending(ctx, chatID, userID, db.PendingCommandSetRules); err != nil {
		return err
	}
	c.notice(ctx, chatID, i18n.Get("Send the rules text as your next message.", lang))
	return nil
}

func (c *Commands) cmdSetWorkHours(ctx context.Context, chatID, userID int64, args, lang string) error {
	if strings.TrimSpace(args) != "" {
		if err := c.controller.SetWorkHours(ctx, chatID, args); err != nil {
			if errors.Is(err, errors.ErrValidation) {
				c.notice(ctx, chatID, fmt.Sprintf(i18n.Get("That does not look right: %s. Try again.", lang), err.Error()))
				return nil
			}
			return err
		}
		c.notice(ctx, chatID, i18n.Get("Work hours updated.", lang))
		return nil
	}
	if err := c.setPending(ctx, chatID, userID, db.PendingCommandSetWorkHours); err != nil {
		return err
	}
	c.notice(ctx, chatID, i18n.Get("Send the work hours as your next message, like 09:00-18:00 Europe/Berlin.", lang))
	return nil
}

// cmdSetReportChat routes /report relays to another chat, an admin channel
// usually. An empty argument keeps reports in the chat itself.
func (c *Commands) cmdSetReportChat(ctx context.Context, chatID int64, args, lang string) error {
	args = strings.TrimSpace(args)
	if args == "" {
		if err := c.store.SetReportChat(ctx, chatID, 0); err != nil {
			return errors.Store("set report chat", err)
		}
		c.notice(ctx, chatID, i18n.Get("Reports will stay in this chat.", lang))
		return nil
	}

	reportChatID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		c.notice(ctx, chatID, i18n.Get("Pass the numeric ID of the chat that should receive reports.", lang))
		return nil
	}
	if err := c.store.SetReportChat(ctx, chatID, reportChatID); err != nil {
		return errors.Store("set report chat", err)
	}
	c.notice(ctx, chatID, i18n.Get("Reports will be relayed to the configured chat.", lang))
	return nil
}

func (c *Commands) setPending(ctx context.Context, chatID, userID int64, kind db.PendingCommandKind) error {
	now := time.Now()
	pc := &db.PendingCommand{
		ChatID:    chatID,
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.PendingInputTTL),
	}
	if err := c.store.SetPendingCommand(ctx, pc); err != nil {
		return errors.Store("set pending command", err)
	}
	return nil
}

func (c *Commands) cmdRules(ctx context.Context, chatID int64, msg *api.Message, lang string) error {
	rules, err := c.store.GetRules(ctx, chatID)
	if err != nil {
		return errors.Store("get rules", err)
	}
	if rules == "" {
		rules = i18n.Get("No rules have been set for this chat.", lang)
	}
	if _, err := c.ops.SendMessage(ctx, chatID, rules, msg.MessageID, nil); err != nil {
		return err
	}
	return nil
}

func (c *Commands) cmdReport(ctx context.Context, chatID int64, user *api.User, msg *api.Message, args, lang string) error {
	settings, err := c.s.GetSettings(ctx, chatID)
	if err != nil {
		return err
	}
	if !settings.ReportSystemEnabled {
		c.notice(ctx, chatID, i18n.Get("Reports are disabled in this chat.", lang))
		return nil
	}
	reported := replyTarget(msg)
	if reported == nil {
		c.notice(ctx, chatID, i18n.Get("Reply to the message you want to report.", lang))
		return nil
	}

	report := &db.Report{
		ChatID:     chatID,
		ReporterID: user.ID,
		ReportedID: reported.ID,
		MessageID:  msg.ReplyToMessage.MessageID,
		Reason:     strings.TrimSpace(args),
		CreatedAt:  time.Now(),
	}
	if _, err := c.store.AddReport(ctx, report); err != nil {
		return errors.Store("add report", err)
	}
	c.notice(ctx, chatID, i18n.Get("Thank you, the report has been recorded.", lang))

	if settings.ReportChatID != 0 {
		reason := report.Reason
		if reason == "" {
			reason = i18n.Get("no reason given", lang)
		}
		relay := fmt.Sprintf(i18n.Get("Report from %s about %s: %s", lang),
			bot.GetFullName(user), bot.GetFullName(reported), reason)
		if _, err := c.ops.SendMessage(ctx, settings.ReportChatID, relay, 0, nil); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Error("failed to relay report")
		}
	}
	return nil
}

func (c *Commands) cmdVote(ctx context.Context, chatID int64, user *api.User, msg *api.Message, kind db.VoteKind, lang string) error {
	target := replyTarget(msg)
	if target == nil {
		c.notice(ctx, chatID, i18n.Get("Reply to the offender's message with this command.", lang))
		return nil
	}
	if target.IsBot || target.ID == user.ID {
		c.notice(ctx, chatID, i18n.Get("You cannot start a vote against that user.", lang))
		return nil
	}

	err := c.coordinator.StartVote(ctx, chatID, target.ID, user.ID, kind, bot.GetFullName(target))
	if errors.Is(err, errors.ErrAlreadyActive) {
		c.notice(ctx, chatID, i18n.Get("A vote against this user is already running.", lang))
		return nil
	}
	return err
}

func (c *Commands) cmdHelp(ctx context.Context, chatID int64, msg *api.Message, lang string) error {
	help := i18n.Get(`Commands:
/rules - show the chat rules
/report - report a message (reply)
/voteban - start a ban vote (reply)
/votemute - start a mute vote (reply)

Admin commands:
/mute [30m|2h|3d] - mute (reply)
/unmute - lift a mute (reply)
/ban - ban (reply)
/kick - remove without ban (reply)
/setrules [text] - set the chat rules
/setworkhours [HH:MM-HH:MM TZ] - set the work window
/setreportchat [chat id] - relay reports to another chat`, lang)
	if _, err := c.ops.SendMessage(ctx, chatID, help, msg.MessageID, nil); err != nil {
		return err
	}
	return nil
}

// parseDuration understands Go durations plus a day suffix, "3d". Empty
// input falls back to one day.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, errors.Validation("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.Validation("invalid duration %q", s)
	}
	return d, nil
}

// notice posts a short-lived service message.
func (c *Commands) notice(ctx context.Context, chatID int64, text string) {
	messageID, err := c.ops.SendMessage(ctx, chatID, text, 0, nil)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to send notice")
		return
	}
	c.sched.After(fmt.Sprintf("notice:%d:%d", chatID, messageID), c.cfg.NoticeLifetime, func(ctx context.Context) {
		if err := c.ops.DeleteMessage(ctx, chatID, messageID); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Debug("failed to delete notice")
		}
	})
}

func (c *Commands) answer(ctx context.Context, callbackID, text string) {
	if err := c.ops.AnswerCallback(ctx, callbackID, text); err != nil {
		c.getLogEntry().WithField("error", err.Error()).Debug("failed to answer callback")
	}
}

func (c *Commands) getLogEntry() *log.Entry {
	return log.WithField("object", "Commands")
}
