package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/vkosarev/groupwarden/internal/errors"
)

// Operations wraps the bot API into the enforcement surface the moderation
// core depends on. Core packages consume it through narrow interfaces.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

// Button is a single inline keyboard button with callback data.
type Button struct {
	Text string
	Data string
}

func inlineMarkup(buttons [][]Button) *api.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]api.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		apiRow := make([]api.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			apiRow = append(apiRow, api.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, apiRow)
	}
	markup := api.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// SendMessage posts a message and returns its id. replyTo of 0 means no
// reply threading.
func (o *Operations) SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]Button) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	msg := api.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyParameters = api.ReplyParameters{
			ChatID:                   chatID,
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if markup := inlineMarkup(buttons); markup != nil {
		msg.ReplyMarkup = markup
	}
	msg.DisableNotification = true
	msg.LinkPreviewOptions.IsDisabled = true

	sent, err := o.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (o *Operations) EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var edit api.EditMessageTextConfig
	if markup := inlineMarkup(buttons); markup != nil {
		edit = api.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = api.NewEditMessageText(chatID, messageID, text)
	}
	if _, err := o.bot.Request(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return wrapPrivilege(fmt.Errorf("delete message: %w", err))
	}
	return nil
}

// BanUser bans permanently and drops the target's messages.
func (o *Operations) BanUser(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		RevokeMessages: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		return wrapPrivilege(fmt.Errorf("ban user: %w", err))
	}
	return nil
}

// KickUser removes the target without a lasting ban.
func (o *Operations) KickUser(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate: time.Now().Add(time.Minute).Unix(),
	}
	if _, err := o.bot.Request(config); err != nil {
		return wrapPrivilege(fmt.Errorf("kick user: %w", err))
	}
	return nil
}

// RestrictUser removes the target's send permissions. A zero until means
// the restriction has no expiry on the platform side.
func (o *Operations) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       false,
			CanSendAudios:         false,
			CanSendDocuments:      false,
			CanSendPhotos:         false,
			CanSendVideos:         false,
			CanSendVideoNotes:     false,
			CanSendVoiceNotes:     false,
			CanSendPolls:          false,
			CanSendOtherMessages:  false,
			CanAddWebPagePreviews: false,
		},
	}
	if !until.IsZero() {
		config.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(config); err != nil {
		return wrapPrivilege(fmt.Errorf("restrict user: %w", err))
	}
	return nil
}

func (o *Operations) UnrestrictUser(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendAudios:         true,
			CanSendDocuments:      true,
			CanSendPhotos:         true,
			CanSendVideos:         true,
			CanSendVideoNotes:     true,
			CanSendVoiceNotes:     true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	if _, err := o.bot.Request(config); err != nil {
		return wrapPrivilege(fmt.Errorf("unrestrict user: %w", err))
	}
	return nil
}

func (o *Operations) GetMemberCount(ctx context.Context, chatID int64) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	count, err := o.bot.GetChatMembersCount(api.ChatMemberCountConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get member count: %w", err)
	}
	return count, nil
}

func (o *Operations) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	return member.IsAdministrator() || member.IsCreator(), nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := o.bot.Request(api.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func wrapPrivilege(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not enough rights") || strings.Contains(msg, "chat_admin_required") {
		return fmt.Errorf("%w: %v", errors.ErrNoPrivileges, err)
	}
	return err
}
