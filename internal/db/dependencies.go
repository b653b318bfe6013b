package db

import "context"

// Client is the persistence contract of the moderation engine. Every method
// that mutates state is atomic with respect to its (chat, user) key.
type Client interface {
	Close() error

	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error
	SetReportChat(ctx context.Context, chatID, reportChatID int64) error
	SetWorkWindow(ctx context.Context, chatID int64, workStart, workEnd int, timezone string) error
	SetClosed(ctx context.Context, chatID int64, closed bool) (changed bool, err error)
	ListChats(ctx context.Context) ([]int64, error)
	PurgeChat(ctx context.Context, chatID int64) error

	// AddWarning increments the warning counter and returns the new count.
	AddWarning(ctx context.Context, chatID, userID int64) (int, error)
	GetWarnings(ctx context.Context, chatID, userID int64) (int, error)
	ResetWarnings(ctx context.Context, chatID, userID int64) error

	UpsertMute(ctx context.Context, mute *Mute) error
	// EscalateMute records the mute and resets the warning counter in a
	// single transaction.
	EscalateMute(ctx context.Context, mute *Mute) error
	GetMute(ctx context.Context, chatID, userID int64) (*Mute, error)
	DeleteMute(ctx context.Context, chatID, userID int64) error

	SetCaptchaState(ctx context.Context, state *CaptchaState) error
	GetCaptchaState(ctx context.Context, chatID, userID int64) (*CaptchaState, error)
	// PassCaptcha flips the state to passed. A second call is a no-op.
	PassCaptcha(ctx context.Context, chatID, userID int64) error
	DeleteCaptchaState(ctx context.Context, chatID, userID int64) error

	InsertMember(ctx context.Context, chatID, userID int64) error
	DeleteMember(ctx context.Context, chatID, userID int64) error
	CountMembers(ctx context.Context, chatID int64) (int, error)

	// CreateVote fails with ErrAlreadyActive while a vote against the same
	// target is open in the chat.
	CreateVote(ctx context.Context, vote *Vote) error
	GetVote(ctx context.Context, chatID, targetUserID int64) (*Vote, error)
	ListActiveVotes(ctx context.Context) ([]*Vote, error)
	SetVoteMessageID(ctx context.Context, chatID, targetUserID int64, messageID int) error
	// AddBallot registers a ballot and returns the resulting tally.
	// ErrAlreadyVoted when the voter has a ballot already.
	AddBallot(ctx context.Context, chatID, targetUserID, voterID int64) (int, error)
	CountBallots(ctx context.Context, chatID, targetUserID int64) (int, error)
	// CloseVote atomically claims the vote for resolution and returns the
	// final tally. claimed is false when another resolver got there first.
	CloseVote(ctx context.Context, chatID, targetUserID int64) (vote *Vote, tally int, claimed bool, err error)

	AddReport(ctx context.Context, report *Report) (*Report, error)

	GetRules(ctx context.Context, chatID int64) (string, error)
	SetRules(ctx context.Context, chatID int64, text string) error

	SetPendingCommand(ctx context.Context, pc *PendingCommand) error
	GetPendingCommand(ctx context.Context, chatID, userID int64) (*PendingCommand, error)
	DeletePendingCommand(ctx context.Context, chatID, userID int64) error
}
