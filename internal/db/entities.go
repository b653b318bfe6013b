package db

import "time"

// Settings holds per-chat moderation configuration. One row per chat,
// created with defaults when the bot joins.
type Settings struct {
	ID                     int64  `db:"id"`
	Language               string `db:"language"`
	GreetingEnabled        bool   `db:"greeting_enabled"`
	ProfanityFilterEnabled bool   `db:"profanity_filter_enabled"`
	ToxicityFilterEnabled  bool   `db:"toxicity_filter_enabled"`
	LinkFilterEnabled      bool   `db:"link_filter_enabled"`
	FileFilterEnabled      bool   `db:"file_filter_enabled"`
	CaptchaEnabled         bool   `db:"captcha_enabled"`
	ReportSystemEnabled    bool   `db:"report_system_enabled"`

	// ReportChatID receives relayed reports. Zero keeps them in the chat.
	ReportChatID int64 `db:"report_chat_id"`

	// Work window in minutes of day, [0, 1440). Equal bounds mean the chat
	// never closes. End smaller than start wraps past midnight.
	WorkStart int    `db:"work_start"`
	WorkEnd   int    `db:"work_end"`
	Timezone  string `db:"timezone"`
	IsClosed  bool   `db:"is_closed"`
}

type Warning struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Count     int       `db:"count"`
	UpdatedAt time.Time `db:"updated_at"`
}

type Mute struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Reason    string    `db:"reason"`
	MutedAt   time.Time `db:"muted_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

type CaptchaState struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Passed    bool      `db:"passed"`
	CreatedAt time.Time `db:"created_at"`
}

type VoteKind string

const (
	VoteKindBan  VoteKind = "ban"
	VoteKindMute VoteKind = "mute"
)

type Vote struct {
	ChatID       int64     `db:"chat_id"`
	TargetUserID int64     `db:"target_user_id"`
	TargetName   string    `db:"target_name"`
	InitiatorID  int64     `db:"initiator_id"`
	Kind         VoteKind  `db:"kind"`
	VotesNeeded  int       `db:"votes_needed"`
	MessageID    int       `db:"message_id"`
	CreatedAt    time.Time `db:"created_at"`
	EndTime      time.Time `db:"end_time"`
	IsActive     bool      `db:"is_active"`
}

type Report struct {
	ID         int64     `db:"id"`
	ChatID     int64     `db:"chat_id"`
	ReporterID int64     `db:"reporter_id"`
	ReportedID int64     `db:"reported_id"`
	MessageID  int       `db:"message_id"`
	Reason     string    `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

type PendingCommandKind string

const (
	PendingCommandSetRules     PendingCommandKind = "set_rules"
	PendingCommandSetWorkHours PendingCommandKind = "set_work_hours"
)

// PendingCommand is a short-lived record of an admin command awaiting a
// follow-up message, keyed by chat and user.
type PendingCommand struct {
	ChatID    int64              `db:"chat_id"`
	UserID    int64              `db:"user_id"`
	Kind      PendingCommandKind `db:"kind"`
	CreatedAt time.Time          `db:"created_at"`
	ExpiresAt time.Time          `db:"expires_at"`
}
