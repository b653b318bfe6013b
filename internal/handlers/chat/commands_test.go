package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want commandKind
		args string
	}{
		{"/mute 2h", cmdMute, "2h"},
		{"/unmute", cmdUnmute, ""},
		{"/ban", cmdBan, ""},
		{"/kick", cmdKick, ""},
		{"/setrules no spam", cmdSetRules, "no spam"},
		{"/setworkhours 09:00-18:00", cmdSetWorkHours, "09:00-18:00"},
		{"/setreportchat -100123", cmdSetReportChat, "-100123"},
		{"/rules", cmdRules, ""},
		{"/report shill", cmdReport, "shill"},
		{"/voteban", cmdVoteBan, ""},
		{"/votemute", cmdVoteMute, ""},
		{"/help", cmdHelp, ""},
		{"/frobnicate", cmdUnknown, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			msg := &api.Message{
				Text:     tt.text,
				Entities: []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: commandLength(tt.text)}},
			}
			got := parseCommand(msg)
			if got.kind != tt.want {
				t.Errorf("parseCommand(%q).kind = %v, want %v", tt.text, got.kind, tt.want)
			}
			if got.args != tt.args {
				t.Errorf("parseCommand(%q).args = %q, want %q", tt.text, got.args, tt.args)
			}
		})
	}
}

func commandLength(text string) int {
	for i, r := range text {
		if r == ' ' {
			return i
		}
	}
	return len(text)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 24 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"3d", 72 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"0d", 0, true},
		{"-2h", 0, true},
		{"soon", 0, true},
		{"2w", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := parseDuration(tt.input)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrValidation) {
					t.Fatalf("parseDuration(%q): err = %v, want validation error", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDuration(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

type pendingStoreStub struct {
	pending    *db.PendingCommand
	rules      string
	window     []int
	reportChat int64
	deleted    bool
}

func (s *pendingStoreStub) SetReportChat(_ context.Context, _ int64, reportChatID int64) error {
	s.reportChat = reportChatID
	return nil
}

func (s *pendingStoreStub) GetRules(_ context.Context, _ int64) (string, error) { return s.rules, nil }

func (s *pendingStoreStub) SetRules(_ context.Context, _ int64, text string) error {
	s.rules = text
	return nil
}

func (s *pendingStoreStub) AddReport(_ context.Context, report *db.Report) (*db.Report, error) {
	return report, nil
}

func (s *pendingStoreStub) SetPendingCommand(_ context.Context, pc *db.PendingCommand) error {
	s.pending = pc
	return nil
}

func (s *pendingStoreStub) GetPendingCommand(_ context.Context, _, _ int64) (*db.PendingCommand, error) {
	return s.pending, nil
}

func (s *pendingStoreStub) DeletePendingCommand(_ context.Context, _, _ int64) error {
	s.pending = nil
	s.deleted = true
	return nil
}

type scheduleStoreStub struct {
	svc *serviceStub
}

func (s *scheduleStoreStub) SetWorkWindow(_ context.Context, chatID int64, workStart, workEnd int, timezone string) error {
	if s.svc.settings == nil {
		s.svc.settings = db.DefaultSettings(chatID)
	}
	s.svc.settings.WorkStart = workStart
	s.svc.settings.WorkEnd = workEnd
	s.svc.settings.Timezone = timezone
	return nil
}

func (s *scheduleStoreStub) SetClosed(_ context.Context, _ int64, closed bool) (bool, error) {
	changed := s.svc.settings.IsClosed != closed
	s.svc.settings.IsClosed = closed
	return changed, nil
}

func (s *scheduleStoreStub) ListChats(_ context.Context) ([]int64, error) { return nil, nil }

func newTestCommands(svc *serviceStub, store *pendingStoreStub, ops *transportStub) *Commands {
	sched := schedule.NewScheduler()
	controller := moderation.NewController(svc, &scheduleStoreStub{svc: svc}, ops, sched)
	return &Commands{
		s:          svc,
		store:      store,
		ops:        ops,
		controller: controller,
		sched:      sched,
		cfg:        testModerationConfig(),
	}
}

func TestConsumePendingInputSetsRules(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	store := &pendingStoreStub{
		pending: &db.PendingCommand{
			ChatID:    1,
			UserID:    100,
			Kind:      db.PendingCommandSetRules,
			ExpiresAt: time.Now().Add(time.Minute),
		},
	}
	ops := &transportStub{admins: map[int64]bool{100: true}}
	c := newTestCommands(svc, store, ops)

	proceed, err := c.consumePendingInput(context.Background(), 1, &api.User{ID: 100}, &api.Message{Text: "be excellent to each other"})
	if err != nil {
		t.Fatalf("consumePendingInput: %v", err)
	}
	if proceed {
		t.Error("expected the pending input to consume the message")
	}
	if store.rules != "be excellent to each other" {
		t.Errorf("rules = %q", store.rules)
	}
	if !store.deleted {
		t.Error("expected the pending command cleared")
	}
}

func TestConsumePendingInputKeepsPendingOnBadWorkHours(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	store := &pendingStoreStub{
		pending: &db.PendingCommand{
			ChatID:    1,
			UserID:    100,
			Kind:      db.PendingCommandSetWorkHours,
			ExpiresAt: time.Now().Add(time.Minute),
		},
	}
	ops := &transportStub{admins: map[int64]bool{100: true}}
	c := newTestCommands(svc, store, ops)

	proceed, err := c.consumePendingInput(context.Background(), 1, &api.User{ID: 100}, &api.Message{Text: "whenever"})
	if err != nil {
		t.Fatalf("consumePendingInput: %v", err)
	}
	if proceed {
		t.Error("expected the pending input to consume the message")
	}
	if store.pending == nil {
		t.Error("invalid input must keep the pending command for another try")
	}
}

func TestConsumePendingInputAppliesWorkHours(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	store := &pendingStoreStub{
		pending: &db.PendingCommand{
			ChatID:    1,
			UserID:    100,
			Kind:      db.PendingCommandSetWorkHours,
			ExpiresAt: time.Now().Add(time.Minute),
		},
	}
	ops := &transportStub{admins: map[int64]bool{100: true}}
	c := newTestCommands(svc, store, ops)

	proceed, err := c.consumePendingInput(context.Background(), 1, &api.User{ID: 100}, &api.Message{Text: "09:00-18:00"})
	if err != nil {
		t.Fatalf("consumePendingInput: %v", err)
	}
	if proceed {
		t.Error("expected the pending input to consume the message")
	}
	if svc.settings.WorkStart != 540 || svc.settings.WorkEnd != 1080 {
		t.Errorf("work window = (%d, %d), want (540, 1080)", svc.settings.WorkStart, svc.settings.WorkEnd)
	}
	if store.pending != nil {
		t.Error("expected the pending command cleared")
	}
}

func TestReportRelaysToConfiguredChat(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	svc.settings.ReportSystemEnabled = true
	svc.settings.ReportChatID = -200
	store := &pendingStoreStub{}
	ops := &transportStub{admins: map[int64]bool{}}
	c := newTestCommands(svc, store, ops)

	reporter := &api.User{ID: 100, FirstName: "Alex"}
	msg := &api.Message{
		MessageID: 42,
		Chat:      api.Chat{ID: 1, Type: "supergroup"},
		From:      reporter,
		ReplyToMessage: &api.Message{
			MessageID: 40,
			From:      &api.User{ID: 200, FirstName: "Spammer"},
		},
	}
	if err := c.cmdReport(context.Background(), 1, reporter, msg, "shilling", "en"); err != nil {
		t.Fatalf("cmdReport: %v", err)
	}

	var relayed string
	for i, chatID := range ops.sentTo {
		if chatID == -200 {
			relayed = ops.sent[i]
		}
	}
	if relayed == "" {
		t.Fatalf("no message reached the report chat, sent to %v", ops.sentTo)
	}
	if !strings.Contains(relayed, "shilling") || !strings.Contains(relayed, "Spammer") {
		t.Errorf("relay misses report details: %q", relayed)
	}
}

func TestReportStaysLocalWithoutReportChat(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	svc.settings.ReportSystemEnabled = true
	store := &pendingStoreStub{}
	ops := &transportStub{admins: map[int64]bool{}}
	c := newTestCommands(svc, store, ops)

	reporter := &api.User{ID: 100, FirstName: "Alex"}
	msg := &api.Message{
		MessageID:      42,
		Chat:           api.Chat{ID: 1, Type: "supergroup"},
		From:           reporter,
		ReplyToMessage: &api.Message{MessageID: 40, From: &api.User{ID: 200}},
	}
	if err := c.cmdReport(context.Background(), 1, reporter, msg, "", "en"); err != nil {
		t.Fatalf("cmdReport: %v", err)
	}

	for _, chatID := range ops.sentTo {
		if chatID != 1 {
			t.Errorf("report left the chat without a configured relay, sent to %d", chatID)
		}
	}
}

func TestSetReportChatValidatesArgument(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	store := &pendingStoreStub{reportChat: -200}
	ops := &transportStub{admins: map[int64]bool{100: true}}
	c := newTestCommands(svc, store, ops)
	ctx := context.Background()

	if err := c.cmdSetReportChat(ctx, 1, "not-a-chat", "en"); err != nil {
		t.Fatalf("cmdSetReportChat: %v", err)
	}
	if store.reportChat != -200 {
		t.Errorf("bad argument changed the report chat to %d", store.reportChat)
	}

	if err := c.cmdSetReportChat(ctx, 1, "-300", "en"); err != nil {
		t.Fatalf("cmdSetReportChat: %v", err)
	}
	if store.reportChat != -300 {
		t.Errorf("report chat = %d, want -300", store.reportChat)
	}

	if err := c.cmdSetReportChat(ctx, 1, "", "en"); err != nil {
		t.Fatalf("cmdSetReportChat: %v", err)
	}
	if store.reportChat != 0 {
		t.Errorf("empty argument must clear the relay, got %d", store.reportChat)
	}
}

func TestConsumePendingInputWithoutPendingProceeds(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	store := &pendingStoreStub{}
	ops := &transportStub{admins: map[int64]bool{}}
	c := newTestCommands(svc, store, ops)

	proceed, err := c.consumePendingInput(context.Background(), 1, &api.User{ID: 100}, &api.Message{Text: "just chatting"})
	if err != nil {
		t.Fatalf("consumePendingInput: %v", err)
	}
	if !proceed {
		t.Error("a message without pending command must flow on")
	}
}
