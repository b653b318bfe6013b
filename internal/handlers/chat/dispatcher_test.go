package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/vkosarev/groupwarden/internal/adapters/llm"
	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/filters"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

type serviceStub struct {
	settings *db.Settings
}

func (s *serviceStub) GetBot() *api.BotAPI { return nil }
func (s *serviceStub) GetDB() db.Client    { return nil }

func (s *serviceStub) GetSettings(_ context.Context, chatID int64) (*db.Settings, error) {
	if s.settings != nil {
		return s.settings, nil
	}
	return db.DefaultSettings(chatID), nil
}

func (s *serviceStub) SetSettings(_ context.Context, settings *db.Settings) error {
	s.settings = settings
	return nil
}

func (s *serviceStub) GetLanguage(_ context.Context, _ int64, _ *api.User) string { return "en" }

type muteKey struct{ chatID, userID int64 }

type storeStub struct {
	warnings   map[muteKey]int
	mutes      map[muteKey]*db.Mute
	captcha    map[muteKey]*db.CaptchaState
	escalated  int
	challenged int
}

func newStoreStub() *storeStub {
	return &storeStub{
		warnings: make(map[muteKey]int),
		mutes:    make(map[muteKey]*db.Mute),
		captcha:  make(map[muteKey]*db.CaptchaState),
	}
}

func (s *storeStub) AddWarning(_ context.Context, chatID, userID int64) (int, error) {
	k := muteKey{chatID, userID}
	s.warnings[k]++
	return s.warnings[k], nil
}

func (s *storeStub) GetWarnings(_ context.Context, chatID, userID int64) (int, error) {
	return s.warnings[muteKey{chatID, userID}], nil
}

func (s *storeStub) ResetWarnings(_ context.Context, chatID, userID int64) error {
	delete(s.warnings, muteKey{chatID, userID})
	return nil
}

func (s *storeStub) UpsertMute(_ context.Context, mute *db.Mute) error {
	s.mutes[muteKey{mute.ChatID, mute.UserID}] = mute
	return nil
}

func (s *storeStub) EscalateMute(_ context.Context, mute *db.Mute) error {
	s.escalated++
	s.mutes[muteKey{mute.ChatID, mute.UserID}] = mute
	delete(s.warnings, muteKey{mute.ChatID, mute.UserID})
	return nil
}

func (s *storeStub) GetMute(_ context.Context, chatID, userID int64) (*db.Mute, error) {
	return s.mutes[muteKey{chatID, userID}], nil
}

func (s *storeStub) DeleteMute(_ context.Context, chatID, userID int64) error {
	delete(s.mutes, muteKey{chatID, userID})
	return nil
}

func (s *storeStub) SetCaptchaState(_ context.Context, state *db.CaptchaState) error {
	s.challenged++
	k := muteKey{state.ChatID, state.UserID}
	if existing, ok := s.captcha[k]; ok && existing.Passed {
		return nil
	}
	s.captcha[k] = state
	return nil
}

func (s *storeStub) GetCaptchaState(_ context.Context, chatID, userID int64) (*db.CaptchaState, error) {
	return s.captcha[muteKey{chatID, userID}], nil
}

func (s *storeStub) PassCaptcha(_ context.Context, chatID, userID int64) error {
	s.captcha[muteKey{chatID, userID}] = &db.CaptchaState{ChatID: chatID, UserID: userID, Passed: true}
	return nil
}

func (s *storeStub) InsertMember(_ context.Context, _, _ int64) error { return nil }
func (s *storeStub) DeleteMember(_ context.Context, _, _ int64) error { return nil }

func (s *storeStub) DeleteCaptchaState(_ context.Context, chatID, userID int64) error {
	delete(s.captcha, muteKey{chatID, userID})
	return nil
}

type transportStub struct {
	admins     map[int64]bool
	deleted    []int
	sent       []string
	sentTo     []int64
	restricted []int64
	answered   []string
}

func (t *transportStub) SendMessage(_ context.Context, chatID int64, text string, _ int, _ [][]telegram.Button) (int, error) {
	t.sent = append(t.sent, text)
	t.sentTo = append(t.sentTo, chatID)
	return len(t.sent), nil
}

func (t *transportStub) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	t.deleted = append(t.deleted, messageID)
	return nil
}

func (t *transportStub) RestrictUser(_ context.Context, _, userID int64, _ time.Time) error {
	t.restricted = append(t.restricted, userID)
	return nil
}

func (t *transportStub) UnrestrictUser(_ context.Context, _, userID int64) error { return nil }

func (t *transportStub) BanUser(_ context.Context, _, userID int64) error { return nil }

func (t *transportStub) KickUser(_ context.Context, _, userID int64) error { return nil }

func (t *transportStub) IsChatAdmin(_ context.Context, _, userID int64) (bool, error) {
	return t.admins[userID], nil
}

func (t *transportStub) AnswerCallback(_ context.Context, _, text string) error {
	t.answered = append(t.answered, text)
	return nil
}

type llmStub struct {
	verdict *bool
	err     error
}

func (l *llmStub) ChatCompletion(_ context.Context, _ []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	return llm.ChatCompletionResponse{}, l.err
}

func (l *llmStub) Detect(_ context.Context, _ string) (*bool, error) {
	return l.verdict, l.err
}

func testModerationConfig() config.Moderation {
	return config.Moderation{
		WarningsLimit:      3,
		FilterMuteDuration: time.Hour,
		FileMuteDuration:   24 * time.Hour,
		ClosedChatMute:     time.Hour,
		NoticeLifetime:     30 * time.Second,
		PendingInputTTL:    2 * time.Minute,
	}
}

func newTestDispatcher(t *testing.T, svc *serviceStub, store *storeStub, ops *transportStub, classifier *llmStub) *Dispatcher {
	t.Helper()

	engine, err := filters.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	cfg := testModerationConfig()
	sched := schedule.NewScheduler()
	tracker := moderation.NewTracker(store, ops, sched, cfg)
	gate := &CaptchaGate{s: svc, store: store, ops: ops}

	d := &Dispatcher{
		s:       svc,
		ops:     ops,
		tracker: tracker,
		gate:    gate,
		engine:  engine,
		sched:   sched,
		cfg:     cfg,
	}
	if classifier != nil {
		d.llm = classifier
	}
	return d
}

func groupMessage(chatID, userID int64, text string) (*api.Update, *api.Chat, *api.User) {
	chat := &api.Chat{ID: chatID, Type: "supergroup"}
	user := &api.User{ID: userID, FirstName: "Test"}
	msg := &api.Message{
		MessageID: 42,
		Text:      text,
		Chat:      *chat,
		From:      user,
		Date:      int(time.Now().Unix()),
	}
	return &api.Update{Message: msg}, chat, user
}

func TestDispatcherClosedWindowRemovesAndRestricts(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{settings: db.DefaultSettings(1)}
	svc.settings.IsClosed = true
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "hello")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if len(ops.deleted) != 1 {
		t.Errorf("expected 1 deleted message, got %d", len(ops.deleted))
	}
	if len(ops.restricted) != 1 || ops.restricted[0] != 100 {
		t.Errorf("expected user 100 restricted, got %v", ops.restricted)
	}
}

func TestDispatcherDropsMutedUserMessage(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	store.mutes[muteKey{1, 100}] = &db.Mute{
		ChatID:    1,
		UserID:    100,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "hello")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if len(ops.deleted) != 1 {
		t.Errorf("expected the message deleted, got %d deletions", len(ops.deleted))
	}
	if len(ops.sent) != 0 {
		t.Errorf("muted user removal must be silent, got notices %v", ops.sent)
	}
}

func TestDispatcherRechallengesUnverifiedUser(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	store.captcha[muteKey{1, 100}] = &db.CaptchaState{ChatID: 1, UserID: 100, Passed: false}
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "hello")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if len(ops.deleted) != 1 {
		t.Errorf("expected the message deleted, got %d deletions", len(ops.deleted))
	}
	if store.challenged == 0 {
		t.Error("expected a new challenge for the unverified user")
	}
}

func TestDispatcherGrandfathersUsersWithoutCaptchaRecord(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "a perfectly fine message")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !proceed {
		t.Error("expected a clean message from a recordless user to proceed")
	}
	if len(ops.deleted) != 0 {
		t.Errorf("expected no deletions, got %d", len(ops.deleted))
	}
}

func TestDispatcherWarnsOnProfanity(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "fuck this")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if got := store.warnings[muteKey{1, 100}]; got != 1 {
		t.Errorf("expected 1 warning, got %d", got)
	}
	if store.escalated != 0 {
		t.Error("must not escalate below the warning limit")
	}
}

func TestDispatcherEscalatesAtWarningLimit(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	store.warnings[muteKey{1, 100}] = 2
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "visit spam.xyz now")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if store.escalated != 1 {
		t.Errorf("expected exactly one escalation, got %d", store.escalated)
	}
	if len(ops.restricted) != 1 {
		t.Errorf("expected the user restricted, got %v", ops.restricted)
	}
	if got := store.warnings[muteKey{1, 100}]; got != 0 {
		t.Errorf("expected warnings reset on escalation, got %d", got)
	}
}

func TestDispatcherSkipsAdmins(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{100: true}}
	d := newTestDispatcher(t, svc, store, ops, nil)

	u, chat, user := groupMessage(1, 100, "fuck moderation")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !proceed {
		t.Error("admin messages must pass untouched")
	}
	if len(ops.deleted) != 0 {
		t.Errorf("expected no deletions for admins, got %d", len(ops.deleted))
	}
}

func TestDispatcherToxicityFailsOpen(t *testing.T) {
	t.Parallel()

	svc := &serviceStub{}
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, &llmStub{err: errors.New("upstream down")})

	u, chat, user := groupMessage(1, 100, "a borderline message")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !proceed {
		t.Error("classifier failure must not block the message")
	}
}

func TestDispatcherRemovesToxicMessage(t *testing.T) {
	t.Parallel()

	toxic := true
	svc := &serviceStub{}
	store := newStoreStub()
	ops := &transportStub{admins: map[int64]bool{}}
	d := newTestDispatcher(t, svc, store, ops, &llmStub{verdict: &toxic})

	u, chat, user := groupMessage(1, 100, "a subtly vile message")
	proceed, err := d.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if proceed {
		t.Error("expected chain to stop")
	}
	if got := store.warnings[muteKey{1, 100}]; got != 1 {
		t.Errorf("expected 1 warning, got %d", got)
	}
}

var _ bot.Handler = (*Dispatcher)(nil)
