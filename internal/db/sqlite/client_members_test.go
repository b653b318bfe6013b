package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/vkosarev/groupwarden/internal/db"
)

func TestCaptchaPassIsMonotonicAndIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.SetCaptchaState(ctx, &db.CaptchaState{
		ChatID: -1, UserID: 7, Passed: false, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("set captcha state: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := client.PassCaptcha(ctx, -1, 7); err != nil {
			t.Fatalf("pass captcha attempt %d: %v", i+1, err)
		}
	}

	state, err := client.GetCaptchaState(ctx, -1, 7)
	if err != nil {
		t.Fatalf("get captcha state: %v", err)
	}
	if state == nil || !state.Passed {
		t.Fatalf("unexpected state: %#v", state)
	}

	// re-challenging a passed user must not demote them
	if err := client.SetCaptchaState(ctx, &db.CaptchaState{
		ChatID: -1, UserID: 7, Passed: false, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("re-set captcha state: %v", err)
	}
	state, err = client.GetCaptchaState(ctx, -1, 7)
	if err != nil {
		t.Fatalf("get captcha state: %v", err)
	}
	if state == nil || !state.Passed {
		t.Fatalf("passed state was demoted: %#v", state)
	}
}

func TestPurgeChatRemovesAllChatScopedRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	chatID := int64(-100)
	if err := client.SetSettings(ctx, db.DefaultSettings(chatID)); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if _, err := client.AddWarning(ctx, chatID, 1); err != nil {
		t.Fatalf("add warning: %v", err)
	}
	if err := client.InsertMember(ctx, chatID, 1); err != nil {
		t.Fatalf("insert member: %v", err)
	}
	if err := client.SetRules(ctx, chatID, "be nice"); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if err := client.CreateVote(ctx, newVote(chatID, 1)); err != nil {
		t.Fatalf("create vote: %v", err)
	}

	if err := client.PurgeChat(ctx, chatID); err != nil {
		t.Fatalf("purge chat: %v", err)
	}

	settings, err := client.GetSettings(ctx, chatID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings != nil {
		t.Fatalf("settings survived purge: %#v", settings)
	}
	count, err := client.GetWarnings(ctx, chatID, 1)
	if err != nil {
		t.Fatalf("get warnings: %v", err)
	}
	if count != 0 {
		t.Fatalf("warnings survived purge: %d", count)
	}
	members, err := client.CountMembers(ctx, chatID)
	if err != nil {
		t.Fatalf("count members: %v", err)
	}
	if members != 0 {
		t.Fatalf("members survived purge: %d", members)
	}
	rules, err := client.GetRules(ctx, chatID)
	if err != nil {
		t.Fatalf("get rules: %v", err)
	}
	if rules != "" {
		t.Fatalf("rules survived purge: %q", rules)
	}
	vote, err := client.GetVote(ctx, chatID, 1)
	if err != nil {
		t.Fatalf("get vote: %v", err)
	}
	if vote != nil {
		t.Fatalf("vote survived purge: %#v", vote)
	}
}

func TestPendingCommandExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	now := time.Now()
	if err := client.SetPendingCommand(ctx, &db.PendingCommand{
		ChatID: -1, UserID: 7, Kind: db.PendingCommandSetRules,
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("set pending command: %v", err)
	}

	pc, err := client.GetPendingCommand(ctx, -1, 7)
	if err != nil {
		t.Fatalf("get pending command: %v", err)
	}
	if pc == nil || pc.Kind != db.PendingCommandSetRules {
		t.Fatalf("unexpected pending command: %#v", pc)
	}

	if err := client.SetPendingCommand(ctx, &db.PendingCommand{
		ChatID: -1, UserID: 7, Kind: db.PendingCommandSetWorkHours,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("set expired pending command: %v", err)
	}
	pc, err = client.GetPendingCommand(ctx, -1, 7)
	if err != nil {
		t.Fatalf("get expired pending command: %v", err)
	}
	if pc != nil {
		t.Fatalf("expired pending command returned: %#v", pc)
	}
}
