package bot_test

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/db/sqlite"
)

func TestServiceGetSettingsCreatesDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbClient, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })

	service := bot.NewService(ctx, &api.BotAPI{}, dbClient, log.NewEntry(log.New()))
	settings, err := service.GetSettings(ctx, -1001234567890)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings == nil {
		t.Fatalf("settings is nil")
	}

	expected := db.DefaultSettings(-1001234567890)
	if settings.ID != expected.ID {
		t.Fatalf("unexpected settings ID: got %d want %d", settings.ID, expected.ID)
	}
	if settings.Language != expected.Language {
		t.Fatalf("unexpected language: got %q want %q", settings.Language, expected.Language)
	}
	if !settings.CaptchaEnabled {
		t.Fatal("captcha should default to enabled")
	}
	if settings.ReportSystemEnabled {
		t.Fatal("report system should default to disabled")
	}
	if settings.WorkStart != 0 || settings.WorkEnd != 0 {
		t.Fatalf("work window should default to always open, got %d-%d", settings.WorkStart, settings.WorkEnd)
	}

	// second read comes back from the store
	again, err := service.GetSettings(ctx, -1001234567890)
	if err != nil {
		t.Fatalf("get settings again: %v", err)
	}
	if again == nil || again.ID != expected.ID {
		t.Fatalf("unexpected settings on re-read: %#v", again)
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbClient, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })

	service := bot.NewService(ctx, &api.BotAPI{}, dbClient, log.NewEntry(log.New()))
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := service.Stop(stopCtx); err != nil {
		t.Fatalf("stop service: %v", err)
	}
}
