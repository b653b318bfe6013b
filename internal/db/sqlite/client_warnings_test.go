package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/vkosarev/groupwarden/internal/db"
)

func TestAddWarningIncrementsAtomically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for want := 1; want <= 3; want++ {
		got, err := client.AddWarning(ctx, -100500, 777)
		if err != nil {
			t.Fatalf("add warning %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("warning count = %d, want %d", got, want)
		}
	}

	other, err := client.AddWarning(ctx, -100500, 778)
	if err != nil {
		t.Fatalf("add warning for other user: %v", err)
	}
	if other != 1 {
		t.Fatalf("other user count = %d, want 1", other)
	}
}

func TestEscalateMuteResetsWarnings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for i := 0; i < 3; i++ {
		if _, err := client.AddWarning(ctx, -1, 42); err != nil {
			t.Fatalf("add warning: %v", err)
		}
	}

	now := time.Now()
	mute := &db.Mute{
		ChatID:    -1,
		UserID:    42,
		Reason:    "filter",
		MutedAt:   now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := client.EscalateMute(ctx, mute); err != nil {
		t.Fatalf("escalate mute: %v", err)
	}

	count, err := client.GetWarnings(ctx, -1, 42)
	if err != nil {
		t.Fatalf("get warnings: %v", err)
	}
	if count != 0 {
		t.Fatalf("warnings after escalate = %d, want 0", count)
	}

	got, err := client.GetMute(ctx, -1, 42)
	if err != nil {
		t.Fatalf("get mute: %v", err)
	}
	if got == nil || got.Reason != "filter" {
		t.Fatalf("unexpected mute: %#v", got)
	}

	next, err := client.AddWarning(ctx, -1, 42)
	if err != nil {
		t.Fatalf("add warning after escalate: %v", err)
	}
	if next != 1 {
		t.Fatalf("count after escalate = %d, want 1", next)
	}
}

func TestDeleteMuteIsBenignWhenMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.DeleteMute(ctx, -1, 404); err != nil {
		t.Fatalf("delete missing mute: %v", err)
	}
	mute, err := client.GetMute(ctx, -1, 404)
	if err != nil {
		t.Fatalf("get missing mute: %v", err)
	}
	if mute != nil {
		t.Fatalf("expected nil mute, got %#v", mute)
	}
}
