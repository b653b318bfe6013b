package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

// Category classifies what earned the mute and fixes its duration.
type Category string

const (
	CategoryFilter Category = "filter"
	CategoryFile   Category = "file"
	CategoryVote   Category = "vote"
)

func (c Category) MuteDuration(cfg config.Moderation) time.Duration {
	switch c {
	case CategoryFile:
		return cfg.FileMuteDuration
	case CategoryVote:
		return cfg.FileMuteDuration
	default:
		return cfg.FilterMuteDuration
	}
}

type trackerStore interface {
	AddWarning(ctx context.Context, chatID, userID int64) (int, error)
	GetWarnings(ctx context.Context, chatID, userID int64) (int, error)
	ResetWarnings(ctx context.Context, chatID, userID int64) error
	UpsertMute(ctx context.Context, mute *db.Mute) error
	EscalateMute(ctx context.Context, mute *db.Mute) error
	GetMute(ctx context.Context, chatID, userID int64) (*db.Mute, error)
	DeleteMute(ctx context.Context, chatID, userID int64) error
}

type restrictor interface {
	RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error
	UnrestrictUser(ctx context.Context, chatID, userID int64) error
}

// Tracker counts warnings and escalates to timed mutes. All mutations
// enforce on the platform first and persist second; persistence is retried,
// enforcement is not.
type Tracker struct {
	store trackerStore
	ops   restrictor
	sched *schedule.Scheduler
	cfg   config.Moderation
}

func NewTracker(store trackerStore, ops restrictor, sched *schedule.Scheduler, cfg config.Moderation) *Tracker {
	return &Tracker{
		store: store,
		ops:   ops,
		sched: sched,
		cfg:   cfg,
	}
}

func muteGroup(chatID, userID int64) string {
	return fmt.Sprintf("mute:%d:%d", chatID, userID)
}

// Increment adds one warning and reports whether the limit is reached.
// The caller decides whether to escalate.
func (t *Tracker) Increment(ctx context.Context, chatID, userID int64) (count int, limited bool, err error) {
	count, err = t.store.AddWarning(ctx, chatID, userID)
	if err != nil {
		return 0, false, errors.Store("add warning", err)
	}
	return count, count >= t.cfg.WarningsLimit, nil
}

// Escalate mutes the user for the category's duration and resets the
// warning counter. Mute record and counter reset land in one transaction.
func (t *Tracker) Escalate(ctx context.Context, chatID, userID int64, category Category) (*db.Mute, error) {
	duration := category.MuteDuration(t.cfg)
	now := time.Now()
	mute := &db.Mute{
		ChatID:    chatID,
		UserID:    userID,
		Reason:    string(category),
		MutedAt:   now,
		ExpiresAt: now.Add(duration),
	}

	if err := t.ops.RestrictUser(ctx, chatID, userID, mute.ExpiresAt); err != nil {
		return nil, errors.Enforcement("restrict", err)
	}
	if err := t.persist(ctx, func() error { return t.store.EscalateMute(ctx, mute) }); err != nil {
		return nil, errors.Store("escalate mute", err)
	}

	t.scheduleExpiry(chatID, userID, duration)
	return mute, nil
}

// Mute applies a direct mute (admin command, vote outcome) without touching
// the warning counter.
func (t *Tracker) Mute(ctx context.Context, chatID, userID int64, duration time.Duration, reason string) (*db.Mute, error) {
	now := time.Now()
	mute := &db.Mute{
		ChatID:    chatID,
		UserID:    userID,
		Reason:    reason,
		MutedAt:   now,
		ExpiresAt: now.Add(duration),
	}

	if err := t.ops.RestrictUser(ctx, chatID, userID, mute.ExpiresAt); err != nil {
		return nil, errors.Enforcement("restrict", err)
	}
	if err := t.persist(ctx, func() error { return t.store.UpsertMute(ctx, mute) }); err != nil {
		return nil, errors.Store("upsert mute", err)
	}

	t.scheduleExpiry(chatID, userID, duration)
	return mute, nil
}

// ActiveMute returns the user's mute when it is still in force. A record
// found expired is cleared in passing, its warnings are forgiven, and nil
// is returned.
func (t *Tracker) ActiveMute(ctx context.Context, chatID, userID int64, now time.Time) (*db.Mute, error) {
	mute, err := t.store.GetMute(ctx, chatID, userID)
	if err != nil {
		return nil, errors.Store("get mute", err)
	}
	if mute == nil {
		return nil, nil
	}
	if now.Before(mute.ExpiresAt) {
		return mute, nil
	}

	t.clearExpired(ctx, chatID, userID)
	return nil, nil
}

// clearExpired removes a served mute and starts the user at a clean warning
// count.
func (t *Tracker) clearExpired(ctx context.Context, chatID, userID int64) {
	if err := t.store.DeleteMute(ctx, chatID, userID); err != nil {
		log.WithField("error", err.Error()).Error("failed to clear expired mute")
		return
	}
	if err := t.store.ResetWarnings(ctx, chatID, userID); err != nil {
		log.WithField("error", err.Error()).Error("failed to reset warnings after mute expiry")
	}
}

// Unmute lifts a mute early and forgives warnings. A missing record is a
// benign no-op for the store part; the platform unrestrict still runs so an
// out-of-band restriction is lifted too.
func (t *Tracker) Unmute(ctx context.Context, chatID, userID int64) error {
	if err := t.ops.UnrestrictUser(ctx, chatID, userID); err != nil {
		return errors.Enforcement("unrestrict", err)
	}
	if err := t.persist(ctx, func() error {
		if err := t.store.DeleteMute(ctx, chatID, userID); err != nil {
			return err
		}
		return t.store.ResetWarnings(ctx, chatID, userID)
	}); err != nil {
		return errors.Store("delete mute", err)
	}

	t.sched.Cancel(muteGroup(chatID, userID))
	return nil
}

func (t *Tracker) scheduleExpiry(chatID, userID int64, duration time.Duration) {
	t.sched.Replace(muteGroup(chatID, userID), schedule.Planned{
		At: time.Now().Add(duration),
		Run: func(ctx context.Context) {
			mute, err := t.store.GetMute(ctx, chatID, userID)
			if err != nil || mute == nil {
				return
			}
			if time.Now().Before(mute.ExpiresAt) {
				// replaced by a longer mute meanwhile
				return
			}
			t.clearExpired(ctx, chatID, userID)
		},
	})
}

func (t *Tracker) persist(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}
