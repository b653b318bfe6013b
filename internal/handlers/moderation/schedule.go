package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

type scheduleStore interface {
	SetWorkWindow(ctx context.Context, chatID int64, workStart, workEnd int, timezone string) error
	SetClosed(ctx context.Context, chatID int64, closed bool) (bool, error)
	ListChats(ctx context.Context) ([]int64, error)
}

type notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
}

// Controller keeps each chat's is_closed flag in line with its work window.
// Per chat it runs an hourly tick plus a task at each window edge; the three
// share one scheduler group and are replaced atomically when the window
// changes.
type Controller struct {
	s     bot.Service
	store scheduleStore
	ops   notifier
	sched *schedule.Scheduler

	mu      sync.Mutex
	started bool
}

func NewController(s bot.Service, store scheduleStore, ops notifier, sched *schedule.Scheduler) *Controller {
	return &Controller{
		s:     s,
		store: store,
		ops:   ops,
		sched: sched,
	}
}

// Start installs schedules for every known chat and reconciles their state,
// so windows crossed while the bot was down are caught up.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	chats, err := c.store.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, chatID := range chats {
		chatID := chatID
		g.Go(func() error {
			if err := c.Install(gctx, chatID); err != nil {
				c.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to install schedule")
				return nil
			}
			if err := c.Evaluate(gctx, chatID, false); err != nil {
				c.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to reconcile work window")
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

func scheduleGroup(chatID int64) string {
	return fmt.Sprintf("schedule:%d", chatID)
}

// windowOpen reports whether minute m of the day falls inside [start, end).
// Equal bounds mean always open; end before start wraps past midnight.
func windowOpen(start, end, m int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

// Evaluate recomputes the open state and flips is_closed when it drifted.
// The store reports whether the flag actually changed; only a change sends
// the transition notification. force notifies regardless, for the moment an
// admin reconfigures the window.
func (c *Controller) Evaluate(ctx context.Context, chatID int64, force bool) error {
	settings, err := c.s.GetSettings(ctx, chatID)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	m := now.Hour()*60 + now.Minute()
	closed := !windowOpen(settings.WorkStart, settings.WorkEnd, m)

	changed, err := c.store.SetClosed(ctx, chatID, closed)
	if err != nil {
		return errors.Store("set closed", err)
	}
	if !changed && !force {
		return nil
	}

	lang := c.s.GetLanguage(ctx, chatID, nil)
	text := i18n.Get("The chat is now open. Happy chatting!", lang)
	if closed {
		text = i18n.Get("The chat is now closed. Messages are not allowed until the chat opens again.", lang)
	}
	if _, err := c.ops.SendMessage(ctx, chatID, text, 0, nil); err != nil {
		c.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to send transition notice")
	}
	return nil
}

// Install arms the chat's schedule group: an hourly consistency tick and a
// task at each window edge, all replaced in one step.
func (c *Controller) Install(ctx context.Context, chatID int64) error {
	settings, err := c.s.GetSettings(ctx, chatID)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		loc = time.UTC
	}

	evaluate := func(ctx context.Context) {
		if err := c.Evaluate(ctx, chatID, false); err != nil {
			c.getLogEntry().WithField("chat_id", chatID).WithField("error", err.Error()).Error("failed to evaluate work window")
		}
	}

	tasks := []schedule.Planned{{
		Every: time.Hour,
		Run:   evaluate,
	}}
	if settings.WorkStart != settings.WorkEnd {
		tasks = append(tasks,
			schedule.Planned{At: nextOccurrence(settings.WorkStart, loc), Every: 24 * time.Hour, Run: evaluate},
			schedule.Planned{At: nextOccurrence(settings.WorkEnd, loc), Every: 24 * time.Hour, Run: evaluate},
		)
	}
	c.sched.Replace(scheduleGroup(chatID), tasks...)
	return nil
}

// Uninstall drops the chat's scheduled tasks, for when the bot leaves.
func (c *Controller) Uninstall(chatID int64) {
	c.sched.Cancel(scheduleGroup(chatID))
}

// SetWorkHours parses "HH:MM-HH:MM [TZ]", persists the window and rearms the
// schedule. The state is re-evaluated immediately with a forced notice.
func (c *Controller) SetWorkHours(ctx context.Context, chatID int64, input string) error {
	start, end, tz, err := parseWorkHours(input)
	if err != nil {
		return err
	}
	if err := c.store.SetWorkWindow(ctx, chatID, start, end, tz); err != nil {
		return errors.Store("set work window", err)
	}
	if err := c.Install(ctx, chatID); err != nil {
		return err
	}
	return c.Evaluate(ctx, chatID, true)
}

// parseWorkHours accepts "09:00-18:00" with an optional trailing IANA zone,
// "09:00-18:00 Europe/Berlin". Identical bounds disable the window.
func parseWorkHours(input string) (start, end int, tz string, err error) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, "", errors.Validation("expected HH:MM-HH:MM with an optional timezone")
	}
	tz = "UTC"
	if len(fields) == 2 {
		if _, zoneErr := time.LoadLocation(fields[1]); zoneErr != nil {
			return 0, 0, "", errors.Validation("unknown timezone %q", fields[1])
		}
		tz = fields[1]
	}

	bounds := strings.Split(fields[0], "-")
	if len(bounds) != 2 {
		return 0, 0, "", errors.Validation("expected HH:MM-HH:MM, got %q", fields[0])
	}
	if start, err = parseMinuteOfDay(bounds[0]); err != nil {
		return 0, 0, "", err
	}
	if end, err = parseMinuteOfDay(bounds[1]); err != nil {
		return 0, 0, "", err
	}
	return start, end, tz, nil
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Validation("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// nextOccurrence returns the next wall clock moment the given minute of day
// comes around in loc.
func nextOccurrence(minuteOfDay int, loc *time.Location) time.Time {
	now := time.Now().In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

func (c *Controller) getLogEntry() *log.Entry {
	return log.WithField("object", "ScheduleController")
}
