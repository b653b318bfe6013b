package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
	"github.com/vkosarev/groupwarden/internal/i18n"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/observability"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

type voteStore interface {
	CreateVote(ctx context.Context, vote *db.Vote) error
	GetVote(ctx context.Context, chatID, targetUserID int64) (*db.Vote, error)
	ListActiveVotes(ctx context.Context) ([]*db.Vote, error)
	SetVoteMessageID(ctx context.Context, chatID, targetUserID int64, messageID int) error
	AddBallot(ctx context.Context, chatID, targetUserID, voterID int64) (int, error)
	CountBallots(ctx context.Context, chatID, targetUserID int64) (int, error)
	CloseVote(ctx context.Context, chatID, targetUserID int64) (*db.Vote, int, bool, error)
	CountMembers(ctx context.Context, chatID int64) (int, error)
}

type voteTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int, buttons [][]telegram.Button) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]telegram.Button) error
	BanUser(ctx context.Context, chatID, userID int64) error
	GetMemberCount(ctx context.Context, chatID int64) (int, error)
}

// Coordinator runs community votes. A vote is identified by (chat, target);
// its timers live in one scheduler group, so quorum resolution and timeout
// resolution race only on the store's close claim.
type Coordinator struct {
	s       bot.Service
	store   voteStore
	ops     voteTransport
	tracker *Tracker
	sched   *schedule.Scheduler
	cfg     config.Voting
	modCfg  config.Moderation

	mu      sync.Mutex
	started bool
}

func NewCoordinator(s bot.Service, store voteStore, ops voteTransport, tracker *Tracker, sched *schedule.Scheduler, cfg config.Voting, modCfg config.Moderation) *Coordinator {
	return &Coordinator{
		s:       s,
		store:   store,
		ops:     ops,
		tracker: tracker,
		sched:   sched,
		cfg:     cfg,
		modCfg:  modCfg,
	}
}

// Start re-arms timers for votes that survived a restart. Overdue votes
// resolve immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	votes, err := c.store.ListActiveVotes(ctx)
	if err != nil {
		return fmt.Errorf("list active votes: %w", err)
	}
	for _, vote := range votes {
		if !vote.EndTime.After(time.Now()) {
			if err := c.resolve(ctx, vote.ChatID, vote.TargetUserID); err != nil {
				c.getLogEntry().WithField("error", err.Error()).Error("failed to resolve overdue vote")
			}
			continue
		}
		c.armTimers(vote.ChatID, vote.TargetUserID, vote.EndTime)
	}
	return nil
}

func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

// VotesNeeded returns the quorum for a vote kind in a chat of the given
// size: half the members for a ban, a tenth for a mute, never below the
// configured floor.
func VotesNeeded(kind db.VoteKind, memberCount, minVoters int) int {
	var needed int
	switch kind {
	case db.VoteKindBan:
		needed = memberCount / 2
	case db.VoteKindMute:
		needed = memberCount / 10
	}
	if needed < minVoters {
		needed = minVoters
	}
	return needed
}

func voteGroup(chatID, targetUserID int64) string {
	return fmt.Sprintf("vote:%d:%d", chatID, targetUserID)
}

// StartVote opens a vote against the target. ErrAlreadyActive while another
// vote against the same target is open.
func (c *Coordinator) StartVote(ctx context.Context, chatID, targetUserID, initiatorID int64, kind db.VoteKind, targetName string) error {
	members, err := c.ops.GetMemberCount(ctx, chatID)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Warn("member count unavailable, using stored members")
		members, err = c.store.CountMembers(ctx, chatID)
		if err != nil {
			return errors.Store("count members", err)
		}
	}

	now := time.Now()
	vote := &db.Vote{
		ChatID:       chatID,
		TargetUserID: targetUserID,
		TargetName:   targetName,
		InitiatorID:  initiatorID,
		Kind:         kind,
		VotesNeeded:  VotesNeeded(kind, members, c.cfg.MinVoters),
		CreatedAt:    now,
		EndTime:      now.Add(c.cfg.Duration),
		IsActive:     true,
	}
	if err := c.store.CreateVote(ctx, vote); err != nil {
		if errors.Is(err, errors.ErrAlreadyActive) {
			return err
		}
		return errors.Store("create vote", err)
	}

	lang := c.s.GetLanguage(ctx, chatID, nil)
	messageID, err := c.ops.SendMessage(ctx, chatID, c.tallyText(vote, 0, lang), 0, c.voteButtons(vote, lang))
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to send vote message")
	} else {
		vote.MessageID = messageID
		if err := c.store.SetVoteMessageID(ctx, chatID, targetUserID, messageID); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Error("failed to store vote message id")
		}
	}

	c.armTimers(chatID, targetUserID, vote.EndTime)
	return nil
}

// CastVote registers a ballot. On quorum the vote resolves immediately.
// Ballots arriving past the deadline are rejected even while the timeout
// task has not fired yet.
func (c *Coordinator) CastVote(ctx context.Context, chatID, targetUserID, voterID int64) (tally, needed int, err error) {
	vote, err := c.store.GetVote(ctx, chatID, targetUserID)
	if err != nil {
		return 0, 0, errors.Store("get vote", err)
	}
	if vote == nil || !vote.IsActive || !time.Now().Before(vote.EndTime) {
		return 0, 0, errors.ErrVoteClosed
	}

	tally, err = c.store.AddBallot(ctx, chatID, targetUserID, voterID)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyVoted) || errors.Is(err, errors.ErrVoteClosed) {
			return tally, vote.VotesNeeded, err
		}
		return 0, 0, errors.Store("add ballot", err)
	}

	if tally >= vote.VotesNeeded {
		if err := c.resolve(ctx, chatID, targetUserID); err != nil {
			return tally, vote.VotesNeeded, err
		}
	}
	return tally, vote.VotesNeeded, nil
}

func (c *Coordinator) armTimers(chatID, targetUserID int64, endTime time.Time) {
	c.sched.Replace(voteGroup(chatID, targetUserID),
		schedule.Planned{
			At: endTime,
			Run: func(ctx context.Context) {
				if err := c.resolve(ctx, chatID, targetUserID); err != nil {
					c.getLogEntry().WithField("error", err.Error()).Error("failed to resolve vote on timeout")
				}
			},
		},
		schedule.Planned{
			Every: c.cfg.RefreshInterval,
			Run: func(ctx context.Context) {
				c.refreshTally(ctx, chatID, targetUserID)
			},
		},
	)
}

func (c *Coordinator) refreshTally(ctx context.Context, chatID, targetUserID int64) {
	vote, err := c.store.GetVote(ctx, chatID, targetUserID)
	if err != nil || vote == nil || !vote.IsActive || vote.MessageID == 0 {
		return
	}
	tally, err := c.store.CountBallots(ctx, chatID, targetUserID)
	if err != nil {
		return
	}
	lang := c.s.GetLanguage(ctx, chatID, nil)
	if err := c.ops.EditMessage(ctx, chatID, vote.MessageID, c.tallyText(vote, tally, lang), c.voteButtons(vote, lang)); err != nil {
		c.getLogEntry().WithField("error", err.Error()).Debug("failed to refresh vote tally")
	}
}

// resolve claims the vote and applies the outcome. The store claim makes
// the quorum path and the timeout path mutually exclusive.
func (c *Coordinator) resolve(ctx context.Context, chatID, targetUserID int64) error {
	vote, tally, claimed, err := c.store.CloseVote(ctx, chatID, targetUserID)
	if err != nil {
		return errors.Store("close vote", err)
	}
	if !claimed {
		return nil
	}

	c.sched.Cancel(voteGroup(chatID, targetUserID))

	passed := tally >= vote.VotesNeeded
	lang := c.s.GetLanguage(ctx, chatID, nil)
	name := displayName(vote)

	outcome := i18n.Get("Vote failed, not enough votes.", lang)
	if passed {
		switch vote.Kind {
		case db.VoteKindBan:
			if err := c.ops.BanUser(ctx, chatID, targetUserID); err != nil {
				c.getLogEntry().WithField("error", err.Error()).Error("failed to ban vote target")
			}
			outcome = fmt.Sprintf(i18n.Get("Vote passed: %s has been banned.", lang), name)
		case db.VoteKindMute:
			if _, err := c.tracker.Mute(ctx, chatID, targetUserID, CategoryVote.MuteDuration(c.modCfg), string(CategoryVote)); err != nil {
				c.getLogEntry().WithField("error", err.Error()).Error("failed to mute vote target")
			}
			outcome = fmt.Sprintf(i18n.Get("Vote passed: %s has been muted for 24h.", lang), name)
		}
	}
	observability.RecordVoteResolution(string(vote.Kind), passed)

	if vote.MessageID != 0 {
		if err := c.ops.EditMessage(ctx, chatID, vote.MessageID, outcome, nil); err != nil {
			c.getLogEntry().WithField("error", err.Error()).Debug("failed to edit vote message")
		}
	}
	return nil
}

func (c *Coordinator) tallyText(vote *db.Vote, tally int, lang string) string {
	key := "Vote to ban %s (%d/%d votes)"
	if vote.Kind == db.VoteKindMute {
		key = "Vote to mute %s (%d/%d votes)"
	}
	return fmt.Sprintf(i18n.Get(key, lang), displayName(vote), tally, vote.VotesNeeded)
}

func displayName(vote *db.Vote) string {
	if vote.TargetName != "" {
		return vote.TargetName
	}
	return fmt.Sprintf("user %d", vote.TargetUserID)
}

func (c *Coordinator) voteButtons(vote *db.Vote, lang string) [][]telegram.Button {
	return [][]telegram.Button{{
		{
			Text: i18n.Get("Vote", lang),
			Data: fmt.Sprintf("vote:%s:%d", vote.Kind, vote.TargetUserID),
		},
	}}
}

func (c *Coordinator) getLogEntry() *log.Entry {
	return log.WithField("object", "VoteCoordinator")
}
