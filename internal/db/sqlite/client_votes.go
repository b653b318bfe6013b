package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/internal/errors"
)

func (s *sqliteClient) CreateVote(ctx context.Context, vote *db.Vote) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO votes (chat_id, target_user_id, target_name, initiator_id, kind, votes_needed,
			message_id, created_at, end_time, is_active)
		VALUES (:chat_id, :target_user_id, :target_name, :initiator_id, :kind, :votes_needed,
			:message_id, :created_at, :end_time, TRUE)
		ON CONFLICT(chat_id, target_user_id) DO NOTHING
	`, vote)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.ErrAlreadyActive
	}
	return nil
}

func (s *sqliteClient) GetVote(ctx context.Context, chatID, targetUserID int64) (*db.Vote, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var vote db.Vote
	err := s.db.GetContext(ctx, &vote,
		`SELECT * FROM votes WHERE chat_id = ? AND target_user_id = ?`, chatID, targetUserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

func (s *sqliteClient) ListActiveVotes(ctx context.Context) ([]*db.Vote, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var votes []*db.Vote
	err := s.db.SelectContext(ctx, &votes, `SELECT * FROM votes WHERE is_active = TRUE`)
	return votes, err
}

func (s *sqliteClient) SetVoteMessageID(ctx context.Context, chatID, targetUserID int64, messageID int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE votes SET message_id = ? WHERE chat_id = ? AND target_user_id = ?`,
		messageID, chatID, targetUserID)
	return err
}

func (s *sqliteClient) AddBallot(ctx context.Context, chatID, targetUserID, voterID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ballot: %w", err)
	}
	defer tx.Rollback()

	var gate struct {
		IsActive bool      `db:"is_active"`
		EndTime  time.Time `db:"end_time"`
	}
	err = tx.GetContext(ctx, &gate,
		`SELECT is_active, end_time FROM votes WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errors.ErrVoteClosed
		}
		return 0, err
	}
	if !gate.IsActive || !time.Now().Before(gate.EndTime) {
		return 0, errors.ErrVoteClosed
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO vote_ballots (chat_id, target_user_id, voter_id, voted_at)
		VALUES (?, ?, ?, ?)
	`, chatID, targetUserID, voterID, time.Now())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	var tally int
	if err := tx.GetContext(ctx, &tally,
		`SELECT COUNT(*) FROM vote_ballots WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if affected == 0 {
		return tally, errors.ErrAlreadyVoted
	}
	return tally, nil
}

func (s *sqliteClient) CountBallots(ctx context.Context, chatID, targetUserID int64) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var tally int
	err := s.db.GetContext(ctx, &tally,
		`SELECT COUNT(*) FROM vote_ballots WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID)
	return tally, err
}

func (s *sqliteClient) CloseVote(ctx context.Context, chatID, targetUserID int64) (*db.Vote, int, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("begin close vote: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE votes SET is_active = FALSE WHERE chat_id = ? AND target_user_id = ? AND is_active = TRUE`,
		chatID, targetUserID)
	if err != nil {
		return nil, 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, 0, false, err
	}
	if affected == 0 {
		return nil, 0, false, tx.Commit()
	}

	var vote db.Vote
	if err := tx.GetContext(ctx, &vote,
		`SELECT * FROM votes WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID); err != nil {
		return nil, 0, false, err
	}

	var tally int
	if err := tx.GetContext(ctx, &tally,
		`SELECT COUNT(*) FROM vote_ballots WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID); err != nil {
		return nil, 0, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vote_ballots WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID); err != nil {
		return nil, 0, false, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM votes WHERE chat_id = ? AND target_user_id = ?`,
		chatID, targetUserID); err != nil {
		return nil, 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, false, err
	}
	return &vote, tally, true, nil
}
