package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vkosarev/groupwarden/internal/db"
)

func (s *sqliteClient) AddWarning(ctx context.Context, chatID, userID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var count int
	err := s.db.GetContext(ctx, &count, `
		INSERT INTO warnings (chat_id, user_id, count, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			count = count + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING count
	`, chatID, userID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *sqliteClient) GetWarnings(ctx context.Context, chatID, userID int64) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT count FROM warnings WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *sqliteClient) ResetWarnings(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM warnings WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}

func (s *sqliteClient) UpsertMute(ctx context.Context, mute *db.Mute) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.NamedExecContext(ctx, upsertMuteQuery, mute)
	return err
}

const upsertMuteQuery = `
	INSERT INTO mutes (chat_id, user_id, reason, muted_at, expires_at)
	VALUES (:chat_id, :user_id, :reason, :muted_at, :expires_at)
	ON CONFLICT(chat_id, user_id) DO UPDATE SET
		reason=excluded.reason,
		muted_at=excluded.muted_at,
		expires_at=excluded.expires_at
`

func (s *sqliteClient) EscalateMute(ctx context.Context, mute *db.Mute) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin escalate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertMuteQuery, mute); err != nil {
		return fmt.Errorf("escalate mute: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM warnings WHERE chat_id = ? AND user_id = ?`,
		mute.ChatID, mute.UserID,
	); err != nil {
		return fmt.Errorf("escalate warning reset: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteClient) GetMute(ctx context.Context, chatID, userID int64) (*db.Mute, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var mute db.Mute
	err := s.db.GetContext(ctx, &mute,
		`SELECT * FROM mutes WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &mute, nil
}

func (s *sqliteClient) DeleteMute(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM mutes WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}
