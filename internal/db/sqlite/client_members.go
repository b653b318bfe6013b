package sqlite

import (
	"context"
	"database/sql"

	"github.com/vkosarev/groupwarden/internal/db"
)

func (s *sqliteClient) InsertMember(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_members (chat_id, user_id) VALUES (?, ?)`, chatID, userID)
	return err
}

func (s *sqliteClient) DeleteMember(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}

func (s *sqliteClient) CountMembers(ctx context.Context, chatID int64) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM chat_members WHERE chat_id = ?`, chatID)
	return count, err
}

func (s *sqliteClient) SetCaptchaState(ctx context.Context, state *db.CaptchaState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO captcha_states (chat_id, user_id, passed, created_at)
		VALUES (:chat_id, :user_id, :passed, :created_at)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			passed = captcha_states.passed OR excluded.passed
	`, state)
	return err
}

func (s *sqliteClient) GetCaptchaState(ctx context.Context, chatID, userID int64) (*db.CaptchaState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var state db.CaptchaState
	err := s.db.GetContext(ctx, &state,
		`SELECT * FROM captcha_states WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *sqliteClient) PassCaptcha(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captcha_states (chat_id, user_id, passed, created_at)
		VALUES (?, ?, TRUE, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET passed = TRUE
	`, chatID, userID)
	return err
}

func (s *sqliteClient) DeleteCaptchaState(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captcha_states WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}
