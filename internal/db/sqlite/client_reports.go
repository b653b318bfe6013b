package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vkosarev/groupwarden/internal/db"
)

func (s *sqliteClient) AddReport(ctx context.Context, report *db.Report) (*db.Report, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (chat_id, reporter_id, reported_id, message_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, report.ChatID, report.ReporterID, report.ReportedID, report.MessageID, report.Reason, report.CreatedAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	report.ID = id
	return report, nil
}

func (s *sqliteClient) GetRules(ctx context.Context, chatID int64) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var text string
	err := s.db.GetContext(ctx, &text, `SELECT text FROM rules WHERE chat_id = ?`, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func (s *sqliteClient) SetRules(ctx context.Context, chatID int64, text string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (chat_id, text) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET text = excluded.text
	`, chatID, text)
	return err
}

func (s *sqliteClient) SetPendingCommand(ctx context.Context, pc *db.PendingCommand) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pending_commands (chat_id, user_id, kind, created_at, expires_at)
		VALUES (:chat_id, :user_id, :kind, :created_at, :expires_at)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			kind=excluded.kind,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at
	`, pc)
	return err
}

func (s *sqliteClient) GetPendingCommand(ctx context.Context, chatID, userID int64) (*db.PendingCommand, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var pc db.PendingCommand
	err := s.db.GetContext(ctx, &pc,
		`SELECT * FROM pending_commands WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if pc.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &pc, nil
}

func (s *sqliteClient) DeletePendingCommand(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_commands WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}
