package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/vkosarev/groupwarden/internal/db"
	"github.com/vkosarev/groupwarden/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

func NewSQLiteClient(ctx context.Context, dir, name string) (*sqliteClient, error) {
	dbx, err := sqlx.Open("sqlite", filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dbx.SetMaxOpenConns(1)

	if err := dbx.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	if n > 0 {
		log.Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}, nil
}

func (s *sqliteClient) Close() error {
	return s.db.Close()
}

func (s *sqliteClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var settings db.Settings
	err := s.db.GetContext(ctx, &settings, `SELECT * FROM chats WHERE id = ?`, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (s *sqliteClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO chats (id, language, greeting_enabled, profanity_filter_enabled, toxicity_filter_enabled,
			link_filter_enabled, file_filter_enabled, captcha_enabled, report_system_enabled, report_chat_id,
			work_start, work_end, timezone, is_closed)
		VALUES (:id, :language, :greeting_enabled, :profanity_filter_enabled, :toxicity_filter_enabled,
			:link_filter_enabled, :file_filter_enabled, :captcha_enabled, :report_system_enabled, :report_chat_id,
			:work_start, :work_end, :timezone, :is_closed)
		ON CONFLICT(id) DO UPDATE SET
			language=excluded.language,
			greeting_enabled=excluded.greeting_enabled,
			profanity_filter_enabled=excluded.profanity_filter_enabled,
			toxicity_filter_enabled=excluded.toxicity_filter_enabled,
			link_filter_enabled=excluded.link_filter_enabled,
			file_filter_enabled=excluded.file_filter_enabled,
			captcha_enabled=excluded.captcha_enabled,
			report_system_enabled=excluded.report_system_enabled,
			report_chat_id=excluded.report_chat_id,
			work_start=excluded.work_start,
			work_end=excluded.work_end,
			timezone=excluded.timezone,
			is_closed=excluded.is_closed
	`
	_, err := s.db.NamedExecContext(ctx, query, settings)
	return err
}

func (s *sqliteClient) SetReportChat(ctx context.Context, chatID, reportChatID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET report_chat_id = ? WHERE id = ?`,
		reportChatID, chatID,
	)
	return err
}

func (s *sqliteClient) SetWorkWindow(ctx context.Context, chatID int64, workStart, workEnd int, timezone string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET work_start = ?, work_end = ?, timezone = ? WHERE id = ?`,
		workStart, workEnd, timezone, chatID,
	)
	return err
}

func (s *sqliteClient) SetClosed(ctx context.Context, chatID int64, closed bool) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET is_closed = ? WHERE id = ? AND is_closed != ?`,
		closed, chatID, closed,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteClient) ListChats(ctx context.Context) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var chatIDs []int64
	err := s.db.SelectContext(ctx, &chatIDs, `SELECT id FROM chats`)
	return chatIDs, err
}

func (s *sqliteClient) PurgeChat(ctx context.Context, chatID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM pending_commands WHERE chat_id = ?`,
		`DELETE FROM rules WHERE chat_id = ?`,
		`DELETE FROM reports WHERE chat_id = ?`,
		`DELETE FROM vote_ballots WHERE chat_id = ?`,
		`DELETE FROM votes WHERE chat_id = ?`,
		`DELETE FROM chat_members WHERE chat_id = ?`,
		`DELETE FROM captcha_states WHERE chat_id = ?`,
		`DELETE FROM mutes WHERE chat_id = ?`,
		`DELETE FROM warnings WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, chatID); err != nil {
			return fmt.Errorf("purge chat %d: %w", chatID, err)
		}
	}

	return tx.Commit()
}
