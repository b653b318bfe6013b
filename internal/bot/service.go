package bot

import (
	"context"
	"fmt"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/db"
)

type service struct {
	bot    *api.BotAPI
	db     db.Client
	logger *log.Entry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func NewService(ctx context.Context, bot *api.BotAPI, dbClient db.Client, logger *log.Entry) *service {
	return &service{
		bot:    bot,
		db:     dbClient,
		logger: logger,
	}
}

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	_, s.cancel = context.WithCancel(ctx)
	s.started = true
	return nil
}

func (s *service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if settings != nil {
		return settings, nil
	}

	settings = db.DefaultSettings(chatID)
	if err := s.db.SetSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	return settings, nil
}

func (s *service) SetSettings(ctx context.Context, settings *db.Settings) error {
	return s.db.SetSettings(ctx, settings)
}

func (s *service) GetLanguage(ctx context.Context, chatID int64, user *api.User) string {
	settings, err := s.GetSettings(ctx, chatID)
	if err == nil && settings != nil && settings.Language != "" {
		return settings.Language
	}
	if user != nil && user.LanguageCode != "" {
		return user.LanguageCode
	}
	return "en"
}
