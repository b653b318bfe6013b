package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`
		DefaultLanguage  string `env:"LANG,default=en"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		DotPath          string `env:"DOT_PATH,default=~/.groupwarden"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`
		LLM              LLM
		Moderation       Moderation
		Voting           Voting
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string `env:"LLM_API_TYPE,default=openai"`
	}

	Moderation struct {
		WarningsLimit      int           `env:"WARNINGS_LIMIT,default=3"`
		FilterMuteDuration time.Duration `env:"FILTER_MUTE_DURATION,default=1h"`
		FileMuteDuration   time.Duration `env:"FILE_MUTE_DURATION,default=24h"`
		ClosedChatMute     time.Duration `env:"CLOSED_CHAT_MUTE,default=1h"`
		NoticeLifetime     time.Duration `env:"NOTICE_LIFETIME,default=30s"`
		PendingInputTTL    time.Duration `env:"PENDING_INPUT_TTL,default=2m"`
	}

	Voting struct {
		Duration        time.Duration `env:"VOTING_DURATION,default=60s"`
		RefreshInterval time.Duration `env:"VOTING_REFRESH_INTERVAL,default=5s"`
		MinVoters       int           `env:"VOTING_MIN_VOTERS,default=3"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("GW_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
