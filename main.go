package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/vkosarev/groupwarden/internal/adapters"
	"github.com/vkosarev/groupwarden/internal/adapters/llm/gemini"
	"github.com/vkosarev/groupwarden/internal/adapters/llm/openai"
	"github.com/vkosarev/groupwarden/internal/bot"
	"github.com/vkosarev/groupwarden/internal/config"
	"github.com/vkosarev/groupwarden/internal/db/sqlite"
	"github.com/vkosarev/groupwarden/internal/filters"
	"github.com/vkosarev/groupwarden/internal/handlers/chat"
	"github.com/vkosarev/groupwarden/internal/handlers/moderation"
	"github.com/vkosarev/groupwarden/internal/infra"
	"github.com/vkosarev/groupwarden/internal/infrastructure/telegram"
	"github.com/vkosarev/groupwarden/internal/lifecycle"
	"github.com/vkosarev/groupwarden/internal/observability"
	"github.com/vkosarev/groupwarden/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant load config")
	}
	log.SetFormatter(&config.GwFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithField("error", err.Error()).Errorln("cant initialize observability")
	}

	infra.GoRecoverable(-1, "bot", func() {
		if err := run(ctx, cfg); err != nil {
			log.WithField("error", err.Error()).Errorln("bot stopped")
		}
	})

	select {
	case <-infra.MonitorExecutable(ctx):
		log.Errorln("executable file was modified")
	case <-ctx.Done():
	}
}

func run(ctx context.Context, cfg config.Config) error {
	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("initialize bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	dbClient, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(), "bot.db")
	if err != nil {
		return fmt.Errorf("initialize sqlite client: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithField("error", err.Error()).Errorln("cant close db client")
		}
	}()

	service := bot.NewService(ctx, botAPI, dbClient, log.WithField("object", "Service"))
	ops := telegram.NewOperations(botAPI)
	sched := schedule.NewScheduler()

	engine, err := filters.NewEngine()
	if err != nil {
		return fmt.Errorf("initialize filters: %w", err)
	}

	var classifier adapters.LLM
	if cfg.LLM.APIKey != "" {
		switch cfg.LLM.Type {
		case "gemini":
			classifier = gemini.NewGemini(cfg.LLM.APIKey, cfg.LLM.Model, log.WithField("object", "Gemini"))
		default:
			classifier = openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, log.WithField("object", "OpenAI"))
		}
	}

	tracker := moderation.NewTracker(dbClient, ops, sched, cfg.Moderation)
	coordinator := moderation.NewCoordinator(service, dbClient, ops, tracker, sched, cfg.Voting, cfg.Moderation)
	controller := moderation.NewController(service, dbClient, ops, sched)

	gate := chat.NewCaptchaGate(service, dbClient, ops)
	chat.NewMembership(service, dbClient, ops, controller)
	chat.NewCommands(service, dbClient, ops, tracker, coordinator, controller, sched, cfg.Moderation)
	chat.NewDispatcher(service, ops, tracker, gate, engine, classifier, sched, cfg.Moderation)

	components := lifecycle.NewRuntime(sched, service, coordinator, controller)
	if err := components.Start(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := components.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Errorln("cant stop components")
		}
	}()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateProcessor := bot.NewUpdateProcessor(service, "membership", "captcha", "commands", "dispatcher")

	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
	for {
		select {
		case err := <-errorChan:
			return fmt.Errorf("get updates: %w", err)
		case update := <-updateChan:
			if err := updateProcessor.Process(ctx, &update); err != nil {
				log.WithField("error", err.Error()).Errorln("cant process update")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
