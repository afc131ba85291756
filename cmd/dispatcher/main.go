package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/delivery"
	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"
	domainTelegram "reminder_dispatcher/internal/domain/telegram"
	"reminder_dispatcher/internal/infra/config"
	idb "reminder_dispatcher/internal/infra/database"
	"reminder_dispatcher/internal/infra/httpapi"
	"reminder_dispatcher/internal/infra/logger"
	"reminder_dispatcher/internal/infra/scheduler"
	"reminder_dispatcher/internal/infra/sheets"
	"reminder_dispatcher/internal/infra/telegram"
	"reminder_dispatcher/internal/infra/whatsapp"

	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
)

const (
	activityLogCapacity = 500
	shutdownTimeout     = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keyer := phone.NewKeyer(cfg.CountryCode, cfg.MobilePrefix)
	retrier := app.NewRetrier(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, logger.For("retry"))
	activity := app.NewActivityLog(activityLogCapacity)

	waClient := whatsapp.NewClient(whatsapp.Options{
		BaseURL:          cfg.WhatsAppBaseURL,
		APIVersion:       cfg.WhatsAppAPIVersion,
		PhoneNumberID:    cfg.WhatsAppPhoneID,
		Token:            cfg.WhatsAppToken,
		BlockedTemplates: cfg.BlockedTemplates,
	}, logger.For("whatsapp"))

	var relay app.MediaRelay
	if cfg.MediaForwardTo != "" {
		forwarder, err := whatsapp.NewMediaForwarder(waClient, keyer, cfg.MediaForwardTo)
		if err != nil {
			log.Fatalf("Invalid MEDIA_FORWARD_TO: %v", err)
		}
		relay = forwarder
	}

	sheetStore, err := sheets.NewStore(ctx, cfg.SpreadsheetID, cfg.SheetTab, cfg.SheetsCredentialsFile, logger.For("sheets"))
	if err != nil {
		log.Fatalf("Could not create sheets client: %v", err)
	}

	var (
		deliveryRepo delivery.Repository
		batchRepo    dispatch.BatchRepository
		db           *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()
		if err := idb.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("Could not prepare database schema: %v", err)
		}
		deliveryRepo = idb.NewPostgresDeliveryRepository(db)
		batchRepo = idb.NewPostgresBatchRepository(db)
		log.Info("Database connection established")
	} else {
		log.Warn("DATABASE_URL not set, delivery statuses and batch history are kept in memory only")
	}

	reconciler := app.NewReconciler(keyer, deliveryRepo, logger.For("reconciler"))
	if n, err := reconciler.Restore(ctx); err != nil {
		log.WithError(err).Error("Could not restore delivery statuses")
	} else if n > 0 {
		log.WithField("statuses", n).Info("Delivery statuses restored")
	}

	queue := app.NewQueue[dispatch.RowRecord](app.QueueOptions{
		Concurrency: cfg.QueueConcurrency,
		IntervalCap: cfg.QueueIntervalCap,
		Interval:    cfg.QueueInterval,
	}, logger.For("queue"))
	defer queue.Close()

	processor := app.NewRowProcessor(
		app.CollectionTemplates(cfg.HeaderImageURL, cfg.FollowUpImageURL, cfg.InterMessageDelay),
		waClient, retrier, keyer, activity, logger.For("row_processor"),
	)
	cache := app.NewSheetCache(sheetStore, retrier, keyer, logger.For("sheet_cache"))

	var (
		bot    *telebot.Bot
		alerts domainTelegram.Client
	)
	if cfg.TelegramToken != "" {
		botLogger := logger.For("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.Error("Telegram handler failed")
			},
		})
		if err != nil {
			log.Fatalf("Could not create Telegram bot: %v", err)
		}
		alerts = telegram.NewTelebotAdapter(bot)
	}

	batches := app.NewBatchService(queue, processor, reconciler, cache, batchRepo, alerts, cfg.AdminTelegramID, logger.For("batch"))
	webhooks := app.NewWebhookService(reconciler, relay, retrier, keyer, activity, logger.For("webhook"))
	admin := app.NewAdminService(batches, reconciler, cache, queue, webhooks, activity, batchRepo, cfg.AdminTelegramID, logger.For("admin"))

	maintenance := scheduler.NewMaintenanceScheduler(admin, logger.For("scheduler"), cfg.CronSpecFlushRetry, cfg.CronSpecStatusReset)
	if err := maintenance.Start(); err != nil {
		log.Fatalf("Could not start maintenance scheduler: %v", err)
	}

	server := httpapi.NewServer(cfg.HTTPAddr, httpapi.Deps{
		Batches:     batches,
		Webhooks:    webhooks,
		Stats:       admin,
		Activity:    activity,
		VerifyToken: cfg.WebhookVerifyToken,
	}, logger.For("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if bot != nil {
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, logger.For("telegram"))
		telegram.RegisterAdminHandlers(gctx, bot, admin, logger.For("telegram"))
		g.Go(func() error {
			bot.Start() // returns after bot.Stop
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if bot != nil {
			bot.Stop()
		}
		maintenance.Stop()
		return server.Shutdown(shutdownCtx)
	})

	log.WithField("addr", cfg.HTTPAddr).Info("Dispatcher started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Dispatcher stopped with an error")
		os.Exit(1)
	}
	log.Info("Dispatcher shut down gracefully")
}
