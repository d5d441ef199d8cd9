package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.io/infrasutra/smsdesk/internal/config"
	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/locale"
	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/sse"
	"github.io/infrasutra/smsdesk/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "smsdesk",
	Short:         "SMS campaigns dashboard and Orange SMS Pro sender ID sync",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(senderIDCheckCmd)
	rootCmd.AddCommand(quotaCleanupCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the services every command is built from.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	translator *locale.Translator
	hub        *sse.Hub
	customers  *customer.Service
	sms        *sms.Service
	notifier   *notify.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	translator, err := locale.Load(cfg.Locale)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load locales: %w", err)
	}

	hub := sse.NewHub()
	customers := customer.NewService(db, cfg.QuotaDir(), logger)
	gateway := sms.NewHTTPGateway(cfg.Notify.GatewayURL, cfg.Notify.GatewayToken, nil)
	if cfg.Notify.GatewayURL == "" {
		logger.Warn("NOTIFICATION_SMS_GATEWAY_URL not set; sms sending disabled")
	}
	smsService := sms.NewService(gateway, db, customers, cfg.Notify.DefaultSenderID, cfg.AdminUserID, logger)

	var opts []notify.Option
	if cfg.Mail.Enabled {
		opts = append(opts, notify.WithMailer(notify.NewMailer(cfg.Mail)))
	}
	notifier := notify.NewDispatcher(db, hub, logger, opts...)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      db,
		translator: translator,
		hub:        hub,
		customers:  customers,
		sms:        smsService,
		notifier:   notifier,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
