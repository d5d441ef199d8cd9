package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/smsdesk/internal/api"
	"github.io/infrasutra/smsdesk/internal/auth"
	"github.io/infrasutra/smsdesk/internal/campaign"
	"github.io/infrasutra/smsdesk/internal/mailgate"
	"github.io/infrasutra/smsdesk/internal/senderid"
)

var reconcileEvery time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard and the mail-to-SMS gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&reconcileEvery, "reconcile-every", 0, "Run the sender ID check on this interval (0 disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	authManager, err := auth.New(a.cfg.AuthSecret, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if a.cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}

	apiServer := api.NewServer(a.cfg, api.Deps{
		Store:      a.store,
		Auth:       authManager,
		Throttle:   auth.NewThrottle(time.Minute, 5),
		Hub:        a.hub,
		Customers:  a.customers,
		SMS:        a.sms,
		Campaigns:  campaign.NewRunner(a.store, a.sms, logger),
		Notifier:   a.notifier,
		Translator: a.translator,
		Logger:     logger,
	})
	var reconciler *senderid.Reconciler
	if reconcileEvery > 0 {
		if reconciler, err = a.reconciler(); err != nil {
			return err
		}
	}

	httpAddr := fmt.Sprintf(":%d", a.cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var gate *mailgate.Server
	if a.cfg.MailGateEnabled {
		gate = mailgate.New(a.store, a.sms, logger, mailgate.Config{
			Addr:            fmt.Sprintf(":%d", a.cfg.SMTPPort),
			Domain:          a.cfg.MailGateDomain,
			DefaultSenderID: a.cfg.Notify.DefaultSenderID,
		})
		g.Go(func() error {
			if err := gate.ListenAndServe(); err != nil && gctx.Err() == nil {
				return fmt.Errorf("mail gateway: %w", err)
			}
			return nil
		})
	} else {
		logger.Info("mail gateway disabled")
	}

	if reconcileEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(reconcileEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := reconciler.Run(gctx); err != nil {
						logger.Error("sender id check", "error", err)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown http", "error", err)
		}
		if gate != nil {
			if err := gate.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown mail gateway", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
