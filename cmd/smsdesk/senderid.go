package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.io/infrasutra/smsdesk/internal/orange"
	"github.io/infrasutra/smsdesk/internal/senderid"
)

var senderIDCheckCmd = &cobra.Command{
	Use:   "senderid-orange-check",
	Short: "Sync pending sender IDs with Orange SMS Pro",
	Long: `Log in to Orange SMS Pro, settle every pending sender ID the portal
has approved or rejected, and submit the ones it does not know yet.`,
	RunE: runSenderIDCheck,
}

func runSenderIDCheck(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	reconciler, err := a.reconciler()
	if err != nil {
		return err
	}
	outcome, err := reconciler.Run(cmd.Context())
	if err != nil {
		return err
	}
	if outcome.Skipped {
		fmt.Fprintln(cmd.OutOrStdout(), "portal returned no signatures; nothing settled")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "activated=%d rejected=%d unchanged=%d submitted=%d\n",
		len(outcome.Activated), len(outcome.Rejected), len(outcome.Unchanged), len(outcome.Submitted))
	return nil
}

func (a *app) reconciler() (*senderid.Reconciler, error) {
	client, err := orange.New(a.cfg.Orange, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init orange client: %w", err)
	}
	sessions := orange.NewCacheSessionStore(a.store)
	return senderid.New(a.store, client, sessions, a.notifier, a.sms, a.translator, senderid.Config{
		AdminUserID: a.cfg.AdminUserID,
		FrontURL:    a.cfg.FrontURL,
		Locale:      a.cfg.Locale,
	}, a.logger), nil
}
