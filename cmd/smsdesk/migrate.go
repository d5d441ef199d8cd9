package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.io/infrasutra/smsdesk/internal/auth"
	"github.io/infrasutra/smsdesk/internal/store"
)

var (
	adminEmail    string
	adminPassword string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema, seed languages and the admin account",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&adminEmail, "admin-email", "", "Create this admin account when missing")
	migrateCmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password for --admin-email")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SeedLanguages(ctx, store.DefaultLanguages); err != nil {
		return err
	}
	if adminEmail == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
		return nil
	}

	email, err := auth.NormalizeEmail(adminEmail)
	if err != nil {
		return err
	}
	existing, err := a.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists (id %d)\n", email, existing.ID)
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		return err
	}
	admin, err := a.store.CreateUser(ctx, store.User{Email: email, PasswordHash: hash, IsAdmin: true, Locale: a.cfg.Locale})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema ready, admin %s created (id %d)\n", email, admin.ID)
	return nil
}
