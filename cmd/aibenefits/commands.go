package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/aibenefits/auth"
	roadmapsync "github.com/c360studio/aibenefits/processor/roadmap-sync"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := flags.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			version, err := store.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.Database.Path, version)
			return nil
		},
	}
}

func syncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one roadmap sync and print its summary",
		Long: `Recomputes phase and project progress for every project that is not
cancelled and records the resulting alerts. Alert notifications go to the
channels enabled in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := flags.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			notifier, _, conn, err := buildNotifier(cfg, store, logger)
			if err != nil {
				return err
			}
			if conn != nil {
				defer func() { _ = conn.Drain() }()
			}

			syncCfg := roadmapsync.ConfigFrom(cfg.Sync)
			syncCfg.Enabled = false
			sum, err := roadmapsync.New(syncCfg, store, notifier, logger).Sync(cmd.Context())
			if sum != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(sum); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func userCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var (
		email    string
		name     string
		role     string
		password string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account, e.g. the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &tracker.User{
				Email: strings.TrimSpace(email),
				Name:  strings.TrimSpace(name),
				Role:  tracker.Role(strings.ToUpper(role)),
			}
			if !u.Role.Valid() {
				return fmt.Errorf("unknown role %q (want ADMIN, MEMBER or GUEST)", role)
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash

			cfg, _, logger, err := flags.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address used to sign in")
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&role, "role", string(tracker.RoleAdmin), "Role (ADMIN, MEMBER or GUEST)")
	create.Flags().StringVar(&password, "password", "", "Initial password (8 to 72 bytes)")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
