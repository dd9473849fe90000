package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/cinesuggest/internal/config"
	"github.com/kdimtricp/cinesuggest/internal/database"
	"github.com/kdimtricp/cinesuggest/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the PostgreSQL schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "migrations", "", "path to the migrations directory (default from config)")

	open := func(ctx context.Context) (*database.DB, string, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, "", err
		}
		logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})

		path := cfg.Database.MigrationsPath
		if migrationsPath != "" {
			path = migrationsPath
		}
		db, err := database.NewDB(ctx, database.ConfigFrom(cfg.Database))
		if err != nil {
			return nil, "", err
		}
		return db, path, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, path, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := database.NewMigrator(db).Run(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) from %s\n", n, path)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, path, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := database.NewMigrator(db).Status(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if db.Type() != "postgres" {
				fmt.Fprintln(out, "sqlite creates its schema on open; migrations are not tracked")
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%s - %s [%s]\n", s.Version, s.Name, state)
			}
			return nil
		},
	})

	return root
}
