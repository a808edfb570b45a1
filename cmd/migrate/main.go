package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

type options struct {
	databaseURL   string
	migrationsDir string
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func rootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Applies the clearing service schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.databaseURL, "database-url", envOrDefault("PERP_DATABASE_URL", "postgres://localhost:5432/perpclearing?sslmode=disable"), "Postgres connection string")
	flags.StringVar(&opts.migrationsDir, "dir", os.Getenv("PERP_MIGRATIONS_DIR"), "migrations directory (default: embedded migrations)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					if err := m.Up(ctx); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					log.Println("INFO: all migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					log.Println("INFO: last migration rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: func(c *cobra.Command, _ []string) error {
				return withMigrator(c.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					return printStatus(ctx, c, m)
				})
			},
		},
	)
	return root
}

func withMigrator(ctx context.Context, opts *options, fn func(context.Context, *persistence.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := sql.Open("postgres", opts.databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	var fsys fs.FS = persistence.EmbeddedMigrations()
	if opts.migrationsDir != "" {
		fsys = os.DirFS(opts.migrationsDir)
	}
	return fn(ctx, persistence.NewMigrator(db, fsys, observability.NewLogger("migrate")))
}

func printStatus(ctx context.Context, c *cobra.Command, m *persistence.Migrator) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return err
	}

	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	out := c.OutOrStdout()
	for _, v := range versions {
		fmt.Fprintf(out, "applied  %s\n", v)
	}
	for _, p := range pending {
		fmt.Fprintf(out, "pending  %s\n", p)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "schema is up to date")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
