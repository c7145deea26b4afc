package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/checkpoint/migrations"
)

// migrateCommand exposes the checkpoint store's own schema migrations
// (up/down/status/backup/health) as a `reconciler migrate` subcommand,
// built from the same MigrationManager the checkpoint store uses to
// bring its sqlite or postgres schema up to date on open.
func (c *CLI) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the checkpoint store's database schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg == nil {
				if err := c.loadConfig(); err != nil {
					return err
				}
			}
			driver, dialect, dsn := c.checkpointDriver()

			mm, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
				Driver:     driver,
				DSN:        dsn,
				Dialect:    dialect,
				Dir:        migrationsDir,
				Table:      "goose_db_version",
				Timeout:    30 * time.Second,
				MaxRetries: 3,
				RetryDelay: 2 * time.Second,
				Logger:     c.log,
			})
			if err != nil {
				return err
			}

			backups := migrations.NewBackupManager(&migrations.BackupConfig{
				Enabled:       true,
				Type:          "schema",
				Path:          "./backups",
				RetentionDays: 30,
				Compress:      true,
				Timeout:       10 * time.Minute,
			}, mm.DB(), c.log)

			health := migrations.NewHealthChecker(mm.DB(), &migrations.HealthConfig{
				Enabled:    true,
				Timeout:    30 * time.Second,
				RetryCount: 3,
				RetryDelay: 5 * time.Second,
			}, c.log)

			sub := migrations.NewCLI(mm, backups, health, c.log).GetRootCommand()
			cmd.AddCommand(sub.Commands()...)
			return nil
		},
	}
	return cmd
}

// checkpointDriver maps the checkpoint store's configured backend to the
// driver/dialect/DSN triple the migration manager expects, mirroring
// internal/checkpoint/store.go's own migrate() helper.
func (c *CLI) checkpointDriver() (driver, dialect, dsn string) {
	if c.cfg.Checkpoint.Backend == "postgres" {
		return "pgx", "postgres", c.cfg.GetDatabaseURL()
	}
	return "sqlite", "sqlite3", c.cfg.Checkpoint.SQLitePath
}

// migrationsDir is the checkpoint schema's migration directory, shared
// with internal/checkpoint/store.go.
const migrationsDir = "internal/checkpoint/migrations/sql"
