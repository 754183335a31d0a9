package handlers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"newsfeed/internal/logger"
	"newsfeed/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the preference and feed cache schema",
		Long: `Apply or inspect the schema behind user_preferences and feed_cache.

SQLite databases are brought up to date whenever they are opened, so these
commands matter mostly for Postgres, which must be migrated before
'newsfeed serve'.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Forget the newest applied migration",
		Long: `Delete the newest row from schema_migrations so 'migrate up' applies it
again. Tables and data are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")

	return cmd
}

func runMigrateUp(ctx context.Context) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("Migrations applied", "count", applied)
	if applied == 0 {
		fmt.Println("✅ Schema is current")
	} else {
		fmt.Printf("✅ Applied %d migration(s)\n", applied)
	}
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	pending := printMigrations(status)
	if pending > 0 {
		fmt.Printf("\n%d pending; run 'newsfeed migrate up'\n", pending)
	}
	return nil
}

// printMigrations writes one row per migration and returns the pending count
func printMigrations(status []persistence.MigrationStatus) int {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tDESCRIPTION")

	pending := 0
	for _, m := range status {
		state := "applied"
		if !m.Applied {
			state = "pending"
			pending++
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\n", m.Version, state, m.Description)
	}
	tw.Flush()
	return pending
}

// newestApplied returns the migration rollback would forget
func newestApplied(status []persistence.MigrationStatus) (persistence.MigrationStatus, bool) {
	var newest persistence.MigrationStatus
	found := false
	for _, m := range status {
		if m.Applied && (!found || m.Version > newest.Version) {
			newest, found = m, true
		}
	}
	return newest, found
}

func runMigrateRollback(ctx context.Context, force bool) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if !force {
		status, err := db.migrator.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		target, ok := newestApplied(status)
		if !ok {
			fmt.Println("Nothing to roll back")
			return nil
		}

		fmt.Printf("Forget migration %03d (%s)? Tables are not dropped. [y/N] ", target.Version, target.Description)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	version, err := db.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	logger.Warn("Migration record removed", "version", version)
	fmt.Printf("↩️  Migration %03d forgotten; revert its schema changes by hand if needed\n", version)
	return nil
}
