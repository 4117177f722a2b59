package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/adk/session/database"
	"gorm.io/driver/postgres"

	"github.com/easeaico/persona-core/internal/storage"
)

var (
	migrateADKOnly bool
	migrateAppOnly bool
	migrateDryRun  bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create session tables and persona tables",
		Long: `Migrate runs GORM AutoMigrate for the conversation session tables and the
persona and world tables. memory_records needs pgvector; run "operator schema" for it.`,
		RunE: runMigrate,
	}
	cmd.Flags().BoolVar(&migrateADKOnly, "adk-only", false, "Only migrate session tables")
	cmd.Flags().BoolVar(&migrateAppOnly, "app-only", false, "Only migrate application tables")
	cmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Show what would be migrated without executing")
	cmd.MarkFlagsMutuallyExclusive("adk-only", "app-only")

	RootCmd.AddCommand(cmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	url, err := databaseURL()
	if err != nil {
		return err
	}

	if migrateDryRun {
		fmt.Println("Dry run mode - no changes will be made")
		if !migrateAppOnly {
			fmt.Println("  - Would migrate session tables")
		}
		if !migrateADKOnly {
			fmt.Println("  - Would migrate application tables (personas, worlds)")
		}
		return nil
	}

	if !migrateAppOnly {
		fmt.Println("Migrating session tables...")
		sessions, err := database.NewSessionService(postgres.Open(url))
		if err != nil {
			return fmt.Errorf("failed to create session service: %w", err)
		}
		if err := database.AutoMigrate(sessions); err != nil {
			return fmt.Errorf("failed to migrate session tables: %w", err)
		}
		fmt.Println("  ✓ Session tables migrated")
	}

	if !migrateADKOnly {
		fmt.Println("Migrating application tables...")
		store, err := storage.Open(cmd.Context(), url)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.AutoMigrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("  ✓ Application tables migrated")
	}

	fmt.Println("\nMigration completed successfully!")
	return nil
}
