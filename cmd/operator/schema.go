package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	schemaFile   string
	schemaDir    string
	schemaDryRun bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Execute SQL migration files",
		RunE:  runSchema,
	}
	cmd.Flags().StringVar(&schemaFile, "file", "", "Specific migration file to execute")
	cmd.Flags().StringVar(&schemaDir, "dir", "migrations", "Directory containing migration files")
	cmd.Flags().BoolVar(&schemaDryRun, "dry-run", false, "Show what would be executed without running")

	RootCmd.AddCommand(cmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	files, err := findMigrationFiles(schemaDir, schemaFile)
	if err != nil {
		return fmt.Errorf("failed to find migration files: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No migration files found")
		return nil
	}

	fmt.Printf("Found %d migration file(s):\n", len(files))
	for _, f := range files {
		fmt.Printf("  - %s\n", filepath.Base(f))
	}
	if schemaDryRun {
		fmt.Println("\nDry run mode - no SQL will be executed")
		return nil
	}

	url, err := databaseURL()
	if err != nil {
		return err
	}
	db, closeDB, err := openDB(url)
	if err != nil {
		return err
	}
	defer closeDB()

	fmt.Println("\nExecuting migrations...")
	for _, f := range files {
		fmt.Printf("  Running %s... ", filepath.Base(f))
		if err := executeSQLFile(db.WithContext(cmd.Context()), f); err != nil {
			fmt.Println("✗")
			return fmt.Errorf("failed to execute %s: %w", f, err)
		}
		fmt.Println("✓")
	}

	fmt.Println("\nSchema migration completed successfully!")
	return nil
}

// findMigrationFiles returns dir/file, or every .sql file in dir sorted by name.
func findMigrationFiles(dir, file string) ([]string, error) {
	if file != "" {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("migration file not found: %s", path)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func executeSQLFile(db *gorm.DB, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := db.Exec(string(content)).Error; err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}
