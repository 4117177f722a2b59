package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/easeaico/persona-core/internal/config"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate environment configuration",
		RunE:  runValidate,
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	for _, name := range []string{
		"STORE_BACKEND", "DATABASE_URL", "LLM_PROVIDER", "CHAT_MODEL", "SUMMARY_MODEL",
		"XAI_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMOTION_ANALYZER", "PERSONA_CATALOG", "HTTP_ADDR",
	} {
		value := os.Getenv(name)
		if value == "" {
			fmt.Printf("  - %s: not set\n", name)
			continue
		}
		fmt.Printf("  ✓ %s: %s\n", name, displayValue(name, value))
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Println("\nConfiguration errors:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  ✗ %s\n", line)
		}
		return errors.New("configuration validation failed")
	}

	if cfg.StoreBackend == config.BackendPostgres {
		if err := checkDatabase(cmd.Context(), cfg.DatabaseURL); err != nil {
			return err
		}
	}

	fmt.Println("\nConfiguration validation completed!")
	return nil
}

func displayValue(name, value string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "key"), strings.Contains(lower, "secret"), strings.Contains(lower, "password"):
		return maskValue(value)
	case strings.Contains(lower, "url") && strings.Contains(value, "@"):
		return maskDatabaseURL(value)
	default:
		return value
	}
}

func checkDatabase(ctx context.Context, url string) error {
	fmt.Println("\nTesting database connection...")
	db, closeDB, err := openDB(url)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	fmt.Println("  ✓ Database connection successful")

	var extExists bool
	if err := db.WithContext(ctx).Raw("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extExists).Error; err != nil {
		return fmt.Errorf("failed to check extensions: %w", err)
	}
	if extExists {
		fmt.Println("  ✓ pgvector extension installed")
	} else {
		fmt.Println("  ! pgvector extension not installed (required for memory_records)")
	}
	return nil
}
