package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easeaico/persona-core/internal/app"
	"github.com/easeaico/persona-core/internal/config"
)

var (
	consolidateUser    string
	consolidatePersona string
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Fold old low-importance memories into summaries for one user and persona",
		RunE:  runConsolidate,
	}
	cmd.Flags().StringVar(&consolidateUser, "user", "", "User ID")
	cmd.Flags().StringVar(&consolidatePersona, "persona", "", "Persona ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("persona")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Personas.GetPersona(cmd.Context(), consolidatePersona); err != nil {
		return err
	}
	manager, err := a.Memories.For(consolidateUser, consolidatePersona)
	if err != nil {
		return err
	}
	summaries, err := manager.ConsolidateMemories(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Summaries created: %d\n", len(summaries))
	for _, s := range summaries {
		fmt.Printf("  - %s: %s\n", s.ID, s.Content)
	}
	return nil
}

