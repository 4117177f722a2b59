package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easeaico/persona-core/internal/storage"
)

var seedFile string

func init() {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert personas and worlds from a catalog file",
		RunE:  runSeed,
	}
	cmd.Flags().StringVar(&seedFile, "file", "configs/personas.yaml", "Persona catalog (YAML or JSON)")

	RootCmd.AddCommand(cmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	file, err := storage.ReadCatalogFile(seedFile)
	if err != nil {
		return err
	}
	url, err := databaseURL()
	if err != nil {
		return err
	}
	store, err := storage.Open(cmd.Context(), url)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := storage.Seed(cmd.Context(), store.Personas, file); err != nil {
		return err
	}
	fmt.Printf("Seeded %d persona(s) and %d world(s) from %s\n", len(file.Personas), len(file.Worlds), seedFile)
	return nil
}
