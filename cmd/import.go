package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"watchlist-service/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load projects from a JSON array into the configured store",
	Long: `Import reads a JSON array of project objects, for example a projects.json
written by the file backend, and creates each one in the configured store.
Projects whose id already exists are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var records []models.Patch
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Import(context.Background(), records)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d projects, skipped %d existing\n", res.Imported, res.Skipped)
	return nil
}
