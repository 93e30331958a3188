package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.json>",
	Short: "Load documents into the local SQLite store",
	Long: `Seed reads a JSON object mapping collection names to document arrays
and writes them into the SQLite store. Existing documents with the same id
are replaced.`,
	Example: `  finsync seed testdata/sample.json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if cfg.Store.Driver != config.DriverSQLite {
		return fmt.Errorf("seed requires the sqlite driver (configured: %s)", cfg.Store.Driver)
	}

	fixture, err := readFixture(args[0])
	if err != nil {
		return err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Store.SQLitePath, cfg.Store.OwnerField, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	total := 0
	for _, collection := range models.Collections {
		docs := fixture[collection]
		if len(docs) == 0 {
			continue
		}
		if err := st.PutBatch(ctx, collection, docs); err != nil {
			return err
		}
		total += len(docs)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "documents": total})
		return nil
	}
	printSuccess("Seeded %d documents into %s", total, cfg.Store.SQLitePath)
	return nil
}

func readFixture(path string) (map[string][]models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fixture map[string][]models.Document
	if err := dec.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	for collection := range fixture {
		if !models.IsCollection(collection) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownCollection, collection)
		}
	}
	return fixture, nil
}
