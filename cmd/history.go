package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/spf13/cobra"

	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/jobs"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List applied jobs",
	Run: func(cmd *cobra.Command, _ []string) {
		config, err := getConfig()
		if err != nil {
			log.Fatalf("getting a config: %s", err)
		}

		board, _ := cmd.Flags().GetString("board")
		export, _ := cmd.Flags().GetString("export")

		if err := showHistory(context.Background(), config.History, board, export); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringP("board", "b", "", "only list jobs of this board")
	historyCmd.Flags().String("export", "", "append the listed jobs to this exclude file")
}

func showHistory(ctx context.Context, cfg history.Config, board, export string) error {
	store, err := history.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening the application history: %w", err)
	}
	defer store.Close()

	entries, err := store.List(ctx, board)
	if err != nil {
		return fmt.Errorf("listing applied jobs: %w", err)
	}

	pretty, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))

	if export == "" || len(entries) == 0 {
		return nil
	}
	return exportHistory(entries, export)
}

// exportHistory appends entries to the exclude file at path.
func exportHistory(entries []history.Entry, path string) error {
	excluded, err := jobs.LoadExcluded(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		excluded = &jobs.Excluded{}
	case err != nil:
		return err
	}

	for _, e := range entries {
		excluded.Append(jobs.ToExcluded([]*jobs.Job{{
			Board:   e.Board,
			ID:      e.JobID,
			URL:     e.URL,
			Company: e.Company,
		}}, e.AppliedAt))
	}

	if err := excluded.ToFile(path); err != nil {
		return fmt.Errorf("writing exclude file: %w", err)
	}
	return nil
}
