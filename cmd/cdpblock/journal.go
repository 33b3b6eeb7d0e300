package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdpblock/internal/storage"
)

func newJournalCommand(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent interception events recorded in the sqlite journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			j, err := storage.OpenJournal(storage.JournalOptions{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix})
			if err != nil {
				return err
			}
			defer j.Close()
			events, err := j.Recent(limit)
			if err != nil {
				return err
			}
			for i := len(events) - 1; i >= 0; i-- {
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(events[i]))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}
