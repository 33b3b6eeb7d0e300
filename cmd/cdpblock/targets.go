package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cdpblock/internal/logger"
	"cdpblock/internal/service"
	"cdpblock/pkg/model"
)

func newTargetsCommand(root *rootOptions) *cobra.Command {
	var devtools string
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List browser targets exposed by the DevTools endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if devtools == "" {
				devtools = cfg.Interception.DevToolsURL
			}
			svc := service.New(logger.NewNop())
			defer svc.Close()

			id, err := svc.StartSession(model.SessionConfig{DevToolsURL: devtools})
			if err != nil {
				return err
			}
			targets, err := svc.ListTargets(id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tURL")
			for _, t := range targets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&devtools, "devtools", "", "DevTools HTTP endpoint (default from config)")
	return cmd
}
