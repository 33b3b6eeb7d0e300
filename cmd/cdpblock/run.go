package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpblock/pkg/model"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		target   string
		devtools string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to a browser target and apply the configured blocking rules until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if devtools != "" {
				cfg.Interception.DevToolsURL = devtools
			}
			l := newLogger(cfg)
			svc, err := newService(cfg, l)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.LoadRules(cfg.RuleSet()); err != nil {
				return err
			}
			id, err := svc.StartSession(model.SessionConfig{
				DevToolsURL:      cfg.Interception.DevToolsURL,
				ProcessTimeoutMS: cfg.Interception.ProcessTimeoutMS,
				ReplayTimeoutMS:  cfg.Interception.ReplayTimeoutMS,
			})
			if err != nil {
				return err
			}
			attached, err := svc.AttachTarget(id, model.TargetID(target))
			if err != nil {
				return err
			}
			events, err := svc.SubscribeEvents(id)
			if err != nil {
				return err
			}
			l.Info("开始拦截", "target", string(attached), "rules", len(cfg.Rules))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return printEvents(ctx, cmd, events, quiet)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target ID to attach (default: first page)")
	cmd.Flags().StringVar(&devtools, "devtools", "", "DevTools HTTP endpoint (overrides config)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print interception events")
	return cmd
}

func printEvents(ctx context.Context, cmd *cobra.Command, events <-chan model.Event, quiet bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
			}
		}
	}
}

func formatEvent(evt model.Event) string {
	s := fmt.Sprintf("%-12s", evt.Type)
	if evt.Pattern != "" {
		s += " pattern=" + evt.Pattern
	}
	if evt.Method != "" || evt.URL != "" {
		s += fmt.Sprintf(" %s %s", evt.Method, evt.URL)
	}
	if evt.StatusCode != 0 {
		s += fmt.Sprintf(" status=%d", evt.StatusCode)
	}
	if evt.Type == model.EventResumed {
		s += fmt.Sprintf(" relay=%t", evt.Relay)
	}
	if evt.Pending != 0 {
		s += fmt.Sprintf(" pending=%d", evt.Pending)
	}
	if evt.Error != "" {
		s += " error=" + evt.Error
	}
	return s
}
