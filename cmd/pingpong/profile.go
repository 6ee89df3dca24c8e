package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelbrown/pingpong/internal/feed"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
)

// newProfileCmd creates the profile subcommand.
func newProfileCmd(g *globalFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "profile <handle>",
		Short: "Print an account's recent statuses",
		Long:  "Profile prints an account's recent statuses oldest first. With --follow it keeps polling.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if err := initLogging(cfg, true); err != nil {
				return err
			}
			defer logging.Close()

			provider, err := newProvider(cfg)
			if err != nil {
				return err
			}
			poller := provider.UserTimeline(args[0])

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if !follow {
				items, err := poller.FetchSince(ctx, 0)
				if err != nil {
					return fmt.Errorf("fetch @%s: %w", args[0], err)
				}
				model.SortOldestFirst(items)
				for _, it := range items {
					printItem(out, it)
				}
				return nil
			}

			pf := feed.NewPollingFeed("profile "+args[0], poller,
				feed.WithInterval(cfg.PollInterval()),
				feed.WithLogger(logging.Component("feed")),
			)
			// Polls arrive in server order, newest first within each batch.
			pf.Run(ctx, func(ev feed.Event) {
				if ev.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", ev.Err)
					return
				}
				printItem(out, ev.Item)
			})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new statuses")

	return cmd
}
