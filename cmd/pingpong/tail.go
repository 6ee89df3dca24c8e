package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelbrown/pingpong/internal/feed"
	"github.com/abelbrown/pingpong/internal/hub"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/registry"
)

// newTailCmd creates the tail subcommand.
func newTailCmd(g *globalFlags) *cobra.Command {
	var noBackfill bool

	cmd := &cobra.Command{
		Use:   "tail <terms>...",
		Short: "Stream statuses matching any of the terms to stdout",
		Long: "Tail opens one live connection for the union of the terms and prints every\n" +
			"matching status. Terms may be separated by spaces, commas or '|'.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if err := initLogging(cfg, true); err != nil {
				return err
			}
			defer logging.Close()

			terms := registry.SearchTerms(registry.ParseSearch(strings.Join(args, " ")))
			if len(terms) == 0 {
				return registry.ErrSearchTermsRequired
			}

			provider, err := newProvider(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			minBackoff, maxBackoff := cfg.Backoff()
			h := hub.New("tail", provider.FilterStream(),
				hub.WithBackoff(minBackoff, maxBackoff),
				hub.WithLogger(logging.Component("hub")),
			)
			defer h.Close()

			var f feed.Feed = h.Subscribe(terms)
			if !noBackfill {
				query := strings.Join(terms, " OR ")
				f = feed.Backfill("tail", func(ctx context.Context) ([]model.Item, error) {
					return provider.Search(ctx, query)
				}, f)
			}

			out := cmd.OutOrStdout()
			f.Run(ctx, func(ev feed.Event) {
				if ev.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", ev.Err)
					return
				}
				printItem(out, ev.Item)
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "skip the initial search and print live statuses only")

	return cmd
}

// printItem writes one item as a single line.
func printItem(w io.Writer, it model.Item) {
	ts := "                "
	if !it.CreatedAt.IsZero() {
		ts = it.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(w, "%s  @%-20s %s\n", ts, it.Author, it.Body)
}
