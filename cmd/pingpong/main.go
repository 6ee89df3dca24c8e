// Command pingpong is a multi-column terminal client for Mastodon timelines.
//
// Usage:
//
//	pingpong                    Run the terminal UI
//	pingpong tail <terms>       Stream matching statuses to stdout
//	pingpong profile <handle>   Print an account's recent statuses
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/pingpong/internal/config"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/registry"
	"github.com/abelbrown/pingpong/internal/ui"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command, which runs the terminal UI.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "pingpong",
		Short:         "Multi-column Mastodon timelines in the terminal",
		Long:          "PingPong shows home, mentions, messages and live searches side by side.",
		Version:       version,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(g)
		},
	}
	rootCmd.SetVersionTemplate("pingpong version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&g.keysFile, "keys", "", "dotenv file with PINGPONG_* account keys")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(newTailCmd(g))
	rootCmd.AddCommand(newProfileCmd(g))

	return rootCmd
}

func runUI(g *globalFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if !cfg.HasAccount() {
		return errors.New("no account configured: set PINGPONG_INSTANCE, PINGPONG_HANDLE and PINGPONG_TOKEN or pass --keys")
	}
	if err := initLogging(cfg, false); err != nil {
		return err
	}
	defer logging.Close()

	st, err := openArchive(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := ui.NewBridge()
	minBackoff, maxBackoff := cfg.Backoff()
	opts := registry.Options{
		Handle:       cfg.Account.Handle,
		PollInterval: cfg.PollInterval(),
		MinBackoff:   minBackoff,
		MaxBackoff:   maxBackoff,
		OnSearchTerms: func(query string) {
			cfg.Search.LastTerms = query
			if err := cfg.SaveTo(g.path()); err != nil {
				logging.Warn("failed to save search terms", "err", err)
			}
		},
		OnChange: bridge.Changed,
		OnUpdate: bridge.Updated,
		OnError:  bridge.Failed,
		Logger:   logging.Component("registry"),
	}
	if st != nil {
		opts.Archive = st
	}

	reg, err := registry.New(provider, opts)
	if err != nil {
		return err
	}
	defer reg.Shutdown()

	for _, f := range []registry.Fixed{registry.FixedHome, registry.FixedMentions} {
		if err := reg.SetVisible(f, true); err != nil {
			return err
		}
	}
	if cfg.Timelines.ShowMessages {
		if err := reg.SetVisible(registry.FixedMessages, true); err != nil {
			return err
		}
	}
	if err := reg.Restore(cfg.Search.LastTerms); err != nil {
		logging.Warn("could not restore last search", "terms", cfg.Search.LastTerms, "err", err)
	}

	program := tea.NewProgram(ui.NewApp(reg), tea.WithAltScreen())
	go bridge.Run(ctx, program)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}

	cancel()
	reg.Shutdown()
	if st != nil {
		pruneArchive(st)
	}
	return nil
}
