package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/abelbrown/pingpong/internal/config"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/registry"
	"github.com/abelbrown/pingpong/internal/source"
	"github.com/abelbrown/pingpong/internal/source/mastodon"
	"github.com/abelbrown/pingpong/internal/source/rss"
	"github.com/abelbrown/pingpong/internal/store"
)

// archiveKeep is how many items per timeline survive a prune.
const archiveKeep = 2000

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	keysFile   string
	logLevel   string
}

// path returns the config file in use.
func (g *globalFlags) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.ConfigPath()
}

// loadConfig reads the config file and applies the keys file and flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadFrom(g.path())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.keysFile != "" {
		if err := cfg.LoadKeysFromFile(g.keysFile); err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// initLogging logs to a dated file under the data directory, or to stderr
// for the headless commands.
func initLogging(cfg *config.Config, stderr bool) error {
	dir := filepath.Join(config.DataDir(), "logs")
	if stderr {
		dir = ""
	}
	return logging.Init(logging.Config{Dir: dir, Level: cfg.Logging.Level})
}

// openArchive opens the item archive, or returns nil when archiving is off.
func openArchive(cfg *config.Config) (*store.Store, error) {
	if !cfg.Storage.Archive {
		return nil, nil
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return st, nil
}

// pruneArchive trims every fixed timeline's archive.
func pruneArchive(st *store.Store) {
	for _, name := range []string{"home", "mentions", "messages"} {
		n, err := st.Prune(name, archiveKeep)
		if err != nil {
			logging.Warn("prune failed", "timeline", name, "err", err)
			continue
		}
		if n > 0 {
			logging.Info("pruned archive", "timeline", name, "removed", n)
		}
	}
}

// newProvider builds the Mastodon provider, with profile and topic columns
// served from public RSS when configured.
func newProvider(cfg *config.Config) (registry.Provider, error) {
	every := time.Second
	if rps := cfg.Timelines.RequestsPerSec; rps > 0 {
		every = time.Second / time.Duration(rps)
	}
	client, err := mastodon.New(cfg.Account.Instance, cfg.Account.Token,
		mastodon.WithRateLimit(every),
		mastodon.WithLogger(logging.Component("mastodon")),
	)
	if err != nil {
		return nil, err
	}
	if !cfg.Timelines.UseRSSForPublic {
		return client, nil
	}
	return rssProvider{Client: client, feeds: rss.NewFetcher(cfg.Account.Instance, 30*time.Second)}, nil
}

// rssProvider polls public profile and topic feeds over RSS.
type rssProvider struct {
	*mastodon.Client
	feeds *rss.Fetcher
}

func (p rssProvider) UserTimeline(handle string) source.Poller { return p.feeds.UserTimeline(handle) }
func (p rssProvider) Topic(topic string) source.Poller         { return p.feeds.Topic(topic) }
