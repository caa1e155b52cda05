// Command fleeting runs the ephemeral blob store and its operator commands.
//
// Every command loads configuration the same way: defaults, then FLEETING_*
// environment variables, then command-line flags. `fleeting serve` starts
// the HTTP server together with the background reaper and metrics flusher;
// the remaining commands operate directly on the data directory.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"addr":       "addr",
	"data-dir":   "data_dir",
	"log-level":  "log_level",
	"log-format": "log_format",
}

// cli carries state shared by all commands after configuration loads.
type cli struct {
	clock  app.Clock
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	return (&cli{clock: app.SystemClock{}}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleeting",
		Short: "Ephemeral, token-addressed blob store",
		Long: `Fleeting stores uploaded files behind unguessable tokens and deletes
them once they expire. Uploads are gated by operator-issued API credentials.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return c.load(cmd) },
	}
	pf := root.PersistentFlags()
	pf.String("data-dir", "", "data directory (env FLEETING_DATA_DIR)")
	pf.String("log-level", "", "debug, info, warn or error (env FLEETING_LOG_LEVEL)")
	pf.String("log-format", "", "text or json (env FLEETING_LOG_FORMAT)")

	root.AddCommand(
		c.serveCmd(),
		c.credentialCmd(),
		c.blobCmd(),
		c.reapCmd(),
		c.purgeCmd(),
		versionCmd(),
	)
	return root
}

// load resolves configuration for cmd, letting explicitly set flags win.
func (c *cli) load(cmd *cobra.Command) error {
	var opts []config.Option
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			opts = append(opts, config.Override(key, f.Value.String()))
		}
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
