package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/janitor"
)

// reapCmd runs one pass synchronously. A server running against the same
// data directory reaps on its own schedule; the passes are safe to overlap
// because every delete is idempotent.
func (c *cli) reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired blobs, orphaned files and expired credentials now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			jan := janitor.New(rt.reaper, janitor.Config{Clock: c.clock, Logger: c.logger})
			rep, err := jan.RunNow(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "files: %d, orphans: %d, partial uploads: %d, blob records: %d, credentials: %d, failures: %d\n",
				rep.FilesDeleted, rep.OrphansDeleted, rep.PartialsDeleted, rep.BlobRowsDeleted, rep.CredentialsDeleted, rep.Failures)
			return err
		},
	}
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "purge images|tokens|all",
		Short:     "Delete everything of a kind regardless of expiry",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(app.PurgeImages), string(app.PurgeTokens), string(app.PurgeAll)},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := app.ParsePurgeTarget(args[0])
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			rep, err := rt.admin.Purge(cmd.Context(), target)
			fmt.Fprintf(cmd.OutOrStdout(), "files: %d, blob records: %d, credentials: %d\n",
				rep.Files, rep.BlobRows, rep.Credentials)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of fleeting",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleeting version %s\n", version)
		},
	}
}
