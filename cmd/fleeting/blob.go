package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) blobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Inspect and remove stored blobs",
	}
	cmd.AddCommand(c.blobListCmd(), c.blobRemoveCmd())
	return cmd
}

func (c *cli) blobListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blob records, flagging expired ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			recs, err := rt.admin.ListBlobs(cmd.Context())
			if err != nil {
				return err
			}
			now := c.clock.Now()
			rows := blobRows(recs, now)
			if format == outputYAML {
				return writeYAML(cmd.OutOrStdout(), rows)
			}
			return writeBlobTable(cmd.OutOrStdout(), rows, now)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func (c *cli) blobRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Delete a blob's bytes and then its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			if err := rt.admin.RemoveBlob(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed blob %d\n", id)
			return nil
		},
	}
}
