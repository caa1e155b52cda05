package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/fleeting/internal/domain"
)

var errInvalidCredential = errors.New("credential is not valid")

func (c *cli) credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage upload API credentials",
	}
	cmd.AddCommand(c.credentialIssueCmd(), c.credentialValidateCmd(), c.credentialListCmd(), c.credentialRemoveCmd())
	return cmd
}

func (c *cli) credentialIssueCmd() *cobra.Command {
	var (
		days  int
		never bool
	)
	cmd := &cobra.Command{
		Use:   "issue NAME",
		Short: "Issue a credential and print its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lifetime := domain.Never
			if !never {
				if days <= 0 {
					return errors.New("--days must be positive")
				}
				lifetime = time.Duration(days) * 24 * time.Hour
			}
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			cred, err := rt.creds.Issue(cmd.Context(), args[0], lifetime)
			if err != nil {
				return err
			}
			c.logger.Info("credential issued", "id", cred.ID, "name", cred.Name, "never_expires", cred.NeverExpires())
			fmt.Fprintln(cmd.OutOrStdout(), cred.APIToken)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "lifetime in days")
	cmd.Flags().BoolVar(&never, "never", false, "never expire")
	cmd.MarkFlagsMutuallyExclusive("days", "never")
	cmd.MarkFlagsOneRequired("days", "never")
	return cmd
}

func (c *cli) credentialValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate TOKEN",
		Short: "Check whether a credential token is currently valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), c.cfg, c.clock, c.logger)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			if !rt.creds.Validate(cmd.Context(), args[0], c.clock.Now()) {
				return errInvalidCredential
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func (c *cli) credentialListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials, including expired ones",
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
			creds, err := rt.creds.List(cmd.Context())
			if err != nil {
				return err
			}
			now := c.clock.Now()
			rows := credentialRows(creds, now)
			if format == outputYAML {
				return writeYAML(cmd.OutOrStdout(), rows)
			}
			return writeCredentialTable(cmd.OutOrStdout(), rows, now)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func (c *cli) credentialRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a credential",
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
			if err := rt.creds.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed credential %d\n", id)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
