package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haukened/fleeting/internal/app"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputTable, "output format: table or yaml")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	f, _ := cmd.Flags().GetString("output")
	switch f = strings.ToLower(f); f {
	case outputTable, outputYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", f)
}

// credentialRow is the listing shape of a credential.
type credentialRow struct {
	app.Credential `yaml:",inline"`
	Expires        string `yaml:"expires"`
	Expired        bool   `yaml:"expired"`
}

// blobRow is the listing shape of a blob record.
type blobRow struct {
	app.BlobRecord `yaml:",inline"`
	Expired        bool `yaml:"expired"`
}

func credentialRows(creds []app.Credential, now time.Time) []credentialRow {
	rows := make([]credentialRow, 0, len(creds))
	for _, c := range creds {
		r := credentialRow{Credential: c, Expires: "never"}
		if !c.NeverExpires() {
			r.Expires = c.ExpiresAt.Format(time.RFC3339)
			r.Expired = !c.ExpiresAt.After(now)
		}
		rows = append(rows, r)
	}
	return rows
}

func blobRows(recs []app.BlobRecord, now time.Time) []blobRow {
	rows := make([]blobRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, blobRow{BlobRecord: r, Expired: !r.ExpiresAt.After(now)})
	}
	return rows
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// relative renders t against now, e.g. "3 hours from now".
func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func writeCredentialTable(w io.Writer, rows []credentialRow, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTOKEN\tISSUED\tEXPIRES")
	for _, r := range rows {
		exp := r.Expires
		if !r.NeverExpires() {
			exp = relative(r.ExpiresAt, now)
		}
		if r.Expired {
			exp += " (expired)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.APIToken, r.IssuedAt.Format(time.RFC3339), exp)
	}
	return tw.Flush()
}

func writeBlobTable(w io.Writer, rows []blobRow, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOKEN\tSTORAGE NAME\tFILENAME\tTYPE\tSIZE\tCREATED\tEXPIRES")
	for _, r := range rows {
		exp := relative(r.ExpiresAt, now)
		if r.Expired {
			exp += " (expired)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.PublicToken, r.StorageName, r.OriginalFilename, r.ContentType,
			humanize.IBytes(uint64(r.Size)), r.CreatedAt.Format(time.RFC3339), exp)
	}
	return tw.Flush()
}
