package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show <resource-id>",
	Short: "Print one enriched tender as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRecord(cmd.Context(), cfg, args[0], os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func showRecord(ctx context.Context, c *config.Config, id string, out io.Writer) error {
	sink, err := store.Open(ctx, c.Store)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	lookup, ok := sink.(store.Lookup)
	if !ok {
		return eris.Errorf("show: store driver %q cannot look up records", c.Store.Driver)
	}

	rec, err := lookup.Get(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "show: get %s", id)
	}
	if rec == nil {
		return eris.Errorf("show: no tender with resource_id %q", id)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
