package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *options) *cobra.Command {
	var (
		out      string
		snapshot bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the narrative graph as JSON",
		Long:  "Write the narrative graph (or, with --snapshot, the whole collection state) as JSON to stdout or a file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var v any = idx.Graph().Export()
			if snapshot {
				v = idx.Snapshot()
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Export graph, documents and chunks")
	return cmd
}
