// Package cli implements the quill command line: local indexing of a
// manuscript folder and the writing-assistance queries against it.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/quill/internal/app"
	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

type options struct {
	collection string
	stateDir   string
	jsonOut    bool
}

// NewRootCmd builds the command tree. State lives in a snapshot directory
// so separate invocations see the same collection.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "quill",
		Short:         "Narrative awareness for manuscripts",
		Long:          "Index a manuscript into a vector index and a narrative graph, then ask for feedback, consistency checks and writing suggestions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.collection, "collection", "c", util.GetEnvString("QUILL_COLLECTION", "default"), "Collection (one per manuscript)")
	root.PersistentFlags().StringVar(&opts.stateDir, "state", util.GetEnvString("SNAPSHOT_PATH", ".quill"), "Snapshot directory")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print JSON instead of text")

	root.AddCommand(
		newIndexCmd(opts),
		newSearchCmd(opts),
		newFeedbackCmd(opts),
		newCheckCmd(opts),
		newSuggestCmd(opts),
		newStatusCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runtime opens the configured runtime with file snapshots unless another
// snapshot backend is set explicitly.
func (o *options) runtime(ctx context.Context) (*app.App, *indexer.Indexer, error) {
	cfg := app.ConfigFromEnv()
	if util.GetEnv("SNAPSHOT_BACKEND") == "" {
		cfg.SnapshotBackend = "file"
	}
	cfg.SnapshotPath = o.stateDir

	rt, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	idx, err := rt.Registry.Get(o.collection)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, idx, nil
}

// print writes v as indented JSON with --json, otherwise through text.
func (o *options) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.jsonOut || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
