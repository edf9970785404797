package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/loader"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

func newIndexCmd(opts *options) *cobra.Command {
	var (
		folder indexer.FolderOptions
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index manuscript files or folders",
		Long:  "Index .txt, .md, .docx and .html files. Folders are walked recursively; document IDs are paths relative to the folder.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			l := loader.New()
			docs, skipped, err := loadPaths(ctx, l, args)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no supported manuscript files in %v", args)
			}

			res, err := idx.IndexFolder(ctx, docs, folder)
			if perr := idx.Persist(ctx); perr != nil {
				logger.Error("[CLI] Failed to save snapshot", "err", perr)
			}
			if err != nil {
				return err
			}
			for _, s := range skipped {
				res.Warnings = append(res.Warnings, "skipped unreadable file "+s)
			}
			if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) { printFolderResult(w, res) }); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			return watchPaths(ctx, l, idx, args)
		},
	}
	cmd.Flags().BoolVar(&folder.Rebuild, "rebuild", false, "Reset the graph before indexing")
	cmd.Flags().BoolVar(&folder.Dedupe, "dedupe", false, "Ask the model to merge alias entities afterwards")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and re-index files when they change")
	return cmd
}

// loadPaths loads files and folders. A file's ID is its base name.
func loadPaths(ctx context.Context, l *loader.Loader, paths []string) ([]common.Document, []string, error) {
	var (
		docs    []common.Document
		skipped []string
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if info.IsDir() {
			d, s, err := l.LoadFolder(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			docs = append(docs, d...)
			skipped = append(skipped, s...)
			continue
		}
		doc, err := l.Load(ctx, p, loader.DocID(filepath.Dir(p), p))
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

func printFolderResult(w io.Writer, res indexer.FolderResult) {
	fmt.Fprintf(w, "Indexed %d documents: %d chunks, %d entities, %d relationships",
		res.DocumentsIndexed, res.ChunksIndexed, res.EntitiesExtracted, res.RelationshipsFound)
	if res.NodesConsolidated > 0 {
		fmt.Fprintf(w, ", %d nodes consolidated", res.NodesConsolidated)
	}
	fmt.Fprintln(w)
	for _, d := range res.Documents {
		fmt.Fprintf(w, "  %-30s %-20s %d chunks\n", d.DocID, d.State, d.ChunksIndexed)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  FAILED %s (%s): %s\n", f.DocID, f.Phase, f.Error)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}
