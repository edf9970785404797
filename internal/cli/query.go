package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

func newSearchCmd(opts *options) *cobra.Command {
	req := indexer.SearchRequest{}
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search passages and narrative paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.Query = strings.Join(args, " ")
			res, err := idx.Search(ctx, req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				for n, r := range res.Results {
					fmt.Fprintf(w, "%2d. [%s %.3f] %s\n", n+1, r.Kind, r.Score, oneLine(r.Text, 100))
					if r.DocID != "" {
						fmt.Fprintf(w, "    %s #%d\n", r.DocID, r.Position)
					}
				}
				if len(res.Results) == 0 {
					fmt.Fprintln(w, "No results.")
				}
				printWarnings(w, res.Warnings)
			})
		},
	}
	cmd.Flags().StringVarP(&req.SearchType, "type", "t", indexer.SearchHybrid, "vector, graph or hybrid")
	cmd.Flags().IntVarP(&req.Limit, "limit", "l", indexer.DefaultSearchResults, "Max results")
	cmd.Flags().StringVar(&req.DocID, "doc", "", "Restrict passages to one document")
	return cmd
}

func newFeedbackCmd(opts *options) *cobra.Command {
	req := indexer.FeedbackRequest{}
	cmd := &cobra.Command{
		Use:   "feedback <text>...",
		Short: "Show what the story already knows about a passage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.HighlightedText = strings.Join(args, " ")
			res, err := idx.ContextualFeedback(ctx, req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintln(w, "Entities:")
				for _, e := range res.EntitiesMentioned {
					fmt.Fprintf(w, "  %s (%s), first seen in %s\n", e.Name, e.Type, e.FirstSeenDoc)
				}
				fmt.Fprintln(w, "Connections:")
				for _, p := range res.NarrativePaths {
					fmt.Fprintf(w, "  %s\n", p.Narrative)
				}
				fmt.Fprintln(w, "Related passages:")
				for _, h := range res.RelatedPassages {
					fmt.Fprintf(w, "  [%s %.3f] %s\n", h.DocID, h.Score, oneLine(h.Text, 90))
				}
				printSuggestions(w, res.Suggestions)
				printWarnings(w, res.Warnings)
				if res.Trace != nil {
					fmt.Fprintf(w, "Trace: seeds=%s visited=%d docs=%s\n",
						strings.Join(res.Trace.SeedNodes, ","), len(res.Trace.VisitedNodes), strings.Join(res.Trace.SourceDocs, ","))
				}
			})
		},
	}
	cmd.Flags().StringVar(&req.DocID, "doc", "", "Document the passage belongs to")
	cmd.Flags().IntVar(&req.ContextWindow, "window", 0, "Neighbouring chunks to include around the best passage")
	cmd.Flags().BoolVar(&req.Trace, "trace", false, "Report which nodes and documents the lookup touched")
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	req := indexer.ConsistencyRequest{}
	cmd := &cobra.Command{
		Use:   "check <statement>...",
		Short: "Check a statement against established facts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.Statement = strings.Join(args, " ")
			res, err := idx.CheckConsistency(ctx, req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.IsConsistent {
					fmt.Fprintln(w, "Consistent.")
				} else {
					fmt.Fprintln(w, "Inconsistent.")
				}
				for _, c := range res.Conflicts {
					fmt.Fprintf(w, "  conflict: %s %s is %q here but %q in %s\n", c.Entity, c.Attribute, c.StatementValue, c.EstablishedValue, c.Source)
				}
				for _, c := range res.Confirmations {
					fmt.Fprintf(w, "  confirmed: %s %s %q (%s)\n", c.Entity, c.Attribute, c.EstablishedValue, c.Source)
				}
				if res.Recommendation != "" {
					fmt.Fprintln(w, res.Recommendation)
				}
				printWarnings(w, res.Warnings)
			})
		},
	}
	cmd.Flags().StringVarP(&req.CheckType, "type", "t", "", "all, character, age, location, appearance or relationship")
	cmd.Flags().StringVar(&req.DocID, "doc", "", "Document the statement belongs to")
	return cmd
}

func newSuggestCmd(opts *options) *cobra.Command {
	req := indexer.SuggestionRequest{}
	cmd := &cobra.Command{
		Use:   "suggest <context>...",
		Short: "Suggest where the story could go next",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.Context = strings.Join(args, " ")
			res, err := idx.WritingSuggestions(ctx, req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				printSuggestions(w, res.Suggestions)
				printWarnings(w, res.Warnings)
			})
		},
	}
	cmd.Flags().StringVarP(&req.SuggestionType, "type", "t", "", "general, character, plot or setting")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection health and indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, idx, err := opts.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			type status struct {
				indexer.Health
				Documents []indexer.DocumentInfo `json:"documents"`
			}
			res := status{Health: idx.Health(ctx), Documents: idx.Documents()}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				h := res.Health
				fmt.Fprintf(w, "%s: %s, %d documents (%d vector-only), %d chunks, %d nodes, %d edges\n",
					h.Collection, h.Status, h.IndexedDocuments, h.VectorOnlyDocuments, h.Chunks, h.GraphNodes, h.GraphEdges)
				for _, d := range res.Documents {
					fmt.Fprintf(w, "  %-30s %-20s %s\n", d.DocID, d.State, d.Title())
				}
			})
		},
	}
}

func printSuggestions(w io.Writer, suggestions []indexer.Suggestion) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(w, "Suggestions:")
	for _, s := range suggestions {
		fmt.Fprintf(w, "  [%s] %s\n", s.Type, s.Suggestion)
	}
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
