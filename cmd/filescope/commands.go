package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filescope/filescope/internal/dupes"
	"github.com/filescope/filescope/internal/embed"
	"github.com/filescope/filescope/internal/indexer"
	"github.com/filescope/filescope/internal/query"
	"github.com/filescope/filescope/internal/store"
	"github.com/filescope/filescope/pkg/types"
)

func newRootCmd() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:           "filescope",
		Short:         "On-device semantic file index and search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "index database path (default $"+envDBPath+" or ~/.filescope/index.db)")

	root.AddCommand(
		newIndexCmd(&dbPath),
		newSearchCmd(&dbPath),
		newImagesCmd(&dbPath),
		newDupesCmd(),
		newStatusCmd(&dbPath),
	)
	return root
}

func loadedTextProducer() (embed.TextProducer, error) {
	p := embed.NewStubTextProducer()
	if err := p.Load(""); err != nil {
		return nil, err
	}
	return p, nil
}

func loadedVisualProducer() (embed.VisualProducer, error) {
	p := embed.NewStubVisualProducer()
	if err := p.Load(""); err != nil {
		return nil, err
	}
	return p, nil
}

func newIndexCmd(dbPath *string) *cobra.Command {
	var (
		watch    bool
		excludes []string
		hidden   bool
		maxMB    int64
	)
	cmd := &cobra.Command{
		Use:   "index [dirs...]",
		Short: "Crawl directories and build or refresh the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(resolveDBPath(*dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			text, err := loadedTextProducer()
			if err != nil {
				return err
			}
			visual, err := loadedVisualProducer()
			if err != nil {
				return err
			}

			cfg := indexer.DefaultConfig()
			cfg.ExcludePatterns = append(cfg.ExcludePatterns, excludes...)
			cfg.IndexHidden = hidden
			cfg.EnableWatching = watch
			if maxMB > 0 {
				cfg.MaxFileSizeMB = maxMB
			}

			idx := indexer.New(cfg)
			idx.SetStore(st)
			idx.SetTextProducer(text)
			idx.SetVisualProducer(visual)
			idx.SetStatusCallback(func(state indexer.State, msg string) {
				log.Printf("indexer %s: %s", state, msg)
			})
			idx.SetProgressCallback(func(s indexer.Stats) {
				log.Printf("indexed %d, pending %d, skipped %d (%.0f%%)",
					s.FilesIndexed, s.FilesPending, s.FilesSkipped, s.Progress*100)
			})

			for _, dir := range args {
				if err := idx.AddWatchDir(dir); err != nil {
					return err
				}
			}

			if err := idx.Start(); err != nil {
				return err
			}

			if watch {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				go func() {
					<-sigCh
					log.Printf("shutting down")
					idx.Stop()
				}()
			}
			idx.Wait()

			if idx.State() == indexer.StateError {
				return fmt.Errorf("indexing failed: %s", idx.LastError())
			}
			s := idx.Stats()
			log.Printf("done: %d files indexed, %d skipped in %.1fs",
				s.FilesIndexed, s.FilesSkipped, s.ElapsedSeconds)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep watching for changes after the crawl")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "extra exclude patterns")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "index hidden files and directories")
	cmd.Flags().Int64Var(&maxMB, "max-size", 0, "skip files larger than this many MB")
	return cmd
}

func newSearchCmd(dbPath *string) *cobra.Command {
	var (
		limit    int
		minScore float64
		dir      string
		kind     string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find files by meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(resolveDBPath(*dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			text, err := loadedTextProducer()
			if err != nil {
				return err
			}

			opts := query.DefaultOptions()
			opts.MaxResults = limit
			opts.MinScore = minScore
			opts.Directory = dir
			if kind != "" {
				k := types.FileKind(kind)
				if !k.Valid() {
					return fmt.Errorf("unknown kind %q", kind)
				}
				opts.Kind = k
			}

			eng := query.New(st, store.NewImageStore(st.RawDB()), text, nil)
			resp := eng.TextQuery(ctx, args[0], opts)
			return printResults(resp)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum similarity score")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "restrict to this directory")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "restrict to one file kind")
	return cmd
}

func newImagesCmd(dbPath *string) *cobra.Command {
	var (
		limit    int
		minScore float64
		dir      string
		likePath string
	)
	cmd := &cobra.Command{
		Use:   "images [query]",
		Short: "Find images by description or by example",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if likePath == "" && len(args) == 0 {
				return fmt.Errorf("provide a text query or --like <image>")
			}

			st, err := openStore(resolveDBPath(*dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			visual, err := loadedVisualProducer()
			if err != nil {
				return err
			}

			opts := query.DefaultOptions()
			opts.MaxResults = limit
			opts.MinScore = minScore
			opts.Directory = dir

			eng := query.New(st, store.NewImageStore(st.RawDB()), nil, visual)
			var resp *query.Response
			if likePath != "" {
				resp = eng.ImageQueryByImage(ctx, likePath, opts)
			} else {
				resp = eng.ImageQueryByText(ctx, args[0], opts)
			}
			return printResults(resp)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum similarity score")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "restrict to this directory")
	cmd.Flags().StringVar(&likePath, "like", "", "find images similar to this one")
	return cmd
}

func newDupesCmd() *cobra.Command {
	var (
		threshold float64
		asJSON    bool
		minSize   int64
		noImages  bool
		noText    bool
		excludes  []string
	)
	cmd := &cobra.Command{
		Use:   "dupes [dirs...]",
		Short: "Find duplicate and near-duplicate files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := dupes.DefaultConfig(args...)
			cfg.SimilarityThreshold = threshold
			cfg.MinSizeBytes = minSize
			cfg.DetectSimilarImages = !noImages
			cfg.DetectSimilarText = !noText
			cfg.ExcludePatterns = excludes

			var text embed.TextProducer
			if cfg.DetectSimilarText {
				var err error
				text, err = loadedTextProducer()
				if err != nil {
					return err
				}
			}

			analyzer := dupes.New(cfg, text)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				analyzer.Cancel()
			}()

			report, err := analyzer.Analyze(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return report.WriteJSON(os.Stdout)
			}
			printReport(report)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.9, "similarity threshold for image and text grouping")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full report as JSON")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "ignore files smaller than this many bytes")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "skip perceptual image matching")
	cmd.Flags().BoolVar(&noText, "no-text", false, "skip semantic text matching")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "exclude glob patterns")
	return cmd
}

func newStatusCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(resolveDBPath(*dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("files indexed:  %d\n", stats.Files)
			fmt.Printf("with embedding: %d\n", stats.Embedded)
			fmt.Printf("images indexed: %d\n", stats.Images)
			fmt.Printf("total size:     %s\n", humanBytes(stats.TotalBytes))
			if len(stats.ByKind) > 0 {
				fmt.Println("by kind:")
				for kind, n := range stats.ByKind {
					fmt.Printf("  %-10s %d\n", kind, n)
				}
			}
			return nil
		},
	}
}

func printResults(resp *query.Response) error {
	if !resp.Success {
		return fmt.Errorf("search failed: %s", resp.Error)
	}
	if len(resp.Results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range resp.Results {
		extra := ""
		if r.Width > 0 {
			extra = fmt.Sprintf("  %dx%d", r.Width, r.Height)
		}
		fmt.Printf("%.3f  %s  (%s, %s)%s\n", r.Score, r.Path, r.Kind, humanBytes(r.ByteSize), extra)
	}
	log.Printf("%d results in %.1fms", len(resp.Results), resp.SearchTimeMs)
	return nil
}

func printReport(r *dupes.Report) {
	if len(r.Groups) == 0 {
		fmt.Printf("no duplicates among %d files\n", r.FilesScanned)
		return
	}
	for i, g := range r.Groups {
		fmt.Printf("group %d (%s, %.0f%% similar, %s reclaimable):\n",
			i+1, g.Type, g.Similarity*100, humanBytes(g.ReclaimableBytes))
		for j, f := range g.Files {
			mark := " "
			if j == g.SuggestedKeep {
				mark = "*"
			}
			fmt.Printf(" %s %s  (%s, %s)\n", mark, f.Path, humanBytes(f.ByteSize),
				time.Unix(f.ModifiedAt, 0).Format("2006-01-02"))
		}
	}
	fmt.Printf("\n%d duplicate files in %d groups, %s reclaimable (%.1fms); * marks the suggested keeper\n",
		r.DuplicateFiles, len(r.Groups), humanBytes(r.ReclaimableBytes), r.ScanTimeMs)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
