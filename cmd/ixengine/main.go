// Command ixengine is the one coherent CLI this tree offers over the index
// package, replacing the teacher's near-duplicate cmd/*/main.go binaries with
// a single root command and thin subcommands.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gmargari/ixengine/index"
	"github.com/gmargari/ixengine/postings"
	"github.com/gmargari/ixengine/query"
	"github.com/gmargari/ixengine/stem"
)

var (
	flagDir         string
	flagPageSize    uint32
	flagMaxFileSize uint32
	flagVerbose     bool
	flagScorer      string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ixengine",
		Short:         "Disk-based inverted-index build, merge, search and inspection tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", "", "index directory (required)")
	root.PersistentFlags().Uint32Var(&flagPageSize, "pagesize", 4096, "vocabulary/list page size in bytes")
	root.PersistentFlags().Uint32Var(&flagMaxFileSize, "max-filesize", 1<<28, "maximum size of one vocab/list file before rolling over")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "emit debug/trace logging")
	_ = root.MarkPersistentFlagRequired("dir")

	root.AddCommand(newBuildCmd(), newMergeCmd(), newSearchCmd(), newDumpVocabCmd(), newStatsCmd())
	return root
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.TraceLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func storageParams() index.StorageParams {
	return index.StorageParams{
		PageSize:      flagPageSize,
		MaxTermLen:    256,
		MaxFileSize:   flagMaxFileSize,
		VocabLeafSize: 0,
		FileLSize:     flagMaxFileSize,
	}
}

// newBuildCmd ingests one input file (one document per line, whitespace
// tokenized) into a freshly created index directory and flushes it.
func newBuildCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create a new index from a newline-delimited document file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("ixengine build: --input is required")
			}
			idx, err := index.Create(flagDir, storageParams(), stem.Passthrough{}, index.WithLogger(newLogger()))
			if err != nil {
				return err
			}
			defer idx.Close()
			n, err := ingestFile(idx, input)
			if err != nil {
				return err
			}
			if err := idx.Flush(); err != nil {
				return err
			}
			fmt.Printf("built %s: %d documents, %d distinct terms\n", flagDir, n, idx.Header().VectorsCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "newline-delimited document file, one document per line")
	return cmd
}

// newMergeCmd demonstrates spec.md's merge operation by flushing more than
// one batch against the same index within a single process: each --input
// file becomes its own AddDocument/Flush cycle, and every cycle after the
// first drives merge.Run's true old-vocabulary-plus-new-entries path.
//
// A from-scratch process cannot append to an index an earlier process built:
// postings.Accumulator always starts counting docnos at zero, and merge.Run
// rebases only the first gap of a new batch against the old vocabulary's last
// docno — appending a second independently-numbered batch from a later
// process would corrupt docno bookkeeping. See DESIGN.md's "Accumulator
// docno continuity across Flush cycles" entry.
func newMergeCmd() *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Build an index from multiple document batches, merging each into the vocabulary in turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return fmt.Errorf("ixengine merge: at least one --input is required")
			}
			if _, err := os.Stat(filepath.Join(flagDir, "param")); err == nil {
				return fmt.Errorf("ixengine merge: %s already holds an index; merging new batches into an "+
					"existing on-disk index from a fresh process is not supported (see DESIGN.md)", flagDir)
			}
			idx, err := index.Create(flagDir, storageParams(), stem.Passthrough{}, index.WithLogger(newLogger()))
			if err != nil {
				return err
			}
			defer idx.Close()
			for _, input := range inputs {
				n, err := ingestFile(idx, input)
				if err != nil {
					return fmt.Errorf("ingesting %s: %w", input, err)
				}
				if err := idx.Flush(); err != nil {
					return fmt.Errorf("flushing %s: %w", input, err)
				}
				fmt.Printf("merged %s: %d documents (vocabulary now %d terms)\n", input, n, idx.Header().VectorsCount)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "newline-delimited document file (repeatable)")
	return cmd
}

func ingestFile(idx *index.Index, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		words := make([]index.WordOccurrence, len(fields))
		for i, f := range fields {
			words[i] = index.WordOccurrence{Term: []byte(strings.ToLower(f)), Position: uint64(i)}
		}
		if err := idx.AddDocument(words); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}

func resolveScorer(name string) (query.ScoringFunction, error) {
	switch name {
	case "", "bm25":
		return query.BM25K3{}, nil
	case "cosine":
		return query.Cosine{}, nil
	case "dirichlet":
		return query.Dirichlet{}, nil
	case "pivoted-cosine":
		return query.PivotedCosine{}, nil
	case "hawkapi":
		return query.Hawkapi{}, nil
	default:
		return nil, fmt.Errorf("ixengine: unknown scorer %q (want bm25, cosine, dirichlet, pivoted-cosine, hawkapi)", name)
	}
}

// buildTermGroups turns search's positional args (each its own OR'd word)
// plus --phrase/--and flags (each a multi-term group resolved via
// query.ResolveSources, spec.md §4.7) into the groups SearchGroups OR-combines.
func buildTermGroups(args, phrases, andGroups []string) ([]index.TermGroup, error) {
	groups := make([]index.TermGroup, 0, len(args)+len(phrases)+len(andGroups))
	for _, a := range args {
		groups = append(groups, index.Word([]byte(strings.ToLower(a))))
	}
	for _, p := range phrases {
		fields := strings.Fields(p)
		if len(fields) < 2 {
			return nil, fmt.Errorf("ixengine search: --phrase %q needs at least two space-separated terms", p)
		}
		terms := make([][]byte, len(fields))
		for i, f := range fields {
			terms[i] = []byte(strings.ToLower(f))
		}
		groups = append(groups, index.TermGroup{Type: query.Phrase, Terms: terms})
	}
	for _, g := range andGroups {
		fields := strings.Split(g, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("ixengine search: --and %q needs at least two comma-separated terms", g)
		}
		terms := make([][]byte, len(fields))
		for i, f := range fields {
			terms[i] = []byte(strings.ToLower(strings.TrimSpace(f)))
		}
		groups = append(groups, index.TermGroup{Type: query.And, Terms: terms})
	}
	return groups, nil
}

func newSearchCmd() *cobra.Command {
	var start, length int
	var phrases, andGroups []string
	cmd := &cobra.Command{
		Use:   "search [terms...]",
		Short: "Run a ranked query against an index: positional args OR together, --phrase/--and add adjacency/conjunction groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			scorer, err := resolveScorer(flagScorer)
			if err != nil {
				return err
			}
			groups, err := buildTermGroups(args, phrases, andGroups)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return fmt.Errorf("ixengine search: at least one term, --phrase, or --and is required")
			}
			idx, err := index.Open(flagDir, index.WithLogger(newLogger()))
			if err != nil {
				return err
			}
			defer idx.Close()
			result, err := idx.SearchGroups(groups, start, length, scorer, nil)
			if err != nil {
				return err
			}
			for i, r := range result.Results {
				fmt.Printf("%2d. docno=%-10d score=%.6f\n", start+i+1, r.Docno, r.Score)
			}
			estimate := "exact"
			if result.IsEstimate {
				estimate = "estimated"
			}
			fmt.Printf("%d results (%s)\n", result.EstimatedTotal, estimate)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagScorer, "scorer", "bm25", "scoring function: bm25, cosine, dirichlet, pivoted-cosine, hawkapi")
	cmd.Flags().IntVar(&start, "start", 0, "pagination offset")
	cmd.Flags().IntVar(&length, "length", 10, "page size")
	cmd.Flags().StringArrayVar(&phrases, "phrase", nil, `adjacent-match group, space-separated terms (repeatable), e.g. --phrase "quick brown"`)
	cmd.Flags().StringArrayVar(&andGroups, "and", nil, `co-occurrence group, comma-separated terms (repeatable), e.g. --and foo,bar`)
	return cmd
}

func newDumpVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump-vocab",
		Short: "Print every term in the index's vocabulary with its posting stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := index.Open(flagDir, index.WithLogger(newLogger()))
			if err != nil {
				return err
			}
			defer idx.Close()
			return idx.EachTerm(func(term []byte, entries []postings.Entry) error {
				for _, e := range entries {
					fmt.Printf("%-24s vtype=%d docs=%-8d occurs=%-8d last_docno=%d\n",
						term, e.VType, e.Docs, e.Occurs, e.LastDocno)
				}
				return nil
			})
		},
	}
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print an index's collection-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := index.Open(flagDir, index.WithLogger(newLogger()))
			if err != nil {
				return err
			}
			defer idx.Close()
			h := idx.Header()
			fmt.Printf("documents     %d\n", h.IndexStats.TotalDocs)
			fmt.Printf("vocab terms   %d\n", h.VectorsCount)
			fmt.Printf("total occurs  %d\n", h.IndexStats.TotalOccurs)
			fmt.Printf("avg doc len   %.2f\n", h.IndexStats.AvgDocLen)
			fmt.Printf("vocab root    file=%d offset=%d\n", h.Root.FileNo, h.Root.Offset)
			return nil
		},
	}
	return cmd
}
