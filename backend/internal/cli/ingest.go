package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kgchat/backend/internal/constants"
	"kgchat/backend/internal/kg"
)

func newIngestCommand(opts *options) *cobra.Command {
	var (
		timestamp int64
		sessionID string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Merge each file into the graph as one checkpoint, in argument order (\"-\" or no files reads stdin)",
		Long: `Merge each file into the graph as one checkpoint, in argument order.

Each file is stamped one millisecond after the previous one, starting at
--timestamp, so later files rank as more recent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := opts.newExtractor()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"-"}
			}

			texts, err := readInputs(cmd, args)
			if err != nil {
				return err
			}

			g, err := loadGraph(opts.graphPath, true)
			if err != nil {
				return err
			}

			ts := timestamp
			if ts == 0 {
				ts = time.Now().UnixMilli()
			}

			engine := kg.NewEngine(kg.WithExtractor(x))
			out := cmd.OutOrStdout()
			for i, text := range texts {
				var stats kg.MergeStats
				g, stats = engine.IngestAt(text, sessionID, ts+int64(i), g)
				fmt.Fprintf(out, "%s: %d mentions, %d new entities, %d updated, %d new relations, %d reinforced\n",
					args[i], stats.Mentions, stats.EntitiesCreated, stats.EntitiesUpdated,
					stats.RelationsCreated, stats.RelationsUpdated)
			}
			fmt.Fprintf(out, "graph: %d entities, %d relations\n", len(g.Entities), len(g.Relations))

			if dryRun {
				return nil
			}
			return saveGraph(opts.graphPath, g)
		},
	}

	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Time of the first checkpoint in Unix milliseconds (default now)")
	cmd.Flags().StringVar(&sessionID, "session", constants.DefaultSessionID, "Session id recorded in logs")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing the graph")
	return cmd
}

// readInputs loads every input concurrently; results keep argument order
func readInputs(cmd *cobra.Command, paths []string) ([]string, error) {
	stdinCount := 0
	for _, path := range paths {
		if path == "-" {
			stdinCount++
		}
	}
	if stdinCount > 1 {
		return nil, fmt.Errorf("stdin can only be read once")
	}

	texts := make([]string, len(paths))

	g, _ := errgroup.WithContext(cmd.Context())
	g.SetLimit(constants.MaxConcurrentReads)

	stdin := cmd.InOrStdin()
	for i, path := range paths {
		g.Go(func() error {
			if path == "-" {
				data, err := io.ReadAll(stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				texts[i] = string(data)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			texts[i] = string(data)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}
