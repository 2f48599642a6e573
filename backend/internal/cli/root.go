// Package cli implements kgctl, the offline tool for building and querying
// knowledge-graph files without running the chat server.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kgchat/backend/internal/constants"
	"kgchat/backend/internal/kg"
	"kgchat/backend/pkg/logger"
)

// options are the persistent flags shared by every subcommand
type options struct {
	graphPath string
	extractor string
	verbose   bool
}

// NewRootCommand builds a fresh kgctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "kgctl",
		Short:         "Build and query knowledge graphs from text",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			return logger.Init("development", level)
		},
	}

	root.PersistentFlags().StringVar(&opts.graphPath, "graph", constants.DefaultGraphFile, "Path to the knowledge graph JSON file")
	root.PersistentFlags().StringVar(&opts.extractor, "extractor", "regex", "Entity extractor: regex or prose")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log checkpoint details to stderr")

	root.AddCommand(
		newExtractCommand(opts),
		newIngestCommand(opts),
		newQueryCommand(opts),
	)
	return root
}

// Execute runs kgctl and exits non-zero on failure
func Execute() {
	defer logger.Sync()
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *options) newExtractor() (kg.Extractor, error) {
	switch strings.ToLower(o.extractor) {
	case "regex", "prose":
		return kg.NewExtractor(o.extractor), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q (want regex or prose)", o.extractor)
	}
}

// textFromArgs joins positional args, falling back to stdin when there are none
func textFromArgs(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}
