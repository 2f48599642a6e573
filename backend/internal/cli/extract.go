package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kgchat/backend/internal/kg"
)

type extractedMention struct {
	Surface string `json:"surface"`
	ID      string `json:"id"`
	Type    string `json:"type"`
}

func newExtractCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "extract [text...]",
		Short: "Print the entity mentions found in text (reads stdin when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := opts.newExtractor()
			if err != nil {
				return err
			}
			text, err := textFromArgs(cmd, args)
			if err != nil {
				return err
			}

			mentions := make([]extractedMention, 0)
			for _, m := range kg.CollectMentions(x, text) {
				mentions = append(mentions, extractedMention{
					Surface: m.Surface,
					ID:      kg.EntityID(m.Surface),
					Type:    m.Type,
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(mentions)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SURFACE\tID\tTYPE")
			for _, m := range mentions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Surface, m.ID, m.Type)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
