package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kgchat/backend/internal/kg"
)

// queryOutput is the fused context plus the seeds that matched, which the API does not expose
type queryOutput struct {
	Entities  []kg.Entity   `json:"entities"`
	Relations []kg.Relation `json:"relations"`
	Score     float64       `json:"score"`
	Seeds     []string      `json:"seeds"`
}

func newQueryCommand(opts *options) *cobra.Command {
	var (
		limit int
		rank  string
	)

	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Print the fused context for a query as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rank != "insertion" && rank != "weight" {
				return fmt.Errorf("unknown rank %q (want insertion or weight)", rank)
			}
			text, err := textFromArgs(cmd, args)
			if err != nil {
				return err
			}

			g, err := loadGraph(opts.graphPath, false)
			if err != nil {
				return err
			}

			engine := kg.NewEngine(kg.WithRelationOrder(kg.ParseRelationOrder(rank)))
			fused := engine.Query(text, g, limit)

			seeds := fused.Seeds
			if seeds == nil {
				seeds = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(queryOutput{
				Entities:  fused.Entities,
				Relations: fused.Relations,
				Score:     fused.Score,
				Seeds:     seeds,
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", kg.DefaultLimit, "Maximum entities and relations to return")
	cmd.Flags().StringVar(&rank, "rank", "insertion", "Relation order before truncation: insertion or weight")
	return cmd
}
