package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

func newStatusCmd() *cobra.Command {
	var (
		jobType string
		history int
	)
	cmd := &cobra.Command{
		Use:   "status <subject_id>",
		Short: "Prints the batch status of a subject",
		Long: `Prints the latest batch status entry for the subject and job type as JSON.
With --history, prints up to that many entries, newest first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := graph.ParseJobType(jobType)
			if err != nil {
				return err
			}
			store := appInstance.GetStore()

			var out any
			if history > 0 {
				entries, err := store.History(cmd.Context(), args[0], job, history)
				if err != nil {
					return err
				}
				out = entries
			} else {
				latest, err := store.Latest(cmd.Context(), args[0], job)
				if errors.Is(err, graph.ErrNotFound) {
					return fmt.Errorf("no %s batch recorded for %s", job, args[0])
				}
				if err != nil {
					return err
				}
				out = latest
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&jobType, "job", string(graph.JobContrib), "job type: contrib, contrib-place, place or place-contrib")
	cmd.Flags().IntVar(&history, "history", 0, "print up to this many entries instead of the latest")
	return cmd
}
