package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent redaction jobs from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			err := fmt.Errorf("no ledger configured")
			utils.ShowError("Set --db or POSTGRES_HOST to use history", err, nil)
			return err
		}

		jobs, err := DB.ListJobs(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list jobs", err, nil)
			return err
		}
		stats, err := DB.Stats(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to read ledger totals", err, nil)
			return err
		}
		renderHistory(os.Stdout, jobs, stats)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of jobs to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func renderHistory(out io.Writer, jobs []store.JobRecord, stats store.Stats) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found in ledger.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tKIND\tEFFECT\tFACES\tINPUT\tOUTPUT\tFINISHED")
	fmt.Fprintln(w, "---\t------\t----\t------\t-----\t-----\t------\t--------")

	for _, j := range jobs {
		output := j.OutputPath
		if j.Status == store.StatusFailed {
			output = "(" + j.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID.String()[:8], j.Status, j.Kind, j.Effect, j.FacesDetected,
			j.InputPath, output, j.FinishedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d jobs, %d failed, %d faces redacted\n", stats.Jobs, stats.Failed, stats.Faces)
}
