package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/veil/internal/detect"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List detection models, their tuning and cascade files",
	Run: func(cmd *cobra.Command, args []string) {
		renderModels(os.Stdout, cascadeDir)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func renderModels(out io.Writer, dir string) {
	fmt.Fprintf(out, "Backend: %s\nCascades: %s\n\n", detect.Backend, dir)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MODEL\tVARIANT\tSCALE\tMIN NEIGHBORS\tCASCADE\tSTATUS\tNOTE")
	fmt.Fprintln(w, "-----\t-------\t-----\t-------------\t-------\t------\t----")
	for _, m := range types.Models {
		tuning := detect.TuningFor(m)
		file := detect.CascadeFile(m)
		status := "ok"
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			status = "missing"
		}
		note := "-"
		if detect.SharesCascade(m) {
			note = "shared frontal cascade, tuning only"
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\t%s\t%s\n",
			m.ExternalName(), m, tuning.ScaleFactor, tuning.MinNeighbors, file, status, note)
	}
	w.Flush()
}
