package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB       bool
	resetFiles    bool
	resetDebug    bool
	resetDebugDir string
	resetYes      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Ledger, Output Files, Debug Snapshots)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetDebug {
			resetDB = true
			resetFiles = true
			resetDebug = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No ledger configured, skipping database.")
			} else if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all ledger tables?") {
				fmt.Println("🗑️  Clearing Ledger...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all redacted files in %s?", cfg.OutputDir)) {
				fmt.Println("🗑️  Clearing Output Files...")
				if err := clearDir(cfg.OutputDir); err != nil {
					utils.ShowError("Failed to clear output files", err, nil)
					return err
				}
			}
		}

		if resetDebug && resetDebugDir != "" {
			if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all debug snapshots in %s?", resetDebugDir)) {
				fmt.Println("🗑️  Clearing Debug Snapshots...")
				if err := clearDir(resetDebugDir); err != nil {
					utils.ShowError("Failed to clear debug snapshots", err, nil)
					return err
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "ledger", false, "Clear the PostgreSQL job ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear redacted outputs ($VEIL_OUTPUT_DIR)")
	resetCmd.Flags().BoolVar(&resetDebug, "debug", false, "Clear debug snapshots")
	resetCmd.Flags().StringVar(&resetDebugDir, "debug-dir", "debug_frames", "Debug snapshot directory to clear")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// confirm asks a yes/no question on w. Anything but y or yes, including
// closed stdin, counts as no.
func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	answer, err := r.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// clearDir empties dir but keeps the directory itself, so a configured
// output or snapshot path stays valid for the next run. A missing dir is
// not an error.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	return nil
}
