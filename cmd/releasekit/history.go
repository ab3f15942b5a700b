package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/releasekit/internal/history"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past releases, or the operations of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyFormat, "format", "", "Output format (json)")
}

func showHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	db, err := history.Open(s.cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("history error: %w", err)
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		ops, err := db.Operations(run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s %s -> %s\n", styleBanner.Render(run.ID), run.Status, run.PreviousVersion, run.Version)
		if run.RollbackQuality != "" {
			fmt.Fprintln(out, "rollback "+renderQuality(run.RollbackQuality))
		}
		if run.Error != "" {
			fmt.Fprintln(out, styleError.Render(run.Error))
		}
		fmt.Fprint(out, history.FormatOperations(ops))
		return nil
	}

	runs, err := db.ListRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if historyFormat == "json" {
		text, err := history.FormatRunListJSON(runs)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}
	fmt.Fprint(out, history.FormatRunList(runs))
	return nil
}
