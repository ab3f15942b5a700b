package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/releasekit/internal/ledger"
)

var recoverRollback bool

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List operations left behind by interrupted releases",
	Long:  "Replay the release journals and list operations whose effect may still be live. With --rollback, undo them newest first.",
	Args:  cobra.NoArgs,
	RunE:  runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverRollback, "rollback", false, "Undo the orphaned operations")
}

func runRecover(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := ledger.ReconcileDir(s.cfg.JournalDir())
	if err != nil {
		return fmt.Errorf("journal error: %w", err)
	}
	out := cmd.OutOrStdout()
	var pending []ledger.Recovery
	for _, r := range recs {
		if len(r.Orphans) > 0 {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, styleSuccess.Render("[OK]")+" no orphaned operations")
		return nil
	}
	for _, r := range pending {
		printRecovery(out, r)
	}
	if !recoverRollback {
		fmt.Fprintln(out, styleDim.Render("run with --rollback to undo them"))
		return &exitError{code: 1, err: fmt.Errorf("%d interrupted runs need recovery", len(pending))}
	}

	run := s.runner()
	repo, err := s.repo(run)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range pending {
		opts := []ledger.Option{ledger.WithLogger(s.log.With("run", r.RunID))}
		if repo != nil {
			opts = append(opts, ledger.WithGit(repo))
		}
		if client := s.githubClient(); client != nil {
			opts = append(opts, ledger.WithReleases(client))
		}
		j, err := ledger.OpenJournal(s.cfg.JournalDir(), r.RunID)
		if err == nil {
			opts = append(opts, ledger.WithJournal(j))
		}

		report := ledger.Restore(r.Orphans, opts...).PerformRollback(cmd.Context())
		fmt.Fprintf(out, "%s %s: %d undone\n", r.RunID, renderQuality(string(report.Quality)), len(report.RolledBack))
		if !report.OK() {
			failed++
			fmt.Fprintln(out, "  "+styleError.Render(report.Err().Error()))
			continue
		}
		if j != nil && !r.Finished() {
			if err := j.Finish(ledger.OutcomeRolledBack); err != nil {
				s.log.Warn("journal finish failed", "run", r.RunID, "err", err)
			}
		}
	}
	if failed > 0 {
		return &exitError{code: 2, err: fmt.Errorf("%d runs still need manual intervention", failed)}
	}
	return nil
}

func printRecovery(out io.Writer, r ledger.Recovery) {
	outcome := r.Outcome
	if outcome == "" {
		outcome = "interrupted"
	}
	fmt.Fprintf(out, "%s %s\n", styleBanner.Render(r.RunID), styleWarn.Render(outcome))
	for _, op := range r.Orphans {
		fmt.Fprintf(out, "  %-15s %-12s %s\n", op.Type(), op.State, op.Description)
	}
}
