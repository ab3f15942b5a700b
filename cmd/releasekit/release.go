package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/releasekit/internal/pipeline"
	"github.com/lyndonlyu/releasekit/internal/telemetry"
	"github.com/lyndonlyu/releasekit/internal/version"
)

var (
	releaseBump   string
	releaseDryRun bool
	releaseYes    bool
	releaseTrace  string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Cut a release",
	Long:  "Compute the next version from conventional commits, update the version file and changelog, commit, tag, push, create the GitHub release and verify publication. Any failure after the first write is rolled back.",
	Args:  cobra.NoArgs,
	RunE:  runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseBump, "bump", "", "Force a bump type (major, minor, patch)")
	releaseCmd.Flags().BoolVar(&releaseDryRun, "dry-run", false, "Show the planned release without changing anything")
	releaseCmd.Flags().BoolVarP(&releaseYes, "yes", "y", false, "Skip the confirmation prompt")
	releaseCmd.Flags().StringVar(&releaseTrace, "trace", "", "Write stage spans as JSON to this file")
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func runRelease(cmd *cobra.Command, args []string) error {
	bump, err := version.ParseBump(releaseBump)
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if releaseDryRun {
		s.cfg.DryRun = true
	}
	if releaseYes {
		s.cfg.SkipConfirmation = true
	}

	deps, err := s.deps(cmd)
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()
	deps.Metrics = metrics

	tracePath := releaseTrace
	if tracePath == "" && s.cfg.Telemetry.Trace {
		tracePath = filepath.Join(s.cfg.StateDir, "trace.jsonl")
	}
	if tracePath != "" {
		f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("trace file: %w", err)
		}
		defer f.Close()
		shutdown, err := telemetry.SetupTracing(f, buildVersion)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(cmd.Context()); err != nil {
				s.log.Warn("trace flush failed", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleBanner.Render("releasekit")+styleDim.Render(" "+s.dir))
	res := pipeline.New(s.cfg, deps).Release(ctx, bump)

	if path := s.cfg.Telemetry.MetricsFile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			s.log.Warn("metrics export failed", "path", path, "err", err)
		}
	}
	return report(out, res)
}

func report(out io.Writer, res pipeline.Result) error {
	if res.Success && res.DryRun {
		fmt.Fprintln(out, renderMarkdown(pipeline.PreviewMarkdown(res)))
		fmt.Fprintln(out, styleWarn.Render("Dry run: nothing was changed."))
		return nil
	}
	if res.Success {
		fmt.Fprintf(out, "%s %s -> %s (%s, %d commits) in %s\n",
			styleSuccess.Render("Released"), res.PreviousVersion, res.Tag, res.Bump, res.CommitCount, res.Duration.Round(time.Millisecond))
		if res.GithubReleaseURL != "" {
			fmt.Fprintln(out, "  release: "+res.GithubReleaseURL)
		}
		if res.PublishURL != "" {
			fmt.Fprintf(out, "  published: %s (%d polls)\n", res.PublishURL, res.Attempts)
		}
		return nil
	}

	fmt.Fprintf(out, "%s %s\n", styleError.Render("Release failed:"), res.Error)
	if res.FailedCheck != "" {
		fmt.Fprintf(out, "  failed check: %s\n", res.FailedCheck)
	}
	code := 1
	if rb := res.Rollback; rb != nil {
		fmt.Fprintf(out, "  rollback %s: %d operations undone in %s\n", renderQuality(string(rb.Quality)), len(rb.RolledBack), rb.Duration.Round(time.Millisecond))
		if res.RollbackError != "" {
			fmt.Fprintln(out, "  "+styleError.Render(res.RollbackError))
			code = 2
		}
	}
	if res.RestoreFailed {
		fmt.Fprintln(out, "  "+styleError.Render("files could not be restored from backup; see the audit log"))
		code = 2
	}
	fmt.Fprintln(out, styleDim.Render("  run "+res.RunID))
	return &exitError{code: code, err: fmt.Errorf("release %s failed (%s)", res.RunID, res.ErrorKind)}
}
