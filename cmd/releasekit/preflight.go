package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/releasekit/internal/preflight"
)

var preflightFormat string

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Run the configured preflight checks",
	Args:  cobra.NoArgs,
	RunE:  runPreflight,
}

func init() {
	preflightCmd.Flags().StringVar(&preflightFormat, "format", "", "Output format (json)")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	v := preflight.FromConfig(s.cfg.Preflight, s.runner(), s.dir)
	result := v.Validate(cmd.Context())

	out := cmd.OutOrStdout()
	if preflightFormat == "json" {
		text, err := preflight.FormatResultJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
	} else {
		fmt.Fprint(out, preflight.FormatResult(result))
	}
	if !result.Success {
		return &exitError{code: 1, err: fmt.Errorf("check %q failed", result.FailedCheck)}
	}
	return nil
}
