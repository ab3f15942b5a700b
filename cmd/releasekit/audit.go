package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditCount int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the release audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ok, brokenAt, err := s.audit.Verify()
		if err != nil {
			return fmt.Errorf("audit error: %w", err)
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s chain broken at record %d\n", styleError.Render("[BROKEN]"), brokenAt)
			return &exitError{code: 1, err: fmt.Errorf("audit chain broken at record %d", brokenAt)}
		}
		fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render("[OK]")+" audit chain intact")
		return nil
	},
}

var auditLogCmd = &cobra.Command{
	Use:   "log [run-id]",
	Short: "Show recent audit records, or those of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		records, err := s.audit.Recent(auditCount)
		if len(args) == 1 {
			records, err = s.audit.ForRun(args[0])
		}
		if err != nil {
			return fmt.Errorf("audit error: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit records yet.")
			return nil
		}
		for _, r := range records {
			line := fmt.Sprintf("%s %-9s %-26s %s", r.Timestamp, r.Severity, r.Event, r.Message)
			if r.Error != "" {
				line += styleError.Render(" " + r.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	auditLogCmd.Flags().IntVarP(&auditCount, "count", "n", 20, "Number of records to show")
	auditCmd.AddCommand(auditVerifyCmd, auditLogCmd)
}
