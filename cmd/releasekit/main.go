package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time with -ldflags "-X main.buildVersion=...".
var buildVersion = "v0.1.0"

var (
	configPath string
	repoDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "releasekit",
	Short:         "Transactional releases for Deno and JSR packages",
	Long:          "releasekit bumps the version, updates the changelog, commits, tags and pushes, creates the GitHub release and confirms publication on JSR. Any failure rolls every step back.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "releasekit "+buildVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default <dir>/.releasekit.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoDir, "dir", "C", ".", "Repository directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.AddCommand(versionCmd, releaseCmd, preflightCmd, historyCmd, auditCmd, recoverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("error: ")+err.Error())
		os.Exit(exitCode(err))
	}
}
