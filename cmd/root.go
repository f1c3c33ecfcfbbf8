package cmd

import (
	"github.com/spf13/cobra"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "xylem",
	Short: "Xylem - Verified Memory Ledger",
	Long:  "Repository-scoped, code-cited facts for AI coding agents, served via Model Context Protocol.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the xylem command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// store, recent, search, applied (defined in record.go)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(appliedCmd)

	// refresh, invalidate, supersede (defined in lifecycle.go)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(supersedeCmd)

	// verify (defined in verify.go)
	rootCmd.AddCommand(verifyCmd)

	// doctor (defined in doctor.go)
	rootCmd.AddCommand(doctorCmd)
}
