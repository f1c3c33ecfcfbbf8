package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CanopyHQ/xylem/internal/mcp"
	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an MCP client such as Claude Code, Cursor, etc.

Examples:
  xylem serve
  xylem mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xylem %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [repository]",
	Short: "Show ledger statistics",
	Long: `Show ledger statistics. With a repository argument, show per-repository
counts by status; otherwise show store-wide totals.

Examples:
  xylem status
  xylem status octocat/hello-world`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := ""
		if len(args) == 1 {
			repo = args[0]
		}
		return runStatus(repo)
	},
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🌲 Xylem - Verified Memory Ledger")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "It is not an interactive CLI — connect an MCP client (Claude Code, Cursor, etc.).")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'xylem help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	mcp.Version = Version

	server, err := mcp.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return server.Start()
}

func runStatus(repository string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	if repository == "" {
		count, _ := store.Count(ctx)
		size, _ := store.Size()
		last, _ := store.LastActivity(ctx)
		lastStr := "never"
		if !last.IsZero() {
			lastStr = last.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("Xylem Ledger Status:\n")
		fmt.Printf("  Total Memories: %d\n", count)
		fmt.Printf("  Database Size: %s\n", size)
		fmt.Printf("  Last Activity: %s\n", lastStr)
		return nil
	}

	stats, err := store.Stats(ctx, repository)
	if err != nil {
		return fmt.Errorf("failed to aggregate stats: %w", err)
	}
	fmt.Printf("Xylem Ledger Status for %s:\n", repository)
	fmt.Printf("  Active: %d\n", stats.ActiveCount)
	fmt.Printf("  Superseded: %d\n", stats.SupersededCount)
	fmt.Printf("  Invalid: %d\n", stats.InvalidCount)
	fmt.Printf("  Avg Verifications: %.1f\n", stats.AvgVerifications)
	if stats.FirstMemoryAt != nil {
		fmt.Printf("  First Memory: %s\n", stats.FirstMemoryAt.Format("2006-01-02 15:04:05"))
	}
	if stats.LatestMemoryAt != nil {
		fmt.Printf("  Latest Activity: %s\n", stats.LatestMemoryAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
