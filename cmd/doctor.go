package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CanopyHQ/xylem/internal/forge"
	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local Xylem setup",
	Long: `Check the local Xylem setup: data directory, database, source host
credential and current repository detection.

Examples:
  xylem doctor`,
	RunE: func(cmd *cobra.Command, args []string) error { return runDoctor() },
}

func runDoctor() error {
	fmt.Println("Xylem Doctor")
	fmt.Println()

	ok := true

	// Data dir + database
	store, err := memory.NewStore()
	if err != nil {
		fmt.Printf("❌ memory store: %v\n", err)
		ok = false
	} else {
		defer store.Close()
		count, err := store.Count(context.Background())
		if err != nil {
			fmt.Printf("❌ database query: %v\n", err)
			ok = false
		} else {
			size, _ := store.Size()
			fmt.Printf("✅ database: %d memories (%s)\n", count, size)
		}
	}

	// Source host credential
	if _, err := forge.NewClient(); err != nil {
		fmt.Printf("⚠️  source host: %v\n", err)
		fmt.Println("   citation reads and verification will fail until a token is set")
	} else {
		fmt.Println("✅ source host credential configured")
	}

	// Repository detection
	if repo, err := forge.DetectCurrentRepository(); err != nil {
		fmt.Println("ℹ️  not inside a git checkout; pass --repo explicitly to CLI commands")
	} else {
		fmt.Printf("✅ current repository: %s\n", repo)
	}

	if dataDir := os.Getenv("XYLEM_DATA_DIR"); dataDir != "" {
		fmt.Printf("ℹ️  XYLEM_DATA_DIR=%s\n", dataDir)
	}

	fmt.Println()
	if !ok {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("All good.")
	return nil
}
