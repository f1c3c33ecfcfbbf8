package cmd

import (
	"context"
	"fmt"

	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <memory_id>",
	Short: "Mark a memory as re-verified and still accurate",
	Long: `Mark a memory as re-verified: bumps its verification count and moves
it to the front of recency listings. Fails if the memory is no longer active.

Examples:
  xylem refresh 01J8ZQ4X6T...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("by")
		return runRefresh(args[0], actor)
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <memory_id>",
	Short: "Mark a memory as no longer true",
	Long: `Mark a memory invalid. The record stays queryable for audit but is
excluded from active listings. This is terminal; store a new memory instead
of trying to re-activate one.

Examples:
  xylem invalidate 01J8ZQ4X6T... --reason "config moved to YAML"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("by")
		return runInvalidate(args[0], reason, actor)
	},
}

var supersedeCmd = &cobra.Command{
	Use:   "supersede <memory_id> <corrected_fact>",
	Short: "Replace a memory with a corrected fact",
	Long: `Replace a memory with a corrected fact. A new active record is created
with the old record's citations (unless --cite overrides them); the old record
is marked superseded and points at its replacement.

Examples:
  xylem supersede 01J8ZQ4X6T... "retry backoff is capped at 60s, not 30s"
  xylem supersede 01J8ZQ4X6T... "handler moved" --cite "internal/api/handler.go:12-40"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cites, _ := cmd.Flags().GetStringArray("cite")
		actor, _ := cmd.Flags().GetString("by")
		return runSupersede(args[0], args[1], cites, actor)
	},
}

func init() {
	refreshCmd.Flags().String("by", "", "Actor identifier for audit")
	invalidateCmd.Flags().String("reason", "", "Why the fact no longer holds")
	invalidateCmd.Flags().String("by", "", "Actor identifier for audit")
	supersedeCmd.Flags().StringArray("cite", nil, "Replacement citation as path:start-end[@revision] (repeatable)")
	supersedeCmd.Flags().String("by", "", "Actor identifier for audit")
}

func runRefresh(memoryID, actor string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	rec, err := store.Refresh(context.Background(), memoryID, actor)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Refreshed %s (verified %dx)\n", rec.ID, rec.VerificationCount)
	return nil
}

func runInvalidate(memoryID, reason, actor string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	rec, err := store.Invalidate(context.Background(), memoryID, reason, actor)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Invalidated %s\n", rec.ID)
	return nil
}

func runSupersede(memoryID, fact string, cites []string, actor string) error {
	var citations []memory.Citation
	for _, raw := range cites {
		c, err := parseCiteFlag(raw)
		if err != nil {
			return err
		}
		citations = append(citations, c)
	}

	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	newRec, err := store.Supersede(context.Background(), memoryID, fact, citations, actor)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Superseded %s → %s\n", memoryID, newRec.ID)
	return nil
}
