package cmd

import (
	"context"
	"fmt"

	"github.com/CanopyHQ/xylem/internal/forge"
	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <memory_id>",
	Short: "Verify all citations for a memory against the source host",
	Long: `Verify all citations for a memory by re-reading each cited location
from the source host. Reports per-citation results; a fingerprint mismatch is
advisory and does not make a citation invalid.

Requires XYLEM_GITHUB_TOKEN or GITHUB_TOKEN.

Examples:
  xylem verify 01J8ZQ4X6T...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		revision, _ := cmd.Flags().GetString("revision")
		return runVerify(args[0], revision)
	},
}

func init() {
	verifyCmd.Flags().String("revision", forge.DefaultRevision, "Default revision for citations that pin none")
}

func runVerify(memoryID, revision string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec, err := store.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}

	client, err := forge.NewClient()
	if err != nil {
		return err
	}

	var citations []forge.Citation
	for _, c := range rec.Citations {
		citations = append(citations, forge.Citation{
			Path:               c.Path,
			StartLine:          c.StartLine,
			EndLine:            c.EndLine,
			Revision:           c.Revision,
			ContentFingerprint: c.ContentFingerprint,
		})
	}

	fmt.Printf("Verifying %d citation(s) for memory %s...\n\n", len(citations), memoryID)

	result := forge.NewVerifier(client).Verify(ctx, rec.Repository, citations, revision)

	for _, cr := range result.Citations {
		loc := fmt.Sprintf("%s:%d-%d", cr.Path, cr.StartLine, cr.EndLine)
		switch {
		case !cr.Exists && cr.Error != "":
			fmt.Printf("⚠️  %s (%s)\n", loc, cr.Error)
		case !cr.Exists:
			fmt.Printf("❌ %s (missing)\n", loc)
		case cr.FingerprintMatch != nil && !*cr.FingerprintMatch:
			fmt.Printf("✅ %s (exists, content drifted)\n", loc)
		default:
			fmt.Printf("✅ %s\n", loc)
		}
	}

	fmt.Printf("\nResults: %d valid, %d invalid\n", result.ValidCount, result.InvalidCount)
	if result.Valid {
		fmt.Println("All citations resolve. Consider: xylem refresh " + memoryID)
	} else {
		fmt.Println("Some citations no longer resolve. Consider: xylem invalidate or xylem supersede " + memoryID)
	}
	return nil
}
