package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CanopyHQ/xylem/internal/forge"
	"github.com/CanopyHQ/xylem/internal/memory"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store <fact>",
	Short: "Store a fact with code citations",
	Long: `Store a fact about a repository, anchored to one or more code citations.

Citations use the form path:start-end or path:start-end@revision and at
least one is required.

Examples:
  xylem store "retry backoff is capped at 30s" --cite "internal/queue/retry.go:42-55"
  xylem store "auth middleware rejects expired tokens" --repo octocat/hello-world \
    --cite "middleware/auth.go:10-31@a1b2c3d" --subject auth --reason "tripped us twice"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		subject, _ := cmd.Flags().GetString("subject")
		reason, _ := cmd.Flags().GetString("reason")
		cites, _ := cmd.Flags().GetStringArray("cite")
		return runStore(repo, subject, args[0], reason, cites)
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List active memories, most recently refreshed first",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		limit, _ := cmd.Flags().GetInt("limit")
		return runRecent(repo, limit)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <path>",
	Short: "Find memories citing a file path",
	Long: `Find active memories with a citation whose path contains the given
fragment. Matching is substring: "store.go" matches "internal/memory/store.go".

Examples:
  xylem search internal/queue
  xylem search retry.go --repo octocat/hello-world`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		return runSearch(repo, args[0])
	},
}

var appliedCmd = &cobra.Command{
	Use:   "applied <memory_id>",
	Short: "Record that a memory was consulted and acted upon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		sessionID, _ := cmd.Flags().GetString("session")
		return runApplied(args[0], agentID, sessionID)
	},
}

func init() {
	storeCmd.Flags().String("repo", "", "Repository (owner/name, default: detect from current checkout)")
	storeCmd.Flags().String("subject", "", "Short topic label")
	storeCmd.Flags().String("reason", "", "Why the fact matters")
	storeCmd.Flags().StringArray("cite", nil, "Citation as path:start-end[@revision] (repeatable)")

	recentCmd.Flags().String("repo", "", "Repository (owner/name, default: detect from current checkout)")
	recentCmd.Flags().Int("limit", memory.DefaultRecentLimit, "Maximum memories to list")

	searchCmd.Flags().String("repo", "", "Repository (owner/name, default: detect from current checkout)")

	appliedCmd.Flags().String("agent", "", "Agent identifier")
	appliedCmd.Flags().String("session", "", "Session identifier")
}

// resolveRepo falls back to the current git checkout when --repo is not set
func resolveRepo(repo string) (string, error) {
	if repo != "" {
		return repo, nil
	}
	detected, err := forge.DetectCurrentRepository()
	if err != nil {
		return "", fmt.Errorf("no --repo given and detection failed: %w", err)
	}
	return detected, nil
}

// parseCiteFlag parses "path:start-end" or "path:start-end@revision"
func parseCiteFlag(raw string) (memory.Citation, error) {
	var c memory.Citation

	spec := raw
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		c.Revision = spec[at+1:]
		spec = spec[:at]
	}

	colon := strings.LastIndex(spec, ":")
	if colon < 0 {
		return c, fmt.Errorf("citation %q must be path:start-end", raw)
	}
	c.Path = spec[:colon]

	lines := strings.SplitN(spec[colon+1:], "-", 2)
	start, err := strconv.Atoi(lines[0])
	if err != nil {
		return c, fmt.Errorf("citation %q has a bad start line: %w", raw, err)
	}
	end := start
	if len(lines) == 2 {
		end, err = strconv.Atoi(lines[1])
		if err != nil {
			return c, fmt.Errorf("citation %q has a bad end line: %w", raw, err)
		}
	}
	c.StartLine = start
	c.EndLine = end
	return c, nil
}

func runStore(repo, subject, fact, reason string, cites []string) error {
	repo, err := resolveRepo(repo)
	if err != nil {
		return err
	}

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

	rec, err := store.Create(context.Background(), repo, subject, fact, citations, reason, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("✅ Stored %s (%d citation(s))\n", rec.ID, len(rec.Citations))
	return nil
}

func runRecent(repo string, limit int) error {
	repo, err := resolveRepo(repo)
	if err != nil {
		return err
	}

	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	records, err := store.GetRecent(context.Background(), repo, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No active memories for %s.\n", repo)
		return nil
	}

	for _, rec := range records {
		printRecord(rec)
	}
	return nil
}

func runSearch(repo, path string) error {
	repo, err := resolveRepo(repo)
	if err != nil {
		return err
	}

	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	records, err := store.SearchByPath(context.Background(), repo, path)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No active memories citing %q in %s.\n", path, repo)
		return nil
	}

	for _, rec := range records {
		printRecord(rec)
	}
	return nil
}

func runApplied(memoryID, agentID, sessionID string) error {
	store, err := memory.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	event, err := store.LogApplied(context.Background(), memoryID, agentID, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Logged usage event %s for memory %s\n", event.ID, event.MemoryID)
	return nil
}

func printRecord(rec *memory.Record) {
	fmt.Printf("%s  [%s]  refreshed %s  (verified %dx)\n",
		rec.ID, rec.Subject, rec.RefreshedAt.Format("Jan 2 15:04"), rec.VerificationCount)
	fmt.Printf("  %s\n", rec.Fact)
	for _, c := range rec.Citations {
		loc := fmt.Sprintf("%s:%d-%d", c.Path, c.StartLine, c.EndLine)
		if c.Revision != "" {
			loc += "@" + c.Revision
		}
		fmt.Printf("  ↳ %s\n", loc)
	}
}
