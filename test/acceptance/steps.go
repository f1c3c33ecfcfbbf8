package acceptance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/CanopyHQ/xylem/internal/forge"
	"github.com/CanopyHQ/xylem/internal/memory"
)

// TestContext holds state between steps
type TestContext struct {
	ctx     context.Context
	store   *memory.Store
	dataDir string

	record       *memory.Record
	lastErr      error
	verifyResult *forge.VerifyResult

	hostFiles map[string]string
}

// hostReader serves citation reads from the scenario's fake source host.
type hostReader struct {
	files map[string]string
}

func (h *hostReader) ReadCitation(ctx context.Context, repository, path string, lineStart, lineEnd int, revision string) (forge.CitationSlice, error) {
	content, ok := h.files[path]
	if !ok {
		return forge.CitationSlice{Exists: false}, nil
	}
	return forge.CitationSlice{
		Exists:  true,
		Content: forge.SliceLines(content, lineStart, lineEnd),
	}, nil
}

// InitializeScenario sets up step definitions
func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &TestContext{ctx: context.Background()}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "xylem-acceptance-*")
		if err != nil {
			return ctx, err
		}
		os.Setenv("XYLEM_DATA_DIR", dir)
		store, err := memory.NewStore()
		if err != nil {
			return ctx, err
		}
		tc.store = store
		tc.dataDir = dir
		tc.record = nil
		tc.lastErr = nil
		tc.verifyResult = nil
		tc.hostFiles = map[string]string{}
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.store != nil {
			tc.store.Close()
		}
		os.RemoveAll(tc.dataDir)
		os.Unsetenv("XYLEM_DATA_DIR")
		return ctx, nil
	})

	// Storing facts
	ctx.Step(`^the ledger is empty$`, tc.ledgerIsEmpty)
	ctx.Step(`^I store the fact "([^"]*)" for "([^"]*)" cited at "([^"]*)"$`, tc.storeFact)
	ctx.Step(`^I store the fact "([^"]*)" for "([^"]*)" with no citations$`, tc.storeFactNoCitations)
	ctx.Step(`^a stored fact "([^"]*)" for "([^"]*)" cited at "([^"]*)"$`, tc.storedFact)
	ctx.Step(`^the fact should be stored$`, tc.factStored)
	ctx.Step(`^the fact should be rejected$`, tc.factRejected)

	// Lifecycle
	ctx.Step(`^I refresh the memory$`, tc.refreshMemory)
	ctx.Step(`^I invalidate the memory with reason "([^"]*)"$`, tc.invalidateMemory)
	ctx.Step(`^I supersede the memory with "([^"]*)"$`, tc.supersedeMemory)
	ctx.Step(`^the memory should be (active|invalid|superseded)$`, tc.memoryHasStatus)
	ctx.Step(`^the verification count should be (\d+)$`, tc.verificationCountIs)
	ctx.Step(`^the operation should fail with an invalid state error$`, tc.failedWithInvalidState)
	ctx.Step(`^the memory should still say "([^"]*)"$`, tc.memoryStillSays)

	// Retrieval
	ctx.Step(`^listing recent memories for "([^"]*)" should show "([^"]*)"$`, tc.recentShows)
	ctx.Step(`^listing recent memories for "([^"]*)" should not show "([^"]*)"$`, tc.recentDoesNotShow)
	ctx.Step(`^listing recent memories for "([^"]*)" should be empty$`, tc.recentIsEmpty)
	ctx.Step(`^searching "([^"]*)" for path "([^"]*)" should return (\d+) memor(?:y|ies)$`, tc.searchReturns)

	// Verification against the source host
	ctx.Step(`^the source host serves "([^"]*)" with content "([^"]*)"$`, tc.hostServes)
	ctx.Step(`^I verify the memory's citations$`, tc.verifyCitations)
	ctx.Step(`^the verification should report (\d+) valid and (\d+) invalid$`, tc.verificationReports)
	ctx.Step(`^the verification verdict should be (valid|invalid)$`, tc.verificationVerdict)

	// Usage telemetry
	ctx.Step(`^I log that the memory was applied$`, tc.logApplied)
	ctx.Step(`^the memory should have (\d+) usage events?$`, tc.usageEventCount)
}

func parseCiteSpec(spec string) (memory.Citation, error) {
	colon := strings.LastIndex(spec, ":")
	if colon < 0 {
		return memory.Citation{}, fmt.Errorf("citation %q must be path:start-end", spec)
	}
	c := memory.Citation{Path: spec[:colon]}
	lines := strings.SplitN(spec[colon+1:], "-", 2)
	start, err := strconv.Atoi(lines[0])
	if err != nil {
		return c, err
	}
	end := start
	if len(lines) == 2 {
		if end, err = strconv.Atoi(lines[1]); err != nil {
			return c, err
		}
	}
	c.StartLine = start
	c.EndLine = end
	return c, nil
}

func (tc *TestContext) ledgerIsEmpty() error {
	count, err := tc.store.Count(tc.ctx)
	if err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected empty ledger, found %d memories", count)
	}
	return nil
}

func (tc *TestContext) storeFact(fact, repository, cite string) error {
	c, err := parseCiteSpec(cite)
	if err != nil {
		return err
	}
	tc.record, tc.lastErr = tc.store.Create(tc.ctx, repository, "acceptance", fact,
		[]memory.Citation{c}, "", "acceptance-suite")
	return nil
}

func (tc *TestContext) storeFactNoCitations(fact, repository string) error {
	tc.record, tc.lastErr = tc.store.Create(tc.ctx, repository, "acceptance", fact, nil, "", "acceptance-suite")
	return nil
}

func (tc *TestContext) storedFact(fact, repository, cite string) error {
	if err := tc.storeFact(fact, repository, cite); err != nil {
		return err
	}
	return tc.lastErr
}

func (tc *TestContext) factStored() error {
	if tc.lastErr != nil {
		return fmt.Errorf("expected store to succeed, got: %v", tc.lastErr)
	}
	if tc.record == nil || tc.record.ID == "" {
		return fmt.Errorf("expected a stored record with an ID")
	}
	return nil
}

func (tc *TestContext) factRejected() error {
	if tc.lastErr == nil {
		return fmt.Errorf("expected store to be rejected")
	}
	if !errors.Is(tc.lastErr, memory.ErrInvalidCitation) {
		return fmt.Errorf("expected a citation error, got: %v", tc.lastErr)
	}
	return nil
}

func (tc *TestContext) refreshMemory() error {
	if tc.record == nil {
		return fmt.Errorf("no memory in scenario")
	}
	rec, err := tc.store.Refresh(tc.ctx, tc.record.ID, "acceptance-suite")
	if err != nil {
		tc.lastErr = err
		return nil
	}
	tc.record = rec
	return nil
}

func (tc *TestContext) invalidateMemory(reason string) error {
	if tc.record == nil {
		return fmt.Errorf("no memory in scenario")
	}
	rec, err := tc.store.Invalidate(tc.ctx, tc.record.ID, reason, "acceptance-suite")
	if err != nil {
		tc.lastErr = err
		return nil
	}
	tc.record = rec
	return nil
}

func (tc *TestContext) supersedeMemory(fact string) error {
	if tc.record == nil {
		return fmt.Errorf("no memory in scenario")
	}
	rec, err := tc.store.Supersede(tc.ctx, tc.record.ID, fact, nil, "acceptance-suite")
	if err != nil {
		tc.lastErr = err
		return nil
	}
	// Keep following the replacement so chained steps act on the live record
	tc.record = rec
	return nil
}

func (tc *TestContext) memoryHasStatus(status string) error {
	rec, err := tc.store.Get(tc.ctx, tc.record.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("memory %s not found", tc.record.ID)
	}
	if rec.Status != status {
		return fmt.Errorf("expected status %s, got %s", status, rec.Status)
	}
	return nil
}

func (tc *TestContext) verificationCountIs(want int) error {
	rec, err := tc.store.Get(tc.ctx, tc.record.ID)
	if err != nil {
		return err
	}
	if rec.VerificationCount != want {
		return fmt.Errorf("expected verification count %d, got %d", want, rec.VerificationCount)
	}
	return nil
}

func (tc *TestContext) failedWithInvalidState() error {
	if tc.lastErr == nil {
		return fmt.Errorf("expected an error")
	}
	if !errors.Is(tc.lastErr, memory.ErrInvalidState) {
		return fmt.Errorf("expected an invalid state error, got: %v", tc.lastErr)
	}
	tc.lastErr = nil
	return nil
}

func (tc *TestContext) memoryStillSays(fact string) error {
	rec, err := tc.store.Get(tc.ctx, tc.record.ID)
	if err != nil {
		return err
	}
	if rec.Fact != fact {
		return fmt.Errorf("expected fact %q, got %q", fact, rec.Fact)
	}
	return nil
}

func (tc *TestContext) recentShows(repository, fact string) error {
	records, err := tc.store.GetRecent(tc.ctx, repository, 0)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Fact == fact {
			return nil
		}
	}
	return fmt.Errorf("fact %q not found among %d recent memories", fact, len(records))
}

func (tc *TestContext) recentDoesNotShow(repository, fact string) error {
	records, err := tc.store.GetRecent(tc.ctx, repository, 0)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Fact == fact {
			return fmt.Errorf("fact %q should not be listed", fact)
		}
	}
	return nil
}

func (tc *TestContext) recentIsEmpty(repository string) error {
	records, err := tc.store.GetRecent(tc.ctx, repository, 0)
	if err != nil {
		return err
	}
	if len(records) != 0 {
		return fmt.Errorf("expected no recent memories, got %d", len(records))
	}
	return nil
}

func (tc *TestContext) searchReturns(repository, path string, want int) error {
	records, err := tc.store.SearchByPath(tc.ctx, repository, path)
	if err != nil {
		return err
	}
	if len(records) != want {
		return fmt.Errorf("expected %d memories for path %q, got %d", want, path, len(records))
	}
	return nil
}

func (tc *TestContext) hostServes(path, content string) error {
	tc.hostFiles[path] = strings.ReplaceAll(content, "\\n", "\n")
	return nil
}

func (tc *TestContext) verifyCitations() error {
	if tc.record == nil {
		return fmt.Errorf("no memory in scenario")
	}
	var citations []forge.Citation
	for _, c := range tc.record.Citations {
		citations = append(citations, forge.Citation{
			Path:               c.Path,
			StartLine:          c.StartLine,
			EndLine:            c.EndLine,
			Revision:           c.Revision,
			ContentFingerprint: c.ContentFingerprint,
		})
	}
	verifier := forge.NewVerifier(&hostReader{files: tc.hostFiles})
	tc.verifyResult = verifier.Verify(tc.ctx, tc.record.Repository, citations, forge.DefaultRevision)
	return nil
}

func (tc *TestContext) verificationReports(valid, invalid int) error {
	if tc.verifyResult == nil {
		return fmt.Errorf("no verification ran")
	}
	if tc.verifyResult.ValidCount != valid || tc.verifyResult.InvalidCount != invalid {
		return fmt.Errorf("expected %d valid / %d invalid, got %d / %d",
			valid, invalid, tc.verifyResult.ValidCount, tc.verifyResult.InvalidCount)
	}
	return nil
}

func (tc *TestContext) verificationVerdict(verdict string) error {
	if tc.verifyResult == nil {
		return fmt.Errorf("no verification ran")
	}
	want := verdict == "valid"
	if tc.verifyResult.Valid != want {
		return fmt.Errorf("expected verdict %s, got valid=%v", verdict, tc.verifyResult.Valid)
	}
	return nil
}

func (tc *TestContext) logApplied() error {
	if tc.record == nil {
		return fmt.Errorf("no memory in scenario")
	}
	_, err := tc.store.LogApplied(tc.ctx, tc.record.ID, "acceptance-agent", "acceptance-session")
	return err
}

func (tc *TestContext) usageEventCount(want int) error {
	count, err := tc.store.UsageCount(tc.ctx, tc.record.ID)
	if err != nil {
		return err
	}
	if count != want {
		return fmt.Errorf("expected %d usage events, got %d", want, count)
	}
	return nil
}
