package forge

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentReads caps per-citation fan-out so a long citation list does
// not flood the source host.
const maxConcurrentReads = 8

// Reader is the part of the client the verifier needs.
type Reader interface {
	ReadCitation(ctx context.Context, repository, path string, lineStart, lineEnd int, revision string) (CitationSlice, error)
}

// Citation is the verifier's view of a citation to check.
type Citation struct {
	Path               string `json:"path"`
	StartLine          int    `json:"line_start"`
	EndLine            int    `json:"line_end"`
	Revision           string `json:"revision,omitempty"`
	ContentFingerprint string `json:"content_fingerprint,omitempty"`
}

// CitationResult is the verdict for one citation. FingerprintMatch is only
// set when the citation carries a fingerprint and the target exists; a
// mismatch is advisory and never flips Exists.
type CitationResult struct {
	Citation
	Exists           bool   `json:"exists"`
	ResolvedRevision string `json:"resolved_revision,omitempty"`
	FingerprintMatch *bool  `json:"fingerprint_match,omitempty"`
	Error            string `json:"error,omitempty"`
}

// VerifyResult aggregates per-citation verdicts. Valid is true iff every
// citation resolved.
type VerifyResult struct {
	Valid        bool             `json:"valid"`
	ValidCount   int              `json:"valid_count"`
	InvalidCount int              `json:"invalid_count"`
	Citations    []CitationResult `json:"citations"`
}

// Verifier checks a memory's citations against the source host.
type Verifier struct {
	reader Reader
}

// NewVerifier creates a verifier over the given reader
func NewVerifier(reader Reader) *Verifier {
	return &Verifier{reader: reader}
}

// Verify reads every citation and classifies it as existing or missing.
// Reads are independent, so they run concurrently up to maxConcurrentReads.
// A reader failure marks only its own citation as missing, with the error
// message surfaced; the remaining citations still get checked. Verify itself
// performs no retries.
func (v *Verifier) Verify(ctx context.Context, repository string, citations []Citation, defaultRevision string) *VerifyResult {
	result := &VerifyResult{
		Citations: make([]CitationResult, len(citations)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)

	for i, cit := range citations {
		i, cit := i, cit
		g.Go(func() error {
			result.Citations[i] = v.checkOne(gctx, repository, cit, defaultRevision)
			return nil
		})
	}
	g.Wait()

	for _, cr := range result.Citations {
		if cr.Exists {
			result.ValidCount++
		} else {
			result.InvalidCount++
		}
	}
	result.Valid = result.InvalidCount == 0
	return result
}

func (v *Verifier) checkOne(ctx context.Context, repository string, cit Citation, defaultRevision string) CitationResult {
	out := CitationResult{Citation: cit}

	revision := cit.Revision
	if revision == "" {
		revision = defaultRevision
	}

	slice, err := v.reader.ReadCitation(ctx, repository, cit.Path, cit.StartLine, cit.EndLine, revision)
	if err != nil {
		out.Exists = false
		out.Error = err.Error()
		return out
	}

	out.Exists = slice.Exists
	out.ResolvedRevision = slice.ResolvedRevision
	if slice.Exists && cit.ContentFingerprint != "" {
		match := Fingerprint(slice.Content) == cit.ContentFingerprint
		out.FingerprintMatch = &match
	}
	return out
}
