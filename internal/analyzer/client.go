package analyzer

import (
	"context"

	"github.com/fortresshq/fortress-api/internal/signature"
)

// Budget is the tier-scaled resource envelope for one audit. MaxToolCalls is
// the dominant cost lever: it bounds how many model invocations the audit may
// spend across all pages.
type Budget struct {
	MaxPages     int
	MaxToolCalls int
}

// DetectedIssue is one content problem reported by the model, before
// signature computation and persistence.
type DetectedIssue struct {
	PageURL      string `json:"page_url"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
	Severity     string `json:"severity"`
}

// Analysis is a completed audit's raw output. Synchronous runs fill
// AuditedURLs directly; asynchronous jobs fill SucceededPages instead, since
// the job result only identifies pages by their submission index. Callers
// resolve those indexes against the URL list they persisted at submission
// (see ResolveSubmittedURLs).
type Analysis struct {
	Issues         []DetectedIssue
	PagesAudited   int
	AuditedURLs    []string
	SucceededPages []int
}

// Result is a tagged variant: exactly one of Completed or JobHandle is set.
// Callers must branch on IsPending rather than assuming synchronous
// completion. On the pending path SubmittedURLs lists every page the job
// covers, in submission order; callers must persist it to resolve the job's
// results later.
type Result struct {
	Completed     *Analysis
	JobHandle     string
	SubmittedURLs []string
}

// IsPending reports whether the analysis was handed off to a background job.
func (r *Result) IsPending() bool {
	return r.Completed == nil && r.JobHandle != ""
}

// PollState is the upstream job's reported sub-state.
type PollState string

const (
	PollStateQueued     PollState = "queued"
	PollStateInProgress PollState = "in_progress"
	PollStateCompleted  PollState = "completed"
	PollStateFailed     PollState = "failed"
)

// PollUpdate is one observation of a background job.
type PollUpdate struct {
	State PollState
	// Analysis is set only when State is completed.
	Analysis *Analysis
	// Err is set only when State is failed.
	Err error
}

// Client is the contract with the LLM-backed analysis collaborator. Given a
// normalized domain and a budget it may finish synchronously or hand back an
// opaque job handle; Poll observes a handed-back job. Poll never cancels the
// underlying job.
type Client interface {
	Analyze(ctx context.Context, domain string, budget Budget) (*Result, error)
	Poll(ctx context.Context, jobHandle string) (*PollUpdate, error)
}

// DedupeURLs collapses a URL list to distinct normalized paths, preserving
// first-seen order. The upstream collaborator may revisit the same URL and
// report it as multiple pages; the count we report must not inflate for that.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := signature.NormalizePath(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out
}

// ResolveSubmittedURLs maps succeeded page indexes back to the URL list
// persisted at job submission. Indexes outside the list are skipped rather
// than failing the whole run.
func ResolveSubmittedURLs(submitted []string, indexes []int) []string {
	out := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= len(submitted) {
			continue
		}
		out = append(out, submitted[idx])
	}
	return out
}
