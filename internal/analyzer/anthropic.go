package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const analysisSystemPrompt = `You are a meticulous website content auditor. You review page text for
problems that hurt credibility and conversions: grammar and spelling errors,
broken or placeholder copy, inconsistent brand voice, confusing navigation
labels, missing calls to action, and factual inconsistencies between pages.

Report findings as a JSON array. Each element:
{"page_url": "...", "category": "...", "description": "...", "suggested_fix": "...", "severity": "critical|high|medium|low"}

Categories are short kebab-case labels like "grammar", "broken-link",
"brand-voice", "clarity", "cta". Be specific in descriptions; quote the
offending text. Return [] when a page is clean. Return ONLY the JSON array.`

// syncPageLimit is the page count above which analysis is handed to the
// batch API instead of running inline. Batches are cheaper but asynchronous.
const syncPageLimit = 5

// AnthropicClient implements Client against the Anthropic API. Small audits
// run synchronously through the Messages API; larger ones are submitted as a
// message batch whose ID becomes the opaque job handle.
type AnthropicClient struct {
	client     anthropic.Client
	model      anthropic.Model
	discoverer *Discoverer
	logger     *slog.Logger
}

// NewAnthropicClient creates an analysis client.
func NewAnthropicClient(apiKey, model string, discoverer *Discoverer, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:      anthropic.Model(model),
		discoverer: discoverer,
		logger:     logger,
	}
}

// Analyze crawls the domain and analyzes up to budget.MaxPages pages, bounded
// by budget.MaxToolCalls model invocations.
func (a *AnthropicClient) Analyze(ctx context.Context, domain string, budget Budget) (*Result, error) {
	pages, err := a.discoverer.Discover(ctx, domain, budget.MaxPages)
	if err != nil {
		return nil, err
	}

	if budget.MaxToolCalls > 0 && len(pages) > budget.MaxToolCalls {
		pages = pages[:budget.MaxToolCalls]
	}

	if len(pages) > syncPageLimit {
		handle, err := a.submitBatch(ctx, pages)
		if err != nil {
			return nil, Classify(err)
		}
		a.logger.Info("analysis submitted as batch", "domain", domain, "pages", len(pages), "job_handle", handle)
		submitted := make([]string, len(pages))
		for i, page := range pages {
			submitted[i] = page.URL
		}
		return &Result{JobHandle: handle, SubmittedURLs: submitted}, nil
	}

	analysis := &Analysis{}
	for _, page := range pages {
		issues, err := a.analyzePage(ctx, page)
		if err != nil {
			// Total failure only if nothing was analyzed; otherwise the
			// audit completes with what it has
			if analysis.PagesAudited == 0 {
				return nil, Classify(err)
			}
			a.logger.Warn("page analysis failed, continuing", "url", page.URL, "error", err)
			continue
		}
		analysis.Issues = append(analysis.Issues, issues...)
		analysis.AuditedURLs = append(analysis.AuditedURLs, page.URL)
		analysis.PagesAudited++
	}

	analysis.AuditedURLs = DedupeURLs(analysis.AuditedURLs)
	analysis.PagesAudited = len(analysis.AuditedURLs)
	return &Result{Completed: analysis}, nil
}

// Poll observes a batch job. The returned state distinguishes "queued"
// (nothing processed yet) from "in_progress" so callers can enforce their
// queued-timeout budget.
func (a *AnthropicClient) Poll(ctx context.Context, jobHandle string) (*PollUpdate, error) {
	batch, err := a.client.Messages.Batches.Get(ctx, jobHandle)
	if err != nil {
		return nil, Classify(err)
	}

	switch batch.ProcessingStatus {
	case "in_progress":
		counts := batch.RequestCounts
		if counts.Succeeded+counts.Errored+counts.Expired == 0 {
			return &PollUpdate{State: PollStateQueued}, nil
		}
		return &PollUpdate{State: PollStateInProgress}, nil

	case "canceling":
		return &PollUpdate{State: PollStateFailed, Err: Classify(fmt.Errorf("analysis job %s was canceled upstream", jobHandle))}, nil

	case "ended":
		analysis, err := a.collectBatchResults(ctx, jobHandle)
		if err != nil {
			return &PollUpdate{State: PollStateFailed, Err: Classify(err)}, nil
		}
		return &PollUpdate{State: PollStateCompleted, Analysis: analysis}, nil

	default:
		return nil, Classify(fmt.Errorf("unknown batch status %q for job %s", batch.ProcessingStatus, jobHandle))
	}
}

func (a *AnthropicClient) analyzePage(ctx context.Context, page Page) ([]DetectedIssue, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: analysisSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(pagePrompt(page))),
		},
	})
	if err != nil {
		return nil, err
	}

	return parseIssues(messageText(msg), page.URL)
}

func (a *AnthropicClient) submitBatch(ctx context.Context, pages []Page) (string, error) {
	requests := make([]anthropic.MessageBatchNewParamsRequest, 0, len(pages))
	for i, page := range pages {
		requests = append(requests, anthropic.MessageBatchNewParamsRequest{
			CustomID: fmt.Sprintf("page-%d", i),
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:     a.model,
				MaxTokens: 2048,
				System: []anthropic.TextBlockParam{
					{Text: analysisSystemPrompt},
				},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(pagePrompt(page))),
				},
			},
		})
	}

	batch, err := a.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{
		Requests: requests,
	})
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}

func (a *AnthropicClient) collectBatchResults(ctx context.Context, jobHandle string) (*Analysis, error) {
	stream := a.client.Messages.Batches.ResultsStreaming(ctx, jobHandle)

	analysis := &Analysis{}
	var failed int
	for stream.Next() {
		entry := stream.Current()
		if entry.Result.Type != "succeeded" {
			failed++
			continue
		}

		text := messageText(&entry.Result.Message)
		issues, err := parseIssues(text, "")
		if err != nil {
			a.logger.Warn("unparseable batch result", "job_handle", jobHandle, "custom_id", entry.CustomID, "error", err)
			failed++
			continue
		}

		// A clean page still counts as audited. The batch result only
		// carries our submission index, so record that; the caller resolves
		// it against the URL list it persisted at submission.
		var idx int
		if _, err := fmt.Sscanf(entry.CustomID, "page-%d", &idx); err != nil {
			a.logger.Warn("unrecognized batch custom id", "job_handle", jobHandle, "custom_id", entry.CustomID)
			failed++
			continue
		}
		analysis.Issues = append(analysis.Issues, issues...)
		analysis.SucceededPages = append(analysis.SucceededPages, idx)
		analysis.PagesAudited++
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	if analysis.PagesAudited == 0 && failed > 0 {
		return nil, fmt.Errorf("all %d batch requests failed for job %s", failed, jobHandle)
	}

	// Results stream in completion order; restore submission order.
	sort.Ints(analysis.SucceededPages)
	return analysis, nil
}

func pagePrompt(page Page) string {
	var b strings.Builder
	b.WriteString("Audit this page.\n\n")
	fmt.Fprintf(&b, "URL: %s\n", page.URL)
	if page.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", page.Title)
	}
	b.WriteString("\nPage text:\n")
	b.WriteString(page.Text)
	return b.String()
}

// messageText concatenates the text blocks of a response.
func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// parseIssues extracts the JSON issue array from model output, tolerating
// code fences and prose around it. defaultURL fills page_url when the model
// omits it.
func parseIssues(text, defaultURL string) ([]DetectedIssue, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var issues []DetectedIssue
	if err := json.Unmarshal([]byte(text[start:end+1]), &issues); err != nil {
		return nil, fmt.Errorf("failed to parse issues: %w", err)
	}

	out := issues[:0]
	for _, issue := range issues {
		if issue.Description == "" {
			continue
		}
		if issue.PageURL == "" {
			issue.PageURL = defaultURL
		}
		issue.Severity = normalizeSeverity(issue.Severity)
		if issue.Category == "" {
			issue.Category = "general"
		}
		out = append(out, issue)
	}
	return out, nil
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}
