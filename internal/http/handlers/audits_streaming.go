package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humasse "github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/metrics"
	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/service"
)

// SSEStatusEvent is sent as the initial event and whenever the run's state
// changes.
type SSEStatusEvent struct {
	RunID  string `json:"run_id" doc:"Audit run ID"`
	Status string `json:"status" doc:"Run status (pending, in_progress, completed, failed)"`
	State  string `json:"state,omitempty" doc:"Job sub-state while pending (queued or in_progress)"`
}

// SSEIssueEvent is sent for each issue once the run completes.
type SSEIssueEvent struct {
	ID       string `json:"id" doc:"Issue ID"`
	PageURL  string `json:"page_url" doc:"Page the issue was found on"`
	Category string `json:"category" doc:"Issue category"`
	Severity string `json:"severity" doc:"Issue severity"`
}

// SSECompleteEvent is sent when the run reaches a terminal state.
type SSECompleteEvent struct {
	RunID        string `json:"run_id" doc:"Audit run ID"`
	Status       string `json:"status" doc:"Final run status"`
	PagesAudited int    `json:"pages_audited" doc:"Distinct pages analyzed"`
	TotalIssues  int    `json:"total_issues" doc:"Full detected issue count"`
	ErrorKind    string `json:"error_kind,omitempty" doc:"Failure classification"`
	ErrorMessage string `json:"error_message,omitempty" doc:"User-facing failure message"`
	ResultsURL   string `json:"results_url" doc:"URL to fetch the full gated result"`
}

// SSEErrorEvent is sent when an error occurs during streaming.
type SSEErrorEvent struct {
	Message string `json:"message" doc:"Error message"`
}

// SSEStreamInput is the input for the SSE stream endpoint.
type SSEStreamInput struct {
	ID string `path:"id" doc:"Audit run ID to stream status from"`
}

// StreamAuditStatus streams a run's lifecycle over Server-Sent Events. It is
// a raw HTTP handler (not Huma) so it controls flushing directly.
//
// The stream polls the upstream job at a fixed interval and terminates on the
// first of: the run reaching a terminal state, the tier's queued-poll budget
// spent while the job never left the queue, the hard poll ceiling, or client
// disconnect.
func (h *Handlers) StreamAuditStatus(w http.ResponseWriter, r *http.Request) {
	c := caller(r.Context())

	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, `{"error":"audit run ID required"}`, http.StatusBadRequest)
		return
	}

	run, issues, err := h.Audit.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, `{"error":"failed to get audit"}`, http.StatusInternalServerError)
		return
	}
	if run == nil || !service.CanView(run, c.UserID, c.SessionToken) {
		http.Error(w, `{"error":"audit not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	// Runs can sit behind a slow upstream queue; disable the write deadline
	// and let the poll budget bound the stream's lifetime.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	sendSSEEvent(w, flusher, "status", SSEStatusEvent{
		RunID:  run.ID,
		Status: string(run.Status),
	})

	if run.Status.IsTerminal() {
		h.sendComplete(w, flusher, run, issues)
		return
	}

	h.streamRun(r.Context(), w, flusher, run,
		constants.GetTierLimits(run.Tier).QueuedPollLimit,
		constants.StatusPollInterval, constants.StreamMaxPolls)
}

// streamRun drives the poll loop for a non-terminal run. The cadence and
// budgets are arguments rather than read from constants inside the loop so
// the termination rules can be exercised at a faster clock.
func (h *Handlers) streamRun(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, run *models.AuditRun, queuedBudget int, pollInterval time.Duration, maxPolls int) {
	runID := run.ID
	var issues []*models.Issue

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(constants.StreamHeartbeatInterval)
	defer heartbeatTicker.Stop()

	lastStatus := string(run.Status)
	lastState := ""
	consecutiveQueued := 0

	for polls := 0; polls < maxPolls; {
		select {
		case <-ctx.Done():
			return

		case <-heartbeatTicker.C:
			sendSSEHeartbeat(w, flusher)

		case <-pollTicker.C:
			polls++
			outcome, err := h.Audit.PollRun(ctx, runID)
			if err != nil {
				sendSSEEvent(w, flusher, "error", SSEErrorEvent{Message: "failed to poll audit status"})
				continue
			}
			run = outcome.Run

			if outcome.State == analyzer.PollStateQueued {
				consecutiveQueued++
				// Terminate ON the poll that exhausts the budget, not after.
				if consecutiveQueued >= queuedBudget {
					if err := h.Audit.FailQueuedTimeout(ctx, runID, consecutiveQueued); err == nil {
						run, issues, _ = h.Audit.GetRun(ctx, runID)
					}
					if run != nil {
						h.sendComplete(w, flusher, run, issues)
					}
					return
				}
			} else {
				consecutiveQueued = 0
			}

			status, state := string(run.Status), string(outcome.State)
			if status != lastStatus || state != lastState {
				lastStatus, lastState = status, state
				sendSSEEvent(w, flusher, "status", SSEStatusEvent{
					RunID:  run.ID,
					Status: status,
					State:  state,
				})
			}

			if run.Status.IsTerminal() {
				for _, issue := range outcome.Issues {
					sendSSEEvent(w, flusher, "issue", SSEIssueEvent{
						ID:       issue.ID,
						PageURL:  issue.PageURL,
						Category: issue.Category,
						Severity: string(issue.Severity),
					})
				}
				h.sendComplete(w, flusher, run, outcome.Issues)
				return
			}
		}
	}

	// Hard ceiling reached; the job may still finish, the client should
	// fall back to polling.
	sendSSEEvent(w, flusher, "error", SSEErrorEvent{
		Message: "stream poll limit reached, poll the audit endpoint for further updates",
	})
}

func (h *Handlers) sendComplete(w http.ResponseWriter, flusher http.Flusher, run *models.AuditRun, issues []*models.Issue) {
	sendSSEEvent(w, flusher, "complete", SSECompleteEvent{
		RunID:        run.ID,
		Status:       string(run.Status),
		PagesAudited: run.PagesAudited,
		TotalIssues:  len(issues),
		ErrorKind:    run.ErrorKind,
		ErrorMessage: run.ErrorMessage,
		ResultsURL:   fmt.Sprintf("/api/v1/audits/%s", run.ID),
	})
}

// sendSSEEvent sends a Server-Sent Event.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

// sendSSEHeartbeat sends an SSE comment as a keepalive. Comments start with a
// colon and are ignored by the client EventSource API.
func sendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
	flusher.Flush()
}

// RegisterRawEndpoints registers the SSE stream with Huma for OpenAPI
// documentation. The actual handler is mounted on the chi router.
func (h *Handlers) RegisterRawEndpoints(api huma.API) {
	humasse.Register(api, huma.Operation{
		OperationID: "streamAuditStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/audits/{id}/stream",
		Summary:     "Stream audit status via SSE",
		Description: "Server-Sent Events stream of an audit run's lifecycle. " +
			"Sends a status event on every state change, issue events when the run completes, " +
			"and a final complete event. Heartbeat comments keep the connection alive through proxies.",
		Tags: []string{"Audits"},
	}, map[string]any{
		"status":   SSEStatusEvent{},
		"issue":    SSEIssueEvent{},
		"complete": SSECompleteEvent{},
		"error":    SSEErrorEvent{},
	}, func(ctx context.Context, input *SSEStreamInput, send humasse.Sender) {
		// Placeholder: the chi-mounted raw handler serves the stream. This
		// registration exists for OpenAPI schema generation only.
		<-ctx.Done()
	})
}
