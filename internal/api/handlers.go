/**
 * @description
 * HTTP handlers for the settlement service.
 *
 * The webhook handler only records the delivery and queues it; verification and every
 * provider call happen in the settlement worker, so a delivery is acknowledged as soon
 * as it is safely queued.
 */
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/queue"
)

const (
	// MaxWebhookBodyBytes caps the size of a webhook delivery.
	MaxWebhookBodyBytes = 1 << 20
	serviceName         = "settlement-service"
	defaultInvoiceLimit = 50
)

// Enqueuer accepts deliveries for the settlement worker.
type Enqueuer interface {
	Enqueue(item queue.Item) bool
	Len() int
}

// LedgerReader is the read side of the ledger used by the admin API.
type LedgerReader interface {
	Stats(ctx context.Context) (*domain.LedgerStats, error)
	ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error)
}

// ReconcileRunner runs a reconciliation pass on demand.
type ReconcileRunner interface {
	Run(ctx context.Context) (*app.ReconcileResult, error)
}

// BatchHistory lists recent invoice batch outcomes.
type BatchHistory interface {
	Outcomes() []app.BatchOutcome
}

// SchedulerStatus reports the invoice batch job state.
type SchedulerStatus interface {
	State() (app.SchedulerState, time.Time)
}

// Dependencies are the collaborators of Handler. Ledger, Reconciler, Batches and
// Scheduler are only used by the admin API and may be nil.
type Dependencies struct {
	Queue      Enqueuer
	Monitor    *app.WebhookMonitor
	Telemetry  Telemetry
	Ledger     LedgerReader
	Reconciler ReconcileRunner
	Batches    BatchHistory
	Scheduler  SchedulerStatus
	MockMode   bool
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Handler holds the services the HTTP handlers interact with.
type Handler struct {
	deps Dependencies
	now  func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Service   string            `json:"service"`
	Telemetry TelemetrySnapshot `json:"telemetry"`
}

type schedulerResponse struct {
	State   app.SchedulerState `json:"state"`
	EndTime *time.Time         `json:"end_time,omitempty"`
}

type statsResponse struct {
	Ledger     *domain.LedgerStats `json:"ledger,omitempty"`
	Webhooks   app.WebhookStats    `json:"webhooks"`
	History    []app.HistoryEntry  `json:"history"`
	QueueDepth int                 `json:"queue_depth"`
	Batches    []app.BatchOutcome  `json:"batches"`
	Scheduler  *schedulerResponse  `json:"scheduler,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.deps.Logger.With("request_id", middleware.GetReqID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		h.reject(w, "unreadable body")
		return
	}
	if len(body) == 0 {
		logger.Warn("rejected webhook with empty body")
		h.reject(w, "empty body")
		return
	}

	item := queue.Item{
		Content:    body,
		Signature:  r.Header.Get("Digital-Signature"),
		MockMode:   h.deps.MockMode,
		ReceivedAt: h.now().UTC(),
		RequestID:  middleware.GetReqID(r.Context()),
	}
	if !h.deps.Queue.Enqueue(item) {
		logger.Error("queue closed, webhook not accepted")
		h.reject(w, "service shutting down")
		return
	}

	h.deps.Monitor.RecordReceived()
	h.deps.Metrics.WebhookReceived()
	logger.Info("webhook queued", "bytes", len(body), "queue_depth", h.deps.Queue.Len())
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (h *Handler) reject(w http.ResponseWriter, reason string) {
	h.deps.Monitor.RecordError()
	h.deps.Metrics.WebhookRejected()
	respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": reason})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Service:   serviceName,
	}
	if h.deps.Telemetry != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		resp.Telemetry = h.deps.Telemetry.Snapshot(ctx)
		cancel()
	}
	if resp.Telemetry.CPUPercent > HighUsagePercent || resp.Telemetry.MemoryPercent > HighUsagePercent {
		resp.Status = "warning"
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Webhooks:   h.deps.Monitor.Stats(),
		History:    h.deps.Monitor.History(),
		QueueDepth: h.deps.Queue.Len(),
		Batches:    []app.BatchOutcome{},
	}

	if h.deps.Ledger != nil {
		stats, err := h.deps.Ledger.Stats(r.Context())
		if err != nil {
			h.deps.Logger.Error("failed to load ledger stats", "error", err)
			respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load ledger stats"})
			return
		}
		resp.Ledger = stats
	}
	if h.deps.Batches != nil {
		resp.Batches = h.deps.Batches.Outcomes()
	}
	if h.deps.Scheduler != nil {
		state, end := h.deps.Scheduler.State()
		resp.Scheduler = &schedulerResponse{State: state}
		if !end.IsZero() {
			resp.Scheduler.EndTime = &end
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := defaultInvoiceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := h.deps.Ledger.ListRecent(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("failed to list invoices", "error", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list invoices"})
		return
	}
	if records == nil {
		records = []domain.SettlementRecord{}
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		http.Error(w, "reconciliation unavailable", http.StatusServiceUnavailable)
		return
	}

	admin, _ := AdminFromContext(r.Context())
	h.deps.Logger.Info("manual reconciliation requested", "admin", admin)

	result, err := h.deps.Reconciler.Run(r.Context())
	if err != nil {
		respondWithJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
