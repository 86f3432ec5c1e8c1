package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/repository"
)

const (
	defaultJobsLimit = 20
	maxJobsLimit     = 200
)

// Health responds with a simple status payload for monitoring and readiness checks.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"uptime":    h.now().Sub(h.started).Round(time.Second).String(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.deps.DB != nil {
		if err := h.deps.DB.HealthCheck(r.Context(), 2*time.Second); err != nil {
			h.logger.Warn("health.db_unreachable", "error", err)
			payload["status"] = "degraded"
			payload["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			payload["database"] = "ok"
		}
	}
	writeJSON(w, status, payload)
}

// EnvCheck reports which settings are present. Credentials are never echoed.
func (h *Handlers) EnvCheck(w http.ResponseWriter, _ *http.Request) {
	lang := ""
	if h.deps.OCRLanguage != nil {
		lang = h.deps.OCRLanguage()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store_url_set":     h.deps.Store.URLSet(),
		"store_key_set":     h.deps.Store.KeySet(),
		"store_configured":  h.deps.Store.Configured(),
		"store_table":       h.deps.Store.Table,
		"ocr_language":      lang,
		"ocr_available":     lang != "",
		"database_attached": h.deps.DB != nil,
	})
}

// Convert dispatches one {action, payload} request. The body is always a
// structured response; the status follows its error code.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("convert.body_too_large", "limit", h.maxBytes)
			writeJSON(w, http.StatusRequestEntityTooLarge, core.Response{
				Error: "request body exceeds " + strconv.FormatInt(h.maxBytes, 10) + " bytes",
				Code:  common.CodeInvalidPayload,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, core.Response{Error: "request body could not be read", Code: common.CodeInvalidPayload})
		return
	}

	resp := h.deps.Processor.Handle(r.Context(), body)
	status := http.StatusOK
	if !resp.Success {
		status = common.HTTPStatus(common.CodeOf(resp.Err()))
	}
	writeJSON(w, status, resp)
}

type jobView struct {
	ID             string `json:"id"`
	Action         string `json:"action"`
	Source         string `json:"source,omitempty"`
	Status         string `json:"status"`
	ItemCount      int    `json:"item_count"`
	PagesProcessed int    `json:"pages_processed,omitempty"`
	PagesTotal     int    `json:"pages_total,omitempty"`
	Sent           bool   `json:"sent"`
	Error          string `json:"error,omitempty"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at,omitempty"`
}

// ListJobs returns the most recent conversion jobs, newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		writeJSON(w, http.StatusPreconditionFailed, map[string]any{"success": false, "error": "no job log configured"})
		return
	}
	limit := defaultJobsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJobsLimit)
	}
	jobs, err := h.deps.Jobs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("jobs.list_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "list jobs failed"})
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out, "count": len(out)})
}

func toJobView(j repository.ConversionJob) jobView {
	v := jobView{
		ID:             j.ID.String(),
		Action:         j.Action,
		Source:         j.Source,
		Status:         string(j.Status),
		ItemCount:      j.ItemCount,
		PagesProcessed: j.PagesProcessed,
		PagesTotal:     j.PagesTotal,
		Sent:           j.Sent,
		Error:          j.ErrorMessage,
		StartedAt:      j.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if !j.FinishedAt.IsZero() {
		v.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
