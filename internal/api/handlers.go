package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/report"
	"github.com/raaihank/log-sentinel/internal/reportdb"
	"github.com/raaihank/log-sentinel/internal/websocket"
	"github.com/raaihank/log-sentinel/internal/worker"
)

const (
	maxRequestBytes = 64 << 10
	defaultListSize = 50
	maxListSize     = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Events string `json:"events,omitempty"`
}

type reportResponse struct {
	Record  *reportdb.Record `json:"record"`
	Summary string           `json:"summary,omitempty"`
	Report  *model.Report    `json:"report,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo reports versions and runtime counters
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":      "log-sentinel",
		"version":   s.deps.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"threshold": s.config.Model.Threshold,
		"context":   s.config.Model.Context,
	}
	if s.deps.Workers != nil {
		info["running_reports"] = s.deps.Workers.Running()
	}
	if s.deps.Cache != nil {
		info["cache"] = s.deps.Cache.Stats()
	}
	if s.deps.Hub != nil {
		info["websocket"] = s.deps.Hub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// handleCreateReport queues the comparison of a target against a baseline
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req worker.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := s.deps.Workers.Submit(r.Context(), req)
	switch {
	case errors.Is(err, worker.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, worker.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to submit report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit report")
		return
	}

	resp := submitResponse{ID: m.ID()}
	if s.config.WebSocket.Enabled {
		resp.Events = "/ws/" + m.ID()
	}
	w.Header().Set("Location", "/api/reports/"+m.ID())
	writeJSON(w, http.StatusAccepted, resp)
}

// handleListReports lists the newest reports
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultListSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListSize)
	}

	records, err := s.deps.Reports.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if records == nil {
		records = []reportdb.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetReport returns a report record, with the report once completed.
// format=text renders the completed report as plain text.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.deps.Reports.Get(r.Context(), id)
	if errors.Is(err, reportdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		s.logger.Error("Failed to get report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}

	text := r.URL.Query().Get("format") == "text"
	if rec.Status != reportdb.StatusCompleted {
		if text {
			writeError(w, http.StatusConflict, "report is "+string(rec.Status))
			return
		}
		writeJSON(w, http.StatusOK, reportResponse{Record: rec})
		return
	}

	rep, err := s.deps.Workers.LoadReport(id)
	if err != nil {
		s.logger.Error("Failed to load report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	if text {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.RenderText(w, rep); err != nil {
			s.logger.Warn("Failed to render report", zap.String("report_id", id), zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Record: rec, Summary: report.Summarize(rep), Report: rep})
}

// handleWebSocket follows one report, or every report without an id.
// Finished reports replay their final status.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		s.deps.Hub.HandleWebSocket(w, r, "", nil)
		return
	}

	if m, ok := s.deps.Workers.Subscribe(id); ok {
		s.deps.Hub.HandleWebSocket(w, r, id, m.History())
		return
	}

	rec, err := s.deps.Reports.Get(r.Context(), id)
	if errors.Is(err, reportdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		s.logger.Error("Failed to get report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}

	s.deps.Hub.HandleWebSocket(w, r, id, []websocket.Event{statusEvent(rec)})
}

func statusEvent(rec *reportdb.Record) websocket.Event {
	return websocket.Event{
		Type:      websocket.EventTypeReportStatus,
		Timestamp: time.UnixMilli(rec.UpdatedAtUnixMs),
		ReportID:  rec.ID,
		Data: websocket.StatusEvent{
			Status:    string(rec.Status),
			Anomalies: rec.Anomalies,
			Error:     rec.Error,
		},
	}
}
