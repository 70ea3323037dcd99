package api

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultPaymentsLimit = 20
	maxPaymentsLimit     = 200
)

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.SettingsManager.PublicConfig())
}

// settingsHandler applies a runtime location/currency update.
func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.Logger.Errorf("Error reading settings body: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error reading request body"})
		return
	}

	if err := s.SettingsManager.UpdateSettings(body); err != nil {
		s.Logger.Errorf("Failed to process settings: %v", err)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, s.SettingsManager.Runtime())
}

// paymentsHandler lists the journal, newest first. drain=true empties it
// and returns what was removed.
func (s *Server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "payment journal not configured"})
		return
	}

	if r.URL.Query().Get("drain") == "true" {
		records, err := s.Journal.DrainPayments()
		if err != nil {
			s.Logger.Errorf("Failed to drain payment journal: %v", err)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to drain payments"})
			return
		}
		s.Logger.Infof("DRAINED payment journal: %d records", len(records))
		s.writeJSON(w, http.StatusOK, records)
		return
	}

	limit := defaultPaymentsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPaymentsLimit)
	}

	records, err := s.Journal.RecentPayments(limit)
	if err != nil {
		s.Logger.Errorf("Failed to list payments: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list payments"})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	dbMetrics := map[string]interface{}{"status": "not_initialized"}
	if s.Journal != nil {
		dbMetrics = s.Journal.Stats()
	}

	var auditMetrics map[string]interface{}
	if s.Audit != nil {
		auditMetrics = s.Audit.GetStats()
	}

	summary, err := s.Session.Summary(time.Now())
	if err != nil {
		s.Logger.Warningf("Failed to compute daily summary: %v", err)
	}

	state := s.Session.Snapshot()
	hostname, _ := os.Hostname()

	response := map[string]interface{}{
		"service": map[string]interface{}{
			"uptime_seconds": time.Since(s.startTime).Seconds(),
			"mode":           state.Mode,
			"pid":            os.Getpid(),
			"hostname":       hostname,
		},
		"terminal": map[string]interface{}{
			"initialized":       state.Initialized,
			"connection_status": state.ConnectionStatus,
			"payment_status":    state.PaymentStatus,
		},
		"payment_api": map[string]interface{}{
			"breaker": s.Payments.BreakerState(),
		},
		"database":  dbMetrics,
		"audit":     auditMetrics,
		"today":     summary,
		"timestamp": time.Now(),
	}

	s.writeJSON(w, http.StatusOK, response)
	s.Logger.Debug("Served metrics")
}
