package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"terminal-pointofsale/internal/core"
	"terminal-pointofsale/internal/payments"
)

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) connectionTokenHandler(w http.ResponseWriter, r *http.Request) {
	secret, err := s.Payments.CreateConnectionToken(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (s *Server) createIntentHandler(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Logger.Errorf("Invalid JSON in payment intent request: %v", err)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	intent, err := s.Payments.CreatePaymentIntentOnce(r.Context(), key, req.Amount, req.Currency)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) getIntentHandler(w http.ResponseWriter, r *http.Request) {
	intent, err := s.Payments.GetPaymentIntent(r.Context(), r.PathValue("id"))
	s.writeIntent(w, intent, err)
}

func (s *Server) captureIntentHandler(w http.ResponseWriter, r *http.Request) {
	intent, err := s.Payments.CapturePaymentIntent(r.Context(), r.PathValue("id"))
	s.writeIntent(w, intent, err)
}

func (s *Server) cancelIntentHandler(w http.ResponseWriter, r *http.Request) {
	intent, err := s.Payments.CancelPaymentIntent(r.Context(), r.PathValue("id"))
	s.writeIntent(w, intent, err)
}

func (s *Server) writeIntent(w http.ResponseWriter, intent *payments.Intent, err error) {
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	// the client secret is only handed out at creation
	out := *intent
	out.ClientSecret = ""
	s.writeJSON(w, http.StatusOK, out)
}

// writeActionError answers with the action's localized message: 400 when
// the request was rejected, 409 for a duplicate still in flight, 502 when
// the payment API failed.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, core.ErrInProgress):
		status = http.StatusConflict
	case payments.IsValidation(err):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		s.Logger.Errorf("Failed to encode response: %v", err)
	}
}
