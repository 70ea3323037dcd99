package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/core"
	"terminal-pointofsale/internal/drivers"
	"terminal-pointofsale/internal/payments"
	"terminal-pointofsale/internal/session"
	"terminal-pointofsale/internal/settings"
)

// Journal is the payment history the API exposes.
type Journal interface {
	RecentPayments(limit int) ([]core.PaymentRecord, error)
	DrainPayments() ([]core.PaymentRecord, error)
	Stats() map[string]interface{}
}

// SimulationGetter returns the active driver's simulation surface, if any.
type SimulationGetter func() (drivers.Simulation, bool)

// Deps are the components the server routes to. Journal, Audit and
// GetSimulation may be nil.
type Deps struct {
	Logger          *logrus.Entry
	SettingsManager *settings.Manager
	Session         *session.Session
	Payments        *payments.Service
	Journal         Journal
	Audit           *core.AuditLogger
	GetSimulation   SimulationGetter
}

// Server serves the server actions, the terminal session and the dashboard
// data.
type Server struct {
	*http.Server
	Deps

	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewServer creates and configures a new server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: &http.Server{
			Addr:           addr,
			Handler:        mux,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Deps:      deps,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	// Server actions
	mux.HandleFunc("POST /actions/connection_token", s.connectionTokenHandler)
	mux.HandleFunc("POST /actions/payment_intents", s.createIntentHandler)
	mux.HandleFunc("GET /actions/payment_intents/{id}", s.getIntentHandler)
	mux.HandleFunc("POST /actions/payment_intents/{id}/capture", s.captureIntentHandler)
	mux.HandleFunc("POST /actions/payment_intents/{id}/cancel", s.cancelIntentHandler)

	// Terminal session
	mux.HandleFunc("GET /terminal/state", s.stateHandler)
	mux.HandleFunc("POST /terminal/initialize", s.initializeHandler)
	mux.HandleFunc("POST /terminal/discover", s.discoverHandler)
	mux.HandleFunc("POST /terminal/connect", s.connectHandler)
	mux.HandleFunc("POST /terminal/disconnect", s.disconnectHandler)
	mux.HandleFunc("POST /terminal/collect", s.collectHandler)
	mux.HandleFunc("POST /terminal/cancel", s.cancelHandler)
	mux.HandleFunc("POST /terminal/clear_display", s.clearDisplayHandler)
	mux.HandleFunc("GET /terminal/stream", s.streamHandler)

	// Simulation hooks, only useful with the simulator driver
	mux.HandleFunc("POST /simulator/decline", s.simulatorDeclineHandler)
	mux.HandleFunc("POST /simulator/disconnect", s.simulatorDisconnectHandler)

	mux.HandleFunc("GET /config", s.configHandler)
	mux.HandleFunc("POST /pos_config", s.settingsHandler)
	mux.HandleFunc("GET /payments", s.paymentsHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.Logger.Infof("Starting API Server on %s", s.Addr)
	return s.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.Logger.Info("Shutting down API Server...")
	return s.Shutdown(ctx)
}
