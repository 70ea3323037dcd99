package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"terminal-pointofsale/internal/drivers"
	"terminal-pointofsale/internal/session"
)

const (
	streamPingInterval = 30 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
)

type connectRequest struct {
	ReaderID string `json:"reader_id"`
}

type collectRequest struct {
	Amount int64 `json:"amount"`
}

// streamMessage is one frame on the state stream.
type streamMessage struct {
	Type      string        `json:"type"`
	Data      session.State `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
}

// Terminal routes answer 200 with the snapshot; failures are in its error
// field. Only a malformed body is a 400.

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *Server) initializeHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.Initialize(r.Context()))
}

func (s *Server) discoverHandler(w http.ResponseWriter, r *http.Request) {
	simulated, _ := strconv.ParseBool(r.URL.Query().Get("simulated"))
	s.writeJSON(w, http.StatusOK, s.Session.DiscoverReaders(r.Context(), simulated))
}

func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.Session.ConnectToReader(r.Context(), req.ReaderID))
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.DisconnectReader(r.Context()))
}

// collectHandler starts the collection and returns once the intent exists;
// the card is collected in the background and progress is visible on the
// state and the stream.
func (s *Server) collectHandler(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.Session.StartCollect(r.Context(), req.Amount))
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.CancelPayment(r.Context()))
}

func (s *Server) clearDisplayHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Session.ClearReaderDisplay(r.Context()))
}

func (s *Server) simulatorDeclineHandler(w http.ResponseWriter, r *http.Request) {
	sim, ok := s.simulation()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "simulation not supported by the active driver"})
		return
	}
	sim.DeclineNext()
	s.Logger.Info("Next card presentation will be declined")
	s.writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *Server) simulatorDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	sim, ok := s.simulation()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "simulation not supported by the active driver"})
		return
	}
	if err := sim.DisconnectReader(); err != nil {
		s.Logger.Errorf("Simulated disconnect failed: %v", err)
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *Server) simulation() (drivers.Simulation, bool) {
	if s.GetSimulation == nil {
		return nil, false
	}
	return s.GetSimulation()
}

// streamHandler pushes every session snapshot to a websocket client until
// it goes away.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	states, unsubscribe := s.Session.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go s.streamReadPump(conn, done)

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	s.Logger.Debugf("State stream opened for %s", r.RemoteAddr)
	for {
		select {
		case <-done:
			s.Logger.Debugf("State stream closed for %s", r.RemoteAddr)
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(streamMessage{Type: "state", Data: st, Timestamp: time.Now()}); err != nil {
				s.Logger.Warningf("State stream write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReadPump drains client frames so pongs and the close handshake are
// processed, and closes done when the client leaves.
func (s *Server) streamReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Logger.Warningf("State stream error: %v", err)
			}
			return
		}
	}
}
