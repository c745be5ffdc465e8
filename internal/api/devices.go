package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartbulb-core/internal/device"
	"github.com/nerrad567/smartbulb-core/internal/session"
)

// sessionResponse describes the active session.
type sessionResponse struct {
	Device device.Descriptor `json:"device"`
	State  device.State      `json:"state"`
	Active bool              `json:"active"`
}

func sessionView(sess *session.Session) sessionResponse {
	return sessionResponse{
		Device: sess.Device(),
		State:  sess.State(),
		Active: sess.Active(),
	}
}

// commandRequest is the body of POST /session/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

// handleStartScan starts discovery in the current mode. The scan outlives
// the request and is bounded by the transport's window; results arrive on
// the "device" WebSocket channel and through GET /devices.
func (s *Server) handleStartScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.control.Scan(s.ctx); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"scanning":       true,
		"simulator_mode": s.control.SimulatorMode(),
	})
}

func (s *Server) handleStopScan(w http.ResponseWriter, _ *http.Request) {
	s.control.StopScan()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.control.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":  devices,
		"count":    len(devices),
		"scanning": s.control.Scanning(),
	})
}

// handleConnect opens a session to a discovered bulb. Cancelling the
// request abandons the attempt.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.control.Connect(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.markSeen(r, id)
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.control.Session()
	if sess == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotConnected, device.ErrNotConnected.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.control.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand applies one command and waits for the bulb's answer.
// The optimistic state is already visible on the "state" channel while
// this waits.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := device.ParseCommand(req.Command, req.Parameters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	select {
	case err := <-s.control.Apply(cmd):
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	case <-r.Context().Done():
		s.writeDomainError(w, device.ErrTimeout)
		return
	}

	resp := map[string]any{"command": cmd.String()}
	if sess := s.control.Session(); sess != nil {
		resp["state"] = sess.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// markSeen stamps the saved record of a bulb after a successful connection.
func (s *Server) markSeen(r *http.Request, id string) {
	if s.directory == nil {
		return
	}
	if err := s.directory.Seen(r.Context(), id); err != nil {
		s.logger.Debug("stamping last seen failed", "device_id", id, "error", err)
	}
}
