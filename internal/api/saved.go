package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartbulb-core/internal/account"
	"github.com/nerrad567/smartbulb-core/internal/device"
)

type addSavedRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Room     string `json:"room"`
}

type updateSavedRequest struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleListSaved lists the account's bulbs for the current mode.
func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	saved, err := s.directory.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if saved == nil {
		saved = []device.SavedDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"saved":          saved,
		"count":          len(saved),
		"simulator_mode": s.control.SimulatorMode(),
	})
}

// handleAddSaved registers a discovered bulb with the account. Only bulbs
// in the registry can be saved, so the simulated flag always matches the
// transport that found them.
func (s *Server) handleAddSaved(w http.ResponseWriter, r *http.Request) {
	var req addSavedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	desc, ok := s.findDiscovered(req.DeviceID)
	if !ok {
		writeNotFound(w, "bulb not discovered: "+req.DeviceID)
		return
	}

	saved, err := s.directory.Add(r.Context(), desc, req.Name, req.Room)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateSaved(w http.ResponseWriter, r *http.Request) {
	var req updateSavedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.Room) == "" {
		writeBadRequest(w, "name or room is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.directory.Update(r.Context(), id, req.Name, req.Room); err != nil {
		s.writeDomainError(w, err)
		return
	}
	saved, err := s.directory.Lookup(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnectSaved resolves a saved bulb and connects to it. A real bulb
// not yet discovered is looked for with a short rediscovery scan.
func (s *Server) handleConnectSaved(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	saved, err := s.directory.Lookup(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	sess, err := s.control.ConnectSaved(r.Context(), saved)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.markSeen(r, id)
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	email, err := s.directory.Email(r.Context())
	if errors.Is(err, account.ErrNotSignedIn) {
		writeJSON(w, http.StatusOK, map[string]any{"signed_in": false})
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "email": email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}
	if err := s.directory.SignIn(r.Context(), req.Email, req.Password); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "email": strings.TrimSpace(req.Email)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.SignOut(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) findDiscovered(id string) (device.Descriptor, bool) {
	for _, d := range s.control.Devices() {
		if d.ID == id {
			return d, true
		}
	}
	return device.Descriptor{}, false
}
