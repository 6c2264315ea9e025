package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// twinView is the JSON shape of a twin.
type twinView struct {
	DeviceID string `json:"deviceId"`
	OwnerID  string `json:"ownerId"`
	device.Descriptor
	Network         device.Network         `json:"network"`
	IsConnected     bool                   `json:"isConnected"`
	LastConnectedAt *time.Time             `json:"lastConnectedAt,omitempty"`
	State           device.LightState      `json:"state"`
	ConfirmedState  *device.LightState     `json:"confirmedState,omitempty"`
	Pending         *device.PendingCommand `json:"pending,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func newTwinView(t device.Twin) twinView {
	return twinView{
		DeviceID:        t.DeviceID,
		OwnerID:         t.OwnerID,
		Descriptor:      t.Descriptor,
		Network:         t.Network,
		IsConnected:     t.Connectivity.IsConnected,
		LastConnectedAt: t.Connectivity.LastConnectedAt,
		State:           t.State,
		ConfirmedState:  t.Confirmed,
		Pending:         t.Pending,
		Version:         t.Version,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// pairRequest is the body of POST /devices.
type pairRequest struct {
	DeviceID string `json:"deviceId"`
	device.Descriptor
}

// handleListDevices returns the caller's lights.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	twins, err := s.devices.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	views := make([]twinView, 0, len(twins))
	for _, t := range twins {
		views = append(views, newTwinView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handlePairDevice pairs a light to the caller.
func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "deviceId is required")
		return
	}

	twin, err := s.devices.Pair(r.Context(), ownerID(r), req.DeviceID, req.Descriptor)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("device paired", "device_id", twin.DeviceID, "owner_id", twin.OwnerID)
	writeJSON(w, http.StatusCreated, newTwinView(twin))
}

// handleGetDevice returns one of the caller's lights.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	twin, err := s.devices.Get(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTwinView(twin))
}

// handleUpdateDevice changes a light's metadata.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var u device.DescriptorUpdate
	if !decodeJSON(w, r, &u) {
		return
	}

	twin, err := s.devices.UpdateDescriptor(r.Context(), ownerID(r), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTwinView(twin))
}

// handleControlDevice applies a control delta and returns the predicted twin.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	var delta device.Delta
	if !decodeJSON(w, r, &delta) {
		return
	}

	twin, err := s.devices.Control(r.Context(), ownerID(r), chi.URLParam(r, "id"), delta)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTwinView(twin))
}

// handleRequestStatus asks the light to report its state. The report
// arrives asynchronously over the WebSocket.
func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.RequestStatus(r.Context(), ownerID(r), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"deviceId": id,
		"status":   "requested",
	})
}

// handleUnpairDevice removes a light and its schedules.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Unpair(r.Context(), ownerID(r), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("device unpaired", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}
