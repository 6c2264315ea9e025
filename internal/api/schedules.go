package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/schedule"
)

type statusRequest struct {
	Status schedule.Status `json:"status"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedules.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if list == nil {
		list = []schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": list,
		"count":     len(list),
	})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var d schedule.Draft
	if !decodeJSON(w, r, &d) {
		return
	}

	created, err := s.schedules.Create(r.Context(), ownerID(r), d)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("schedule created", "schedule_id", created.ID, "device_id", created.DeviceID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.schedules.Get(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleUpdateSchedule replaces the editable fields; an omitted deviceId
// keeps the current device.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var d schedule.Draft
	if !decodeJSON(w, r, &d) {
		return
	}

	updated, err := s.schedules.Update(r.Context(), ownerID(r), chi.URLParam(r, "id"), d)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSetScheduleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := s.schedules.SetStatus(r.Context(), ownerID(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
