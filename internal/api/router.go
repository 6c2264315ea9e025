package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter mounts every route under /api/v1.
//
//	GET    /health, /metrics             unauthenticated
//	GET    /ws?ticket=                   ticket from POST /auth/ws-ticket
//	*      /devices, /schedules          bearer token
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		withRequestID,
		s.accessLog,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireOwner)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Route("/devices", s.deviceRoutes)
			r.Route("/schedules", s.scheduleRoutes)
		})
	})

	return r
}

func (s *Server) deviceRoutes(r chi.Router) {
	r.Get("/", s.handleListDevices)
	r.Post("/", s.handlePairDevice)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetDevice)
		r.Patch("/", s.handleUpdateDevice)
		r.Delete("/", s.handleUnpairDevice)
		r.Put("/state", s.handleControlDevice)
		r.Post("/status", s.handleRequestStatus)
	})
}

func (s *Server) scheduleRoutes(r chi.Router) {
	r.Get("/", s.handleListSchedules)
	r.Post("/", s.handleCreateSchedule)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSchedule)
		r.Put("/", s.handleUpdateSchedule)
		r.Delete("/", s.handleDeleteSchedule)
		r.Post("/status", s.handleSetScheduleStatus)
	})
}
