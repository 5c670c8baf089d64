package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Plans
	mux.Handle("POST /api/v1/plans", chain(http.HandlerFunc(h.CreatePlan)))
	mux.Handle("GET /api/v1/plans/{id}", chain(http.HandlerFunc(h.GetPlan)))
	mux.Handle("DELETE /api/v1/plans/{id}", chain(http.HandlerFunc(h.DeletePlan)))

	// Steps
	mux.Handle("POST /api/v1/steps", chain(http.HandlerFunc(h.CreateStep)))

	// Sessions (живые, в памяти)
	mux.Handle("GET /api/v1/sessions", chain(http.HandlerFunc(h.ListSessions)))
	mux.Handle("GET /api/v1/sessions/{id}", chain(http.HandlerFunc(h.GetSession)))
	mux.Handle("DELETE /api/v1/sessions/{id}", chain(http.HandlerFunc(h.DeleteSession)))

	// Groups
	mux.Handle("GET /api/v1/groups/{id}", chain(http.HandlerFunc(h.GetGroup)))
	mux.Handle("GET /api/v1/groups/{id}/progress", chain(http.HandlerFunc(h.GetGroupProgress)))
	mux.Handle("GET /api/v1/groups/{id}/deadlock", chain(http.HandlerFunc(h.GetGroupDeadlock)))
	mux.Handle("GET /api/v1/groups/{id}/context", chain(http.HandlerFunc(h.GetGroupContext)))
	mux.Handle("GET /api/v1/groups/{id}/resolution", chain(http.HandlerFunc(h.GetGroupResolution)))

	// Snapshots (архив в Postgres)
	if h.snapshots != nil {
		mux.Handle("GET /api/v1/snapshots", chain(http.HandlerFunc(h.ListSnapshots)))
		mux.Handle("GET /api/v1/snapshots/{id}", chain(http.HandlerFunc(h.GetSnapshot)))
		mux.Handle("DELETE /api/v1/snapshots/{id}", chain(http.HandlerFunc(h.DeleteSnapshot)))
	}
}
