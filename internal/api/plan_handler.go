package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Techne/internal/engine"
)

// CreatePlan строит план выполнения для набора техник.
// POST /api/v1/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req engine.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	resp, err := h.engine.Plan(r.Context(), req)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, resp)
}

// GetPlan возвращает план по идентификатору.
// GET /api/v1/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.PlanByID(r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, info)
}

// DeletePlan удаляет план вместе с его сессиями и группами.
// DELETE /api/v1/plans/{id}
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("id")
	if _, err := h.engine.PlanByID(planID); HandleEngineError(w, h.logger, err) {
		return
	}

	h.engine.DeletePlan(planID)
	NoContent(w)
}
