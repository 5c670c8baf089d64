package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Techne/internal/engine"
)

// CreateStep регистрирует шаг сессии (или шаг конвергенции).
// POST /api/v1/steps
func (h *Handler) CreateStep(w http.ResponseWriter, r *http.Request) {
	var req engine.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	resp, err := h.engine.Step(r.Context(), req)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	// Сессия ждёт зависимости: шаг принят, но не выполнен.
	if resp.Waiting {
		JSON(w, http.StatusAccepted, DataResponse{Data: resp})
		return
	}

	Success(w, resp)
}
