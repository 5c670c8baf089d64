package api

import (
	"net/http"
)

// GetGroup возвращает параллельную группу по id.
// GET /api/v1/groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.engine.Coordinator().Group(r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, group)
}

// GetGroupProgress возвращает агрегированный прогресс группы.
// GET /api/v1/groups/{id}/progress
func (h *Handler) GetGroupProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.engine.Coordinator().GroupProgress(r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, progress)
}

// DeadlockResponse — результат проверки группы на дедлок.
type DeadlockResponse struct {
	GroupID    string `json:"group_id"`
	Deadlocked bool   `json:"deadlocked"`
}

// GetGroupDeadlock проверяет группу на циклические зависимости ожидания.
// GET /api/v1/groups/{id}/deadlock
func (h *Handler) GetGroupDeadlock(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	deadlocked, err := h.engine.Coordinator().CheckForDeadlock(groupID)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, DeadlockResponse{GroupID: groupID, Deadlocked: deadlocked})
}

// GetGroupContext возвращает общий контекст группы.
// GET /api/v1/groups/{id}/context?top=N — сводка топ-N тем вместо полного контекста.
func (h *Handler) GetGroupContext(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	if topStr := r.URL.Query().Get("top"); topStr != "" {
		top := int(mustParseInt(topStr, 5))
		themes, err := h.engine.Syncer().ContextSummary(groupID, top)
		if HandleEngineError(w, h.logger, err) {
			return
		}
		List(w, themes, len(themes))
		return
	}

	shared, err := h.engine.Syncer().Context(groupID)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, shared)
}

// GetGroupResolution возвращает решение по частичному завершению группы.
// GET /api/v1/groups/{id}/resolution
func (h *Handler) GetGroupResolution(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	resolution, ok := h.engine.Resolution(groupID)
	if !ok {
		NotFound(w, "no resolution recorded for group")
		return
	}

	Success(w, resolution)
}
