package api

import (
	"net/http"
	"strconv"

	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/repo"
)

// ListSessions возвращает живые сессии с фильтрацией.
// GET /api/v1/sessions?status=...&group_id=...&technique=...&limit=...&offset=...
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	groupID := r.URL.Query().Get("group_id")
	technique := r.URL.Query().Get("technique")

	limit := int(mustParseInt(r.URL.Query().Get("limit"), 50))
	offset := int(mustParseInt(r.URL.Query().Get("offset"), 0))

	var filtered []*domain.Session
	for _, live := range h.engine.Sessions().List() {
		session, err := h.engine.SessionSnapshot(r.Context(), live.ID)
		if err != nil {
			continue
		}
		if status != "" && string(session.Status) != status {
			continue
		}
		if groupID != "" && session.ParallelGroupID != groupID {
			continue
		}
		if technique != "" && session.Technique != technique {
			continue
		}
		filtered = append(filtered, session)
	}

	total := len(filtered)
	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	List(w, filtered, total)
}

// GetSession возвращает живую сессию по id.
// GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.SessionSnapshot(r.Context(), r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, session)
}

// DeleteSession удаляет живую сессию и снимает её с мониторинга.
// DELETE /api/v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.engine.Sessions().Get(id); HandleEngineError(w, h.logger, err) {
		return
	}

	h.engine.DeleteSession(id)
	NoContent(w)
}

// ListSnapshots возвращает архивные снимки сессий из Postgres.
// GET /api/v1/snapshots?group_id=...&status=...&sort_by=...&order=...&limit=...&offset=...
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := repo.SnapshotFilter{
		GroupID: r.URL.Query().Get("group_id"),
		Status:  domain.SessionStatus(r.URL.Query().Get("status")),
		SortBy:  repo.SortBy(r.URL.Query().Get("sort_by")),
		Order:   repo.Order(r.URL.Query().Get("order")),
		Limit:   int(mustParseInt(r.URL.Query().Get("limit"), 50)),
		Offset:  int(mustParseInt(r.URL.Query().Get("offset"), 0)),
	}

	snapshots, err := h.snapshots.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, snapshots, len(snapshots))
}

// GetSnapshot возвращает архивный снимок сессии по id.
// GET /api/v1/snapshots/{id}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.snapshots.Get(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "snapshot not found") {
		return
	}

	Success(w, snapshot)
}

// DeleteSnapshot удаляет архивный снимок сессии.
// DELETE /api/v1/snapshots/{id}
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	err := h.snapshots.Delete(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "snapshot not found") {
		return
	}

	NoContent(w)
}

// mustParseInt парсит строку в int64 с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return v
}
