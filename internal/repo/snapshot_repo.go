package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Techne/internal/domain"
)

// SnapshotRepo — репозиторий снапшотов сессий.
//
// Снапшот — полное JSON-состояние сессии на момент сохранения,
// ключ — id сессии. Save выполняет upsert: повторное сохранение
// той же сессии перезаписывает снапшот.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepo создаёт новый SnapshotRepo.
func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// Save сохраняет снапшот сессии (insert или перезапись по id).
func (r *SnapshotRepo) Save(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		INSERT INTO session_snapshots (id, technique, status, group_id, data, started_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET technique = EXCLUDED.technique,
		    status = EXCLUDED.status,
		    group_id = EXCLUDED.group_id,
		    data = EXCLUDED.data,
		    last_activity_at = EXCLUDED.last_activity_at
	`
	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.Technique,
		s.Status,
		nullString(s.ParallelGroupID),
		data,
		s.StartedAt,
		s.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Get возвращает снапшот сессии по id.
func (r *SnapshotRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT data
		FROM session_snapshots
		WHERE id = $1
	`
	return r.scanSnapshot(r.pool.QueryRow(ctx, query, id))
}

// Delete удаляет снапшот сессии.
func (r *SnapshotRepo) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM session_snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает снапшоты с пагинацией и сортировкой.
func (r *SnapshotRepo) List(ctx context.Context, filter SnapshotFilter) ([]domain.Session, error) {
	column, ok := sortColumns[filter.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: sort by %q", ErrInvalidState, filter.SortBy)
	}
	direction := "ASC"
	if filter.Order == OrderDesc {
		direction = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	// column и direction берутся только из белых списков выше.
	query := fmt.Sprintf(`
		SELECT data
		FROM session_snapshots
		WHERE ($1::text IS NULL OR group_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY %s %s
		LIMIT $3 OFFSET $4
	`, column, direction)

	rows, err := r.pool.Query(ctx, query,
		nullString(filter.GroupID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := r.scanSnapshotFromRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// --- Helpers ---

// SortBy — поле сортировки списка снапшотов.
type SortBy string

const (
	SortByCreated   SortBy = "created"
	SortByUpdated   SortBy = "updated"
	SortByName      SortBy = "name"
	SortByTechnique SortBy = "technique"
)

// Order — направление сортировки.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// sortColumns — белый список колонок для ORDER BY.
var sortColumns = map[SortBy]string{
	"":              "started_at",
	SortByCreated:   "started_at",
	SortByUpdated:   "last_activity_at",
	SortByName:      "id",
	SortByTechnique: "technique",
}

// SnapshotFilter — параметры выборки снапшотов.
type SnapshotFilter struct {
	GroupID string
	Status  domain.SessionStatus
	SortBy  SortBy
	Order   Order
	Limit   int
	Offset  int
}

// scanSnapshot сканирует одну строку в Session.
func (r *SnapshotRepo) scanSnapshot(row pgx.Row) (*domain.Session, error) {
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// scanSnapshotFromRows сканирует строку из rows в Session.
func (r *SnapshotRepo) scanSnapshotFromRows(rows pgx.Rows) (*domain.Session, error) {
	var data []byte
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
