package domain

import (
	"time"
)

// SharedContext — общий контекст параллельной группы.
//
// Накопительная структура: выводы дописываются, веса тем складываются,
// скалярные метрики перезаписываются (last-write-wins).
type SharedContext struct {
	// GroupID — группа-владелец контекста.
	GroupID string `json:"group_id"`

	// Insights — накопленные выводы всех сессий группы.
	Insights []string `json:"insights"`

	// ThemeWeights — тема → суммарный вес.
	ThemeWeights map[string]float64 `json:"theme_weights"`

	// Metrics — скалярные метрики, последняя запись побеждает.
	Metrics map[string]float64 `json:"metrics"`

	// UpdateCount — количество применённых обновлений.
	UpdateCount int `json:"update_count"`

	// LastUpdatedAt — время последнего применённого обновления.
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// NewSharedContext создаёт пустой контекст группы.
func NewSharedContext(groupID string) *SharedContext {
	return &SharedContext{
		GroupID:      groupID,
		Insights:     make([]string, 0),
		ThemeWeights: make(map[string]float64),
		Metrics:      make(map[string]float64),
	}
}

// Apply применяет частичное обновление к контексту.
func (c *SharedContext) Apply(upd ContextUpdate) {
	c.Insights = append(c.Insights, upd.Insights...)
	for theme, weight := range upd.ThemeWeights {
		c.ThemeWeights[theme] += weight
	}
	for name, value := range upd.Metrics {
		c.Metrics[name] = value
	}
	c.UpdateCount++
	c.LastUpdatedAt = time.Now()
}

// ContextUpdate — частичное обновление общего контекста от одной сессии.
type ContextUpdate struct {
	// SessionID — сессия-источник обновления.
	SessionID string `json:"session_id"`

	// Insights — новые выводы.
	Insights []string `json:"insights,omitempty"`

	// ThemeWeights — приращения весов тем (складываются, не перезаписывают).
	ThemeWeights map[string]float64 `json:"theme_weights,omitempty"`

	// Metrics — скалярные метрики (last-write-wins).
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Merge объединяет обновление other в u (для батч-стратегии синхронизатора).
func (u *ContextUpdate) Merge(other ContextUpdate) {
	u.Insights = append(u.Insights, other.Insights...)
	if u.ThemeWeights == nil && len(other.ThemeWeights) > 0 {
		u.ThemeWeights = make(map[string]float64)
	}
	for theme, weight := range other.ThemeWeights {
		u.ThemeWeights[theme] += weight
	}
	if u.Metrics == nil && len(other.Metrics) > 0 {
		u.Metrics = make(map[string]float64)
	}
	for name, value := range other.Metrics {
		u.Metrics[name] = value
	}
}
