package registry

import (
	"fmt"
	"sync"
)

// PatternKind — вид паттерна зависимостей между шагами техники.
type PatternKind string

const (
	// PatternParallel — все шаги независимы и выполнимы одновременно.
	PatternParallel PatternKind = "parallel"

	// PatternSequential — каждый шаг зависит от предыдущего.
	PatternSequential PatternKind = "sequential"

	// PatternHybrid — именованный паттерн с частичным fan-out:
	// шаги до FanOutAfter последовательны, дальше параллельны,
	// последний шаг собирает результаты.
	PatternHybrid PatternKind = "hybrid"
)

// StepPattern — паттерн зависимостей шагов техники.
type StepPattern struct {
	// Kind — вид паттерна.
	Kind PatternKind

	// Name — имя hybrid-паттерна (пусто для parallel/sequential).
	Name string

	// FanOutAfter — номер шага, после которого начинается fan-out
	// (только для hybrid).
	FanOutAfter int
}

// Cost — статическая оценка стоимости выполнения техники.
type Cost struct {
	// MemoryMB — оценка памяти.
	MemoryMB int

	// TimeMs — оценка времени последовательного выполнения.
	TimeMs int
}

// Technique — метаданные одной техники.
type Technique struct {
	// Name — уникальное имя техники.
	Name string

	// StepDescriptions — описания шагов (len = число шагов).
	StepDescriptions []string

	// Cost — оценка стоимости.
	Cost Cost

	// Pattern — паттерн зависимостей шагов.
	Pattern StepPattern
}

// TotalSteps возвращает число шагов техники.
func (t *Technique) TotalSteps() int {
	return len(t.StepDescriptions)
}

// ValidStep проверяет, что номер шага в диапазоне [1, TotalSteps].
func (t *Technique) ValidStep(step int) bool {
	return step >= 1 && step <= t.TotalSteps()
}

// Registry — реестр техник с таблицами зависимостей и исключений.
type Registry struct {
	mu         sync.RWMutex
	techniques map[string]*Technique
	order      []string

	// hardDeps — a → b: b не может выполняться одновременно с a
	// и должен стартовать после её завершения.
	hardDeps map[string][]string

	// softDeps — a → b: b выигрывает от результатов a, но не требует их.
	softDeps map[string][]string

	// exclusions — пары техник, взаимно исключающие друг друга в группе.
	exclusions map[string]map[string]bool
}

// New создаёт реестр со встроенным каталогом техник.
func New() *Registry {
	r := &Registry{
		techniques: make(map[string]*Technique),
		hardDeps:   make(map[string][]string),
		softDeps:   make(map[string][]string),
		exclusions: make(map[string]map[string]bool),
	}

	for i := range defaultCatalog {
		r.Register(&defaultCatalog[i])
	}
	for _, dep := range defaultHardDeps {
		r.AddHardDependency(dep[0], dep[1])
	}
	for _, dep := range defaultSoftDeps {
		r.AddSoftDependency(dep[0], dep[1])
	}
	for _, pair := range defaultExclusions {
		r.AddExclusion(pair[0], pair[1])
	}

	return r
}

// Register добавляет технику в реестр (перезаписывает существующую).
func (r *Registry) Register(t *Technique) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.techniques[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.techniques[t.Name] = t
}

// Get возвращает технику по имени.
func (r *Registry) Get(name string) (*Technique, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.techniques[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTechnique, name)
	}
	return t, nil
}

// Has проверяет наличие техники.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.techniques[name]
	return ok
}

// Names возвращает имена техник в порядке регистрации.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// AddHardDependency записывает: after стартует после завершения before.
func (r *Registry) AddHardDependency(before, after string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hardDeps[before] = append(r.hardDeps[before], after)
}

// AddSoftDependency записывает: after выигрывает от выполнения before раньше.
func (r *Registry) AddSoftDependency(before, after string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.softDeps[before] = append(r.softDeps[before], after)
}

// AddExclusion помечает пару техник взаимно исключающей (симметрично).
func (r *Registry) AddExclusion(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exclusions[a] == nil {
		r.exclusions[a] = make(map[string]bool)
	}
	if r.exclusions[b] == nil {
		r.exclusions[b] = make(map[string]bool)
	}
	r.exclusions[a][b] = true
	r.exclusions[b][a] = true
}

// HardDependency проверяет, есть ли жёсткая зависимость между a и b
// в любом направлении. Возвращает (before, after, true), если есть.
func (r *Registry) HardDependency(a, b string) (string, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dep := range r.hardDeps[a] {
		if dep == b {
			return a, b, true
		}
	}
	for _, dep := range r.hardDeps[b] {
		if dep == a {
			return b, a, true
		}
	}
	return "", "", false
}

// SoftDependency проверяет мягкую зависимость между a и b.
// Возвращает (before, after, true), если b выигрывает от a или наоборот.
func (r *Registry) SoftDependency(a, b string) (string, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dep := range r.softDeps[a] {
		if dep == b {
			return a, b, true
		}
	}
	for _, dep := range r.softDeps[b] {
		if dep == a {
			return b, a, true
		}
	}
	return "", "", false
}

// MutuallyExclusive проверяет, исключают ли техники друг друга.
func (r *Registry) MutuallyExclusive(a, b string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exclusions[a][b]
}

// Compatible проверяет, могут ли техники выполняться в одной
// параллельной группе: нет жёсткой зависимости и нет исключения.
func (r *Registry) Compatible(a, b string) bool {
	if _, _, hard := r.HardDependency(a, b); hard {
		return false
	}
	return !r.MutuallyExclusive(a, b)
}
