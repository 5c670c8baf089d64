package graph

// color — состояние узла при обходе DFS.
type color int

const (
	colorWhite color = iota // не посещён
	colorGray               // в текущем стеке обхода
	colorBlack              // обход завершён
)

// DependencyGraph — направленный граф зависимостей.
//
// Ребро from → to означает, что to может стартовать только после
// завершения from. Граф хранит прямой и обратный индексы: прямой —
// для топологической сортировки, обратный — для быстрого ответа
// «кто зависит от X» (нужен partial-completion обработчику).
type DependencyGraph struct {
	// nodes — все известные узлы (в порядке добавления).
	nodes []string

	// known — быстрый поиск существования узла.
	known map[string]bool

	// edges — from → список to (прямой индекс).
	edges map[string][]string

	// reverse — to → список from (обратный индекс).
	reverse map[string][]string
}

// New создаёт пустой граф зависимостей.
func New() *DependencyGraph {
	return &DependencyGraph{
		known:   make(map[string]bool),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// AddNode добавляет узел без рёбер. Повторное добавление игнорируется.
func (g *DependencyGraph) AddNode(id string) {
	if g.known[id] {
		return
	}
	g.known[id] = true
	g.nodes = append(g.nodes, id)
}

// AddEdge записывает зависимость: to стартует после завершения from.
// Дубликаты рёбер игнорируются, чтобы не раздувать in-degree.
func (g *DependencyGraph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)

	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
}

// Nodes возвращает все узлы в порядке добавления.
func (g *DependencyGraph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Dependencies возвращает узлы, от которых зависит id.
func (g *DependencyGraph) Dependencies(id string) []string {
	return append([]string(nil), g.reverse[id]...)
}

// Dependents возвращает узлы, зависящие от id.
func (g *DependencyGraph) Dependents(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// HasEdge проверяет наличие ребра from → to.
func (g *DependencyGraph) HasEdge(from, to string) bool {
	for _, existing := range g.edges[from] {
		if existing == to {
			return true
		}
	}
	return false
}

// Size возвращает количество узлов.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// DetectCycles ищет все циклы в графе.
//
// DFS с трёхцветной раскраской: back-edge в «серый» узел означает цикл;
// срез текущего стека от этого узла и до вершины — сам цикл.
// Сложность O(V+E). Возвращает ноль или больше циклов, каждый —
// упорядоченный список id.
func (g *DependencyGraph) DetectCycles() [][]string {
	colors := make(map[string]color, len(g.nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = colorGray
		stack = append(stack, id)

		for _, next := range g.edges[id] {
			switch colors[next] {
			case colorWhite:
				visit(next)
			case colorGray:
				// Back-edge: цикл — срез стека от next до вершины.
				for i, onStack := range stack {
					if onStack == next {
						cycle := append([]string(nil), stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = colorBlack
	}

	for _, id := range g.nodes {
		if colors[id] == colorWhite {
			visit(id)
		}
	}

	return cycles
}

// TopologicalOrder строит топологический порядок для подмножества ids
// (алгоритм Кана). Рёбра к узлам вне подмножества игнорируются.
//
// Очередь засевается узлами с нулевым in-degree в порядке ids, поэтому
// результат детерминирован. Если выданы не все узлы — в подмножестве
// есть цикл; возвращается nil (сигнал цикла, не ошибка).
func (g *DependencyGraph) TopologicalOrder(ids []string) []string {
	inSubset := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSubset[id] = true
	}

	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, id := range ids {
		for _, next := range g.edges[id] {
			if inSubset[next] {
				inDegree[next]++
			}
		}
	}

	// Засев в порядке входного списка — детерминированный вывод.
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range g.edges[id] {
			if !inSubset[next] {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(ids) {
		return nil
	}
	return order
}
