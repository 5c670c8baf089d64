package planner

import (
	"fmt"

	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/registry"
)

// buildExecutionGraph строит клиентский граф выполнения:
// узел на каждый шаг каждой техники, рёбра — из паттерна техники
// плюс межтехниковые рёбра жёстких зависимостей.
func (p *Planner) buildExecutionGraph(techniques []string) *domain.ExecutionGraph {
	unique := uniqueTechniques(techniques)

	var nodes []domain.ExecutionNode
	firstNode := make(map[string]string) // technique → id первого шага
	lastNodes := make(map[string][]string)

	for _, name := range unique {
		tech, err := p.registry.Get(name)
		if err != nil {
			continue
		}
		techNodes := stepNodes(tech)
		nodes = append(nodes, techNodes...)

		firstNode[name] = techNodes[0].ID
		lastNodes[name] = terminalNodes(techNodes)
	}

	// Межтехниковые рёбра: первый шаг зависимой техники ждёт
	// терминальные шаги предшественницы.
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			before, after, ok := p.registry.HardDependency(unique[i], unique[j])
			if !ok {
				continue
			}
			for k := range nodes {
				if nodes[k].ID == firstNode[after] {
					nodes[k].DependsOn = append(nodes[k].DependsOn, lastNodes[before]...)
				}
			}
		}
	}

	g := &domain.ExecutionGraph{
		Nodes:          nodes,
		MaxParallelism: maxParallelism(nodes),
		CriticalPath:   criticalPath(nodes),
		ErrorPolicy:    "continue on non-critical failure",
	}
	g.Strategy = strategyHint(unique, g.MaxParallelism)

	return g
}

// stepNodes строит узлы одной техники с рёбрами по её паттерну.
func stepNodes(tech *registry.Technique) []domain.ExecutionNode {
	total := tech.TotalSteps()
	nodes := make([]domain.ExecutionNode, total)

	for step := 1; step <= total; step++ {
		nodes[step-1] = domain.ExecutionNode{
			ID:        nodeID(tech.Name, step),
			Technique: tech.Name,
			Step:      step,
		}
	}

	switch tech.Pattern.Kind {
	case registry.PatternParallel:
		// Шаги независимы — рёбер нет.

	case registry.PatternHybrid:
		fanOut := tech.Pattern.FanOutAfter
		if fanOut < 1 || fanOut >= total-1 {
			// Вырожденный hybrid — последовательный
			chainNodes(nodes, tech.Name)
			break
		}
		// Голова последовательная
		for step := 2; step <= fanOut; step++ {
			nodes[step-1].DependsOn = []string{nodeID(tech.Name, step-1)}
		}
		// Fan-out: середина зависит от последнего шага головы
		for step := fanOut + 1; step < total; step++ {
			nodes[step-1].DependsOn = []string{nodeID(tech.Name, fanOut)}
		}
		// Join: последний шаг собирает весь fan-out
		for step := fanOut + 1; step < total; step++ {
			nodes[total-1].DependsOn = append(nodes[total-1].DependsOn, nodeID(tech.Name, step))
		}

	default: // sequential
		chainNodes(nodes, tech.Name)
	}

	return nodes
}

// chainNodes связывает шаги последовательной цепочкой.
func chainNodes(nodes []domain.ExecutionNode, technique string) {
	for i := 1; i < len(nodes); i++ {
		nodes[i].DependsOn = []string{nodeID(technique, nodes[i-1].Step)}
	}
}

// terminalNodes возвращает id узлов техники, от которых никто не зависит.
func terminalNodes(nodes []domain.ExecutionNode) []string {
	hasDependents := make(map[string]bool)
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			hasDependents[dep] = true
		}
	}

	var out []string
	for _, node := range nodes {
		if !hasDependents[node.ID] {
			out = append(out, node.ID)
		}
	}
	return out
}

// maxParallelism оценивает максимум одновременно выполнимых узлов:
// ширину самого широкого "уровня" (уровень — длина самого длинного
// пути от корней до узла).
func maxParallelism(nodes []domain.ExecutionNode) int {
	depth := nodeDepths(nodes)

	width := make(map[int]int)
	maxWidth := 0
	for _, node := range nodes {
		level := depth[node.ID]
		width[level]++
		if width[level] > maxWidth {
			maxWidth = width[level]
		}
	}
	return maxWidth
}

// criticalPath возвращает самую длинную цепочку зависимостей,
// обходя DFS от каждого узла без зависимостей.
func criticalPath(nodes []domain.ExecutionNode) []string {
	dependents := make(map[string][]string)
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	var longest []string
	var walk func(id string, path []string)
	walk = func(id string, path []string) {
		path = append(path, id)
		next := dependents[id]
		if len(next) == 0 {
			if len(path) > len(longest) {
				longest = append([]string(nil), path...)
			}
			return
		}
		for _, n := range next {
			walk(n, path)
		}
	}

	for _, node := range nodes {
		if len(node.DependsOn) == 0 {
			walk(node.ID, nil)
		}
	}

	return longest
}

// nodeDepths считает длину самого длинного пути от корней до каждого узла.
func nodeDepths(nodes []domain.ExecutionNode) map[string]int {
	byID := make(map[string]domain.ExecutionNode, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	depth := make(map[string]int, len(nodes))
	var resolve func(id string) int
	resolve = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		node := byID[id]
		max := 0
		for _, dep := range node.DependsOn {
			if d := resolve(dep) + 1; d > max {
				max = d
			}
		}
		depth[id] = max
		return max
	}

	for _, node := range nodes {
		resolve(node.ID)
	}
	return depth
}

// strategyHint — текстовая подсказка по стратегии выполнения.
func strategyHint(techniques []string, maxParallelism int) string {
	if len(techniques) == 1 {
		return fmt.Sprintf("execute %s sequentially step by step", techniques[0])
	}
	return fmt.Sprintf(
		"execute %d techniques as concurrent sessions (up to %d steps in flight), then converge results",
		len(techniques), maxParallelism,
	)
}

// nodeID — идентификатор узла графа выполнения.
func nodeID(technique string, step int) string {
	return fmt.Sprintf("%s.step%d", technique, step)
}
