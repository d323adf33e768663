package plan

import "sort"

// validateDAG verifies the steps form a directed acyclic graph via
// topological sort (Kahn's algorithm). Returns CyclicDependencyError when
// no linearization exists. Unknown dependency references are treated as
// cycles in effect: the step can never become eligible.
func validateDAG(steps []*Step) error {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	byID := make(map[string]*Step, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, known := byID[dep]; !known {
				return &CyclicDependencyError{Cycle: []string{s.ID, dep + " (unknown)"}}
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(steps) {
		var cycle []string
		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return &CyclicDependencyError{Cycle: cycle}
	}
	return nil
}
