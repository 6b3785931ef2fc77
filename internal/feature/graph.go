package feature

import (
	"fmt"
	"sort"
)

// CycleError names every feature participating in a dependency cycle.
type CycleError struct {
	Features []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("feature: dependency cycle among %v", e.Features)
}

// topoSort computes a dependency-respecting order over the given features
// using Kahn's algorithm, returning the order as successive "waves": all
// features in one wave have every dependency satisfied by an earlier
// wave (or no dependencies at all), so a caller may run an entire wave
// concurrently. Returns a *CycleError naming every feature that could
// never be scheduled when the graph has a cycle.
func topoSort(deps map[string][]string) ([][]string, error) {
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic iteration for reproducible wave order

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, n := range names {
		indegree[n] = 0
	}
	for n, ds := range deps {
		for _, d := range ds {
			indegree[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	var waves [][]string
	remaining := len(names)
	ready := make([]string, 0)
	for _, n := range names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	for len(ready) > 0 {
		sort.Strings(ready)
		waves = append(waves, ready)
		remaining -= len(ready)

		var next []string
		for _, n := range ready {
			for _, dep := range dependents[n] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if remaining > 0 {
		var stuck []string
		for _, n := range names {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Features: stuck}
	}

	return waves, nil
}

// reverseWaves returns waves in reverse order, each wave's own member
// order unchanged, for shutdown's reverse-topological walk.
func reverseWaves(waves [][]string) [][]string {
	out := make([][]string, len(waves))
	for i, w := range waves {
		out[len(waves)-1-i] = w
	}
	return out
}
