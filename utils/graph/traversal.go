package graph

import W "Warp/utils/worklist"

type traversalFunc[T comparable] func(node T) (stop bool)

// BFSV performs a breadth-first search from the provided start nodes,
// calling f for every reachable node and stopping early if f returns true.
// Returns whether the search stopped early.
func (G Graph[T]) BFSV(f traversalFunc[T], starts ...T) bool {
	visited := make(map[T]bool)
	for _, start := range starts {
		visited[start] = true
	}

	done := false
	W.StartV(starts, func(node T, add func(T)) {
		if done || f(node) {
			done = true
			return
		}

		for _, next := range G.Edges(node) {
			if !visited[next] {
				visited[next] = true
				add(next)
			}
		}
	})

	return done
}

// BFS performs a breadth-first search from the provided start node.
func (G Graph[T]) BFS(start T, f traversalFunc[T]) bool {
	return G.BFSV(f, start)
}

type layer[T comparable] struct {
	node  T
	depth int
}

// BFSWithDepth runs a breadth-first search that reports each node together
// with its distance from the start, stopping early if f returns true or when
// maxDepth is exceeded. A negative maxDepth means no cutoff.
// Returns whether the search stopped early.
func (G Graph[T]) BFSWithDepth(start T, maxDepth int, f func(node T, depth int) (stop bool)) bool {
	visited := map[T]bool{start: true}

	done := false
	W.Start(layer[T]{start, 0}, func(l layer[T], add func(layer[T])) {
		if done || f(l.node, l.depth) {
			done = true
			return
		}

		if maxDepth >= 0 && l.depth >= maxDepth {
			return
		}

		for _, next := range G.Edges(l.node) {
			if !visited[next] {
				visited[next] = true
				add(layer[T]{next, l.depth + 1})
			}
		}
	})

	return done
}
