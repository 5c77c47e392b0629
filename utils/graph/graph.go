package graph

/*
	Utilities for working with graph structures.

	Graphs appear in several places in the checker (the inter-function edge
	graph, the modification-order graph) and each owner keeps its own
	adjacency representation. This package provides the standard algorithms
	on top of any such representation: the caller only supplies the edge
	relation.
*/

type edgesOf[T comparable] func(node T) []T

type Graph[T comparable] struct {
	edgesOf     edgesOf[T]
	cachedEdges map[T][]T
}

func Of[T comparable](edgesOf edgesOf[T]) Graph[T] {
	return Graph[T]{
		edgesOf:     edgesOf,
		cachedEdges: make(map[T][]T),
	}
}

func (G Graph[T]) Edges(node T) []T {
	if cached, found := G.cachedEdges[node]; found {
		return cached
	}

	es := G.edgesOf(node)
	G.cachedEdges[node] = es
	return es
}
