package tree

// Edge orders From before To
type Edge[V comparable] struct {
	From, To V
}

// TopSort returns the vertices in an order where every edge's From precedes
// its To (Kahn's algorithm). Vertices on a cycle are left out, so a result
// shorter than the input means the graph is cyclic. Edges naming unknown
// vertices are ignored.
func TopSort[V comparable](vertices []V, edges []Edge[V]) []V {
	idx := make(map[V]int, len(vertices))
	for i, v := range vertices {
		idx[v] = i
	}

	deg := make([]int, len(vertices))
	next := make([][]int, len(vertices))
	for _, e := range edges {
		a, okA := idx[e.From]
		b, okB := idx[e.To]
		if !okA || !okB {
			continue
		}
		next[a] = append(next[a], b)
		deg[b]++
	}

	queue := make([]int, 0, len(vertices))
	for i, d := range deg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	for p := 0; p < len(queue); p++ {
		for _, t := range next[queue[p]] {
			deg[t]--
			if deg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	out := make([]V, len(queue))
	for i, v := range queue {
		out[i] = vertices[v]
	}
	return out
}
