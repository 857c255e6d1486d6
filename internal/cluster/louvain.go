package cluster

// louvain runs a single-level greedy modularity optimization pass: every
// node starts in its own community, then nodes are repeatedly moved into
// whichever neighboring community most increases modularity, until a
// full pass makes no further move. This is the first phase of the
// Louvain method; spec.md §4.9 only requires one level of aggregation; a
// real Louvain implementation would repeat after contracting communities
// into super-nodes, but the spec's community sizes don't call for it.
func louvain(nodes []string, edges []edge) map[string]string {
	degree := make(map[string]float64, len(nodes))
	neighbors := make(map[string]map[string]float64, len(nodes))
	for _, n := range nodes {
		neighbors[n] = make(map[string]float64)
	}

	var totalWeight float64
	addEdge := func(a, b string, w float64) {
		if _, ok := neighbors[a]; !ok {
			neighbors[a] = make(map[string]float64)
		}
		if _, ok := neighbors[b]; !ok {
			neighbors[b] = make(map[string]float64)
		}
		neighbors[a][b] += w
		neighbors[b][a] += w
		degree[a] += w
		degree[b] += w
		totalWeight += w
	}
	for _, e := range edges {
		addEdge(e.a, e.b, e.weight)
	}

	if totalWeight == 0 {
		// No edges: every node is its own singleton community.
		assignment := make(map[string]string, len(nodes))
		for _, n := range nodes {
			assignment[n] = n
		}
		return assignment
	}

	community := make(map[string]string, len(nodes))
	commWeight := make(map[string]float64, len(nodes)) // total degree in a community
	for _, n := range nodes {
		community[n] = n
		commWeight[n] = degree[n]
	}

	m2 := 2 * totalWeight

	improved := true
	for improved {
		improved = false
		for _, n := range nodes {
			currentComm := community[n]

			// weight of n's edges into each neighboring community
			commLinks := make(map[string]float64)
			for nb, w := range neighbors[n] {
				commLinks[community[nb]] += w
			}

			// Remove n from its current community before evaluating moves.
			commWeight[currentComm] -= degree[n]

			bestComm := currentComm
			bestGain := commLinks[currentComm] - commWeight[currentComm]*degree[n]/m2

			for comm, linkWeight := range commLinks {
				if comm == currentComm {
					continue
				}
				gain := linkWeight - commWeight[comm]*degree[n]/m2
				if gain > bestGain {
					bestGain = gain
					bestComm = comm
				}
			}

			commWeight[bestComm] += degree[n]
			if bestComm != currentComm {
				community[n] = bestComm
				improved = true
			}
		}
	}

	return community
}
