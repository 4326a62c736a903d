// Package group implements the realtime core of spec §4.5: the
// client-side per-buffer audio callback (Processor) and the mirrored
// sandbox-side worker loop (SandboxLoop), plus the topological device
// ordering each sandbox needs to process its devices in a valid order.
package group

import "github.com/shaban/scuffgo/ids"

// Edge is one intra-sandbox audio connection, output port of one
// device feeding an input port of another.
type Edge struct {
	From ids.Device
	To   ids.Device
}

// TopoSort orders devices so that, for every edge, From comes before
// To (spec §4.5 step 2). Ties are broken by devices' order of
// appearance in the devices slice (Kahn's algorithm with an
// insertion-ordered ready queue, not a priority queue). Cycles are
// tolerated: a cyclic edge is simply skipped once every other
// in-degree has been satisfied, so every device still appears exactly
// once in the output (spec: "must be tolerated by producing a valid
// order that visits each node once").
func TopoSort(devices []ids.Device, edges []Edge) []ids.Device {
	index := make(map[ids.Device]int, len(devices))
	for i, d := range devices {
		index[d] = i
	}

	inDegree := make([]int, len(devices))
	adj := make([][]int, len(devices))
	for _, e := range edges {
		from, ok1 := index[e.From]
		to, ok2 := index[e.To]
		if !ok1 || !ok2 || from == to {
			continue
		}
		adj[from] = append(adj[from], to)
		inDegree[to]++
	}

	visited := make([]bool, len(devices))
	// ready holds indices with inDegree==0, kept in insertion order by
	// always scanning from the front — a plain slice used as a FIFO.
	var ready []int
	for i, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]ids.Device, 0, len(devices))
	for len(out) < len(devices) {
		if len(ready) == 0 {
			// A cycle exists among the remaining devices: break it by
			// picking the earliest-inserted unvisited device and forcing
			// it ready, per the "tolerate cycles" requirement.
			for i := range devices {
				if !visited[i] {
					ready = append(ready, i)
					break
				}
			}
		}
		i := ready[0]
		ready = ready[1:]
		if visited[i] {
			continue
		}
		visited[i] = true
		out = append(out, devices[i])
		for _, j := range adj[i] {
			inDegree[j]--
			if inDegree[j] == 0 && !visited[j] {
				ready = append(ready, j)
			}
		}
	}
	return out
}
