package group

import (
	"testing"

	"github.com/shaban/scuffgo/ids"
)

func TestTopoSort_OrdersByDependency(t *testing.T) {
	devices := []ids.Device{1, 2, 3}
	edges := []Edge{{From: 1, To: 2}, {From: 2, To: 3}}

	order := TopoSort(devices, edges)
	pos := indexOf(order)
	if !(pos[1] < pos[2] && pos[2] < pos[3]) {
		t.Fatalf("want 1 before 2 before 3, got %v", order)
	}
	if len(order) != 3 {
		t.Fatalf("want every device visited exactly once, got %v", order)
	}
}

func TestTopoSort_BreaksTiesByInsertionOrder(t *testing.T) {
	devices := []ids.Device{5, 1, 3}
	order := TopoSort(devices, nil)
	if order[0] != 5 || order[1] != 1 || order[2] != 3 {
		t.Fatalf("want insertion order preserved with no edges, got %v", order)
	}
}

func TestTopoSort_ToleratesCycles(t *testing.T) {
	devices := []ids.Device{1, 2, 3}
	edges := []Edge{{From: 1, To: 2}, {From: 2, To: 1}, {From: 2, To: 3}}

	order := TopoSort(devices, edges)
	if len(order) != 3 {
		t.Fatalf("want every device visited exactly once despite a cycle, got %v", order)
	}
	seen := map[ids.Device]bool{}
	for _, d := range order {
		if seen[d] {
			t.Fatalf("device %d visited twice: %v", d, order)
		}
		seen[d] = true
	}
}

func indexOf(order []ids.Device) map[ids.Device]int {
	m := make(map[ids.Device]int, len(order))
	for i, d := range order {
		m[d] = i
	}
	return m
}
