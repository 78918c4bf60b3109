package main

import "testing"

func TestOccupancyInsertAndQuery(t *testing.T) {
	g := NewOccupancyGrid(5, 5)
	g.Insert(Tile{2, 2}, EntityRef{Kind: RefPlayer, Idx: 0})
	g.Insert(Tile{2, 2}, EntityRef{Kind: RefGhost, Idx: 3})

	refs := g.At(Tile{2, 2})
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].Kind != RefPlayer || refs[1].Idx != 3 {
		t.Errorf("refs not in insertion order: %+v", refs)
	}
	if !g.Occupied(Tile{2, 2}, RefGhost) {
		t.Error("expected a ghost on 2,2")
	}
	if g.Occupied(Tile{1, 2}, RefPlayer) {
		t.Error("1,2 should be empty")
	}
}

func TestOccupancyOutOfBounds(t *testing.T) {
	g := NewOccupancyGrid(3, 3)
	g.Insert(Tile{-1, 0}, EntityRef{Kind: RefPlayer})
	g.Insert(Tile{3, 1}, EntityRef{Kind: RefPlayer})
	if g.At(Tile{-1, 0}) != nil || g.At(Tile{0, 3}) != nil {
		t.Error("out of bounds queries should return nil")
	}
	if len(g.used) != 0 {
		t.Errorf("out of bounds inserts should be dropped, got %d cells", len(g.used))
	}
}

func TestOccupancyClear(t *testing.T) {
	g := NewOccupancyGrid(4, 4)
	for i := 0; i < 4; i++ {
		g.Insert(Tile{i, i}, EntityRef{Kind: RefGhost, Idx: i})
	}
	g.Clear()
	for i := 0; i < 4; i++ {
		if len(g.At(Tile{i, i})) != 0 {
			t.Fatalf("cell %d not cleared", i)
		}
	}
	g.Insert(Tile{1, 1}, EntityRef{Kind: RefPlayer})
	if len(g.At(Tile{1, 1})) != 1 {
		t.Error("grid should be reusable after Clear")
	}
}
