package main

// EntityRef identifies an entity in the grid
type EntityRef struct {
	Kind byte // 'p'=player, 'g'=ghost
	Idx  int  // index into the corresponding flat list
}

const (
	RefPlayer byte = 'p'
	RefGhost  byte = 'g'
)

// OccupancyGrid is a tile-indexed grid for contact queries
type OccupancyGrid struct {
	w, h  int
	cells [][]EntityRef
	used  []int // indices of non-empty cells, for cheap Clear
}

// NewOccupancyGrid allocates a grid covering w x h tiles
func NewOccupancyGrid(w, h int) *OccupancyGrid {
	return &OccupancyGrid{
		w:     w,
		h:     h,
		cells: make([][]EntityRef, w*h),
	}
}

// Clear resets all occupied cells (keeps allocated capacity)
func (g *OccupancyGrid) Clear() {
	for _, i := range g.used {
		g.cells[i] = g.cells[i][:0]
	}
	g.used = g.used[:0]
}

func (g *OccupancyGrid) idx(t Tile) int {
	if t.X < 0 || t.Y < 0 || t.X >= g.w || t.Y >= g.h {
		return -1
	}
	return t.Y*g.w + t.X
}

// Insert adds an entity reference at the given tile
func (g *OccupancyGrid) Insert(t Tile, ref EntityRef) {
	i := g.idx(t)
	if i < 0 {
		return
	}
	if len(g.cells[i]) == 0 {
		g.used = append(g.used, i)
	}
	g.cells[i] = append(g.cells[i], ref)
}

// At returns the refs on a tile in insertion order. The slice is only
// valid until the next Clear.
func (g *OccupancyGrid) At(t Tile) []EntityRef {
	i := g.idx(t)
	if i < 0 {
		return nil
	}
	return g.cells[i]
}

// Occupied reports whether any entity of kind sits on t
func (g *OccupancyGrid) Occupied(t Tile, kind byte) bool {
	for _, r := range g.At(t) {
		if r.Kind == kind {
			return true
		}
	}
	return false
}
