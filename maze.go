package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
)

// TileKind is the wire tile code of a maze cell
type TileKind uint8

const (
	TileWall  TileKind = 0
	TileFloor TileKind = 1
	TileSpawn TileKind = 2
)

const (
	maxWallDensity  = 0.30
	minSpawnSpacing = 3 // tiles between spawn points
	ghostSpawnGap   = 6 // preferred distance from player spawns
)

// Tile is a grid coordinate
type Tile struct {
	X, Y int
}

// Manhattan returns the grid distance between two tiles
func (t Tile) Manhattan(o Tile) int {
	return abs(t.X-o.X) + abs(t.Y-o.Y)
}

// Pair is the wire form of a tile coordinate
func (t Tile) Pair() [2]int {
	return [2]int{t.X, t.Y}
}

// Direction is one of the four grid moves
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Directions lists every move in a fixed order
var Directions = [4]Direction{DirUp, DirDown, DirLeft, DirRight}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}

// Step returns the tile one move away from t in direction d
func (d Direction) Step(t Tile) Tile {
	switch d {
	case DirUp:
		t.Y--
	case DirDown:
		t.Y++
	case DirLeft:
		t.X--
	case DirRight:
		t.X++
	}
	return t
}

// Maze is the static tile grid of a session. It is never mutated after
// construction; pellets live in a PelletField built from its template.
type Maze struct {
	Width, Height int
	TileSize      int

	tiles        []TileKind
	Spawns       []Tile // player spawn points, round-robin order
	GhostSpawns  []Tile
	PowerPellets []Tile // template
}

func newMaze(w, h, tileSize int) *Maze {
	return &Maze{
		Width:    w,
		Height:   h,
		TileSize: tileSize,
		tiles:    make([]TileKind, w*h),
	}
}

// InBounds reports whether t lies on the grid
func (m *Maze) InBounds(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < m.Width && t.Y < m.Height
}

// At returns the tile kind, out-of-bounds reads as wall
func (m *Maze) At(t Tile) TileKind {
	if !m.InBounds(t) {
		return TileWall
	}
	return m.tiles[t.Y*m.Width+t.X]
}

func (m *Maze) set(t Tile, k TileKind) {
	m.tiles[t.Y*m.Width+t.X] = k
}

// Walkable reports whether an entity may stand on t
func (m *Maze) Walkable(t Tile) bool {
	return m.At(t) != TileWall
}

// Exits returns the walkable directions out of t in Directions order
func (m *Maze) Exits(t Tile) []Direction {
	out := make([]Direction, 0, 4)
	for _, d := range Directions {
		if m.Walkable(d.Step(t)) {
			out = append(out, d)
		}
	}
	return out
}

// Rows returns the row-major grid of tile codes sent to clients
func (m *Maze) Rows() [][]int {
	rows := make([][]int, m.Height)
	for y := range rows {
		row := make([]int, m.Width)
		for x := range row {
			row[x] = int(m.tiles[y*m.Width+x])
		}
		rows[y] = row
	}
	return rows
}

// PelletTemplate lists the tiles that start a round with a regular pellet
func (m *Maze) PelletTemplate() []Tile {
	power := make(map[Tile]bool, len(m.PowerPellets))
	for _, t := range m.PowerPellets {
		power[t] = true
	}
	var out []Tile
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			t := Tile{x, y}
			if m.At(t) == TileFloor && !power[t] {
				out = append(out, t)
			}
		}
	}
	return out
}

// Pixel converts a tile to its pixel-space origin
func (m *Maze) Pixel(t Tile) Position {
	return Position{X: t.X * m.TileSize, Y: t.Y * m.TileSize}
}

func (m *Maze) floorTiles() []Tile {
	var out []Tile
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.tiles[y*m.Width+x] == TileFloor {
				out = append(out, Tile{x, y})
			}
		}
	}
	return out
}

func (m *Maze) wallDensity() float64 {
	walls := 0
	for _, k := range m.tiles {
		if k == TileWall {
			walls++
		}
	}
	return float64(walls) / float64(len(m.tiles))
}

// LoadMaze reads cfg.MapFile when set, otherwise generates a maze from rng
func LoadMaze(cfg Config, rng *rand.Rand) (*Maze, error) {
	if cfg.MapFile == "" {
		return GenerateMaze(cfg, rng), nil
	}
	f, err := os.Open(cfg.MapFile)
	if err != nil {
		return nil, fmt.Errorf("open map: %w", err)
	}
	defer f.Close()
	m, err := ParseMaze(f, cfg.TileSize)
	if err != nil {
		return nil, fmt.Errorf("parse map %s: %w", cfg.MapFile, err)
	}
	return m, nil
}

// ParseMaze reads an ASCII layout: '#' wall, '.' floor, 'S' spawn,
// 'o' power pellet, 'G' ghost spawn. Blank lines are skipped.
func ParseMaze(r io.Reader, tileSize int) (*Maze, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.New("empty maze")
	}

	w := len(lines[0])
	m := newMaze(w, len(lines), tileSize)
	for y, line := range lines {
		if len(line) != w {
			return nil, fmt.Errorf("row %d has width %d, expected %d", y, len(line), w)
		}
		for x, ch := range line {
			t := Tile{x, y}
			switch ch {
			case '#':
				m.set(t, TileWall)
			case '.':
				m.set(t, TileFloor)
			case 'S':
				m.set(t, TileSpawn)
				m.Spawns = append(m.Spawns, t)
			case 'o':
				m.set(t, TileFloor)
				m.PowerPellets = append(m.PowerPellets, t)
			case 'G':
				m.set(t, TileFloor)
				m.GhostSpawns = append(m.GhostSpawns, t)
			default:
				return nil, fmt.Errorf("unknown tile %q at %d,%d", ch, x, y)
			}
		}
	}
	if len(m.Spawns) == 0 {
		return nil, errors.New("maze has no spawn point")
	}
	if len(m.GhostSpawns) == 0 {
		m.GhostSpawns = spreadTiles(m.floorTiles(), m.Spawns, minSpawnSpacing, ghostSpawnGap, 8)
	}
	return m, nil
}

// GenerateMaze builds a random maze mirrored left/right and top/bottom,
// repairs connectivity and keeps the wall share under 30%.
func GenerateMaze(cfg Config, rng *rand.Rand) *Maze {
	m := newMaze(cfg.MapWidth, cfg.MapHeight, cfg.TileSize)
	m.carveQuadrant(rng)
	m.mirror()
	m.connect()

	if m.wallDensity() > maxWallDensity {
		qw, qh := m.Width/2, m.Height/2
		var walls []Tile
		for y := 1; y < qh; y++ {
			for x := 1; x < qw; x++ {
				if m.At(Tile{x, y}) == TileWall {
					walls = append(walls, Tile{x, y})
				}
			}
		}
		rng.Shuffle(len(walls), func(i, j int) { walls[i], walls[j] = walls[j], walls[i] })
		for _, t := range walls {
			if m.wallDensity() <= maxWallDensity-0.02 {
				break
			}
			m.carveMirrored(t)
		}
		m.connect()
	}

	m.placeSpawns(cfg.SpawnPoints, rng)
	m.PowerPellets = m.powerAnchors()

	ghostSlots := cfg.GhostCount
	if cfg.MaxPlayers > ghostSlots {
		ghostSlots = cfg.MaxPlayers
	}
	floor := m.floorTiles()
	rng.Shuffle(len(floor), func(i, j int) { floor[i], floor[j] = floor[j], floor[i] })
	m.GhostSpawns = spreadTiles(floor, m.Spawns, minSpawnSpacing, ghostSpawnGap, ghostSlots)
	return m
}

// carveQuadrant lays corridors in the top-left quadrant
func (m *Maze) carveQuadrant(rng *rand.Rand) {
	qw, qh := m.Width/2, m.Height/2
	for y := 1; y < qh; y += 4 {
		for x := 1; x < qw; x++ {
			if rng.Float64() > 0.3 {
				m.set(Tile{x, y}, TileFloor)
			}
		}
	}
	for x := 1; x < qw; x += 4 {
		for y := 1; y < qh; y++ {
			if rng.Float64() > 0.3 {
				m.set(Tile{x, y}, TileFloor)
			}
		}
	}
	for y := 2; y < qh-1; y += 2 {
		for x := 2; x < qw-1; x += 2 {
			if rng.Float64() > 0.4 {
				m.set(Tile{x, y}, TileFloor)
			}
		}
	}
	cx, cy := qw/2, qh/2
	for x := 1; x < qw; x++ {
		m.set(Tile{x, cy}, TileFloor)
	}
	for y := 1; y < qh; y++ {
		m.set(Tile{cx, y}, TileFloor)
	}
}

func (m *Maze) mirror() {
	qw, qh := m.Width/2, m.Height/2
	for y := 0; y < qh; y++ {
		for x := 0; x < qw; x++ {
			m.set(Tile{m.Width - 1 - x, y}, m.At(Tile{x, y}))
		}
	}
	for y := 0; y < qh; y++ {
		for x := 0; x < m.Width; x++ {
			m.set(Tile{x, m.Height - 1 - y}, m.At(Tile{x, y}))
		}
	}
}

// carveMirrored opens t and its three mirror images
func (m *Maze) carveMirrored(t Tile) {
	mx, my := m.Width-1-t.X, m.Height-1-t.Y
	for _, c := range [4]Tile{t, {mx, t.Y}, {t.X, my}, {mx, my}} {
		if c.X > 0 && c.Y > 0 && c.X < m.Width-1 && c.Y < m.Height-1 {
			m.set(c, TileFloor)
		}
	}
}

// flood marks every walkable tile reachable from start
func (m *Maze) flood(start Tile, seen map[Tile]bool) {
	stack := []Tile{start}
	seen[start] = true
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range Directions {
			n := d.Step(t)
			if !seen[n] && m.Walkable(n) {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
}

// connect joins every isolated floor region to the main one with an
// L-shaped corridor carved symmetrically.
func (m *Maze) connect() {
	floor := m.floorTiles()
	if len(floor) == 0 {
		cx, cy := m.Width/2, m.Height/2
		for x := 1; x < m.Width-1; x++ {
			m.set(Tile{x, cy}, TileFloor)
		}
		for y := 1; y < m.Height-1; y++ {
			m.set(Tile{cx, y}, TileFloor)
		}
		floor = m.floorTiles()
	}

	seen := make(map[Tile]bool, len(floor))
	m.flood(floor[0], seen)
	for {
		isolated := false
		for _, t := range m.floorTiles() {
			if seen[t] {
				continue
			}
			isolated = true
			m.carvePath(t, nearestSeen(t, seen))
			m.flood(t, seen)
		}
		if !isolated {
			return
		}
	}
}

func nearestSeen(from Tile, seen map[Tile]bool) Tile {
	best, bestD := from, -1
	for t := range seen {
		d := t.Manhattan(from)
		if bestD < 0 || d < bestD || (d == bestD && (t.Y < best.Y || (t.Y == best.Y && t.X < best.X))) {
			best, bestD = t, d
		}
	}
	return best
}

// carvePath opens a horizontal-then-vertical corridor from a to b
func (m *Maze) carvePath(a, b Tile) {
	cur := a
	for cur.X != b.X {
		m.carveMirrored(cur)
		if cur.X < b.X {
			cur.X++
		} else {
			cur.X--
		}
	}
	for cur.Y != b.Y {
		m.carveMirrored(cur)
		if cur.Y < b.Y {
			cur.Y++
		} else {
			cur.Y--
		}
	}
	m.carveMirrored(b)
}

// placeSpawns picks up to n spawn points spread over the four quadrants
// and interleaves them so round-robin assignment alternates quadrants.
func (m *Maze) placeSpawns(n int, rng *rand.Rand) {
	qw, qh := m.Width/2, m.Height/2
	var regions [4][]Tile
	for _, t := range m.floorTiles() {
		i := 0
		if t.X >= qw {
			i++
		}
		if t.Y >= qh {
			i += 2
		}
		regions[i] = append(regions[i], t)
	}

	perRegion := (n + 3) / 4
	var picked [4][]Tile
	var all []Tile
	for i := range regions {
		r := regions[i]
		rng.Shuffle(len(r), func(a, b int) { r[a], r[b] = r[b], r[a] })
		for _, t := range r {
			if len(picked[i]) >= perRegion {
				break
			}
			if farFrom(t, all, minSpawnSpacing) {
				picked[i] = append(picked[i], t)
				all = append(all, t)
			}
		}
	}

	for i := 0; len(m.Spawns) < n; i++ {
		added := false
		for q := range picked {
			if i < len(picked[q]) && len(m.Spawns) < n {
				m.Spawns = append(m.Spawns, picked[q][i])
				added = true
			}
		}
		if !added {
			break
		}
	}
	for _, t := range m.Spawns {
		m.set(t, TileSpawn)
	}
}

// powerAnchors returns eight symmetric anchors snapped to floor tiles
func (m *Maze) powerAnchors() []Tile {
	w, h := m.Width, m.Height
	anchors := []Tile{
		{2, 2}, {w - 3, 2}, {2, h - 3}, {w - 3, h - 3},
		{w / 2, h / 4}, {w / 2, 3 * h / 4},
		{w / 4, h / 2}, {3 * w / 4, h / 2},
	}
	used := make(map[Tile]bool)
	var out []Tile
	for _, a := range anchors {
		if t, ok := m.nearestFloor(a, used); ok {
			used[t] = true
			out = append(out, t)
		}
	}
	return out
}

func (m *Maze) nearestFloor(from Tile, used map[Tile]bool) (Tile, bool) {
	limit := m.Width + m.Height
	for r := 0; r <= limit; r++ {
		for dy := -r; dy <= r; dy++ {
			dx := r - abs(dy)
			for _, x := range [2]int{from.X - dx, from.X + dx} {
				t := Tile{x, from.Y + dy}
				if m.At(t) == TileFloor && !used[t] {
					return t, true
				}
			}
		}
	}
	return Tile{}, false
}

// spreadTiles picks up to limit candidates at least spacing apart,
// preferring those at least avoidGap away from the avoid set.
func spreadTiles(candidates, avoid []Tile, spacing, avoidGap, limit int) []Tile {
	var out []Tile
	taken := make(map[Tile]bool)
	pass := func(gap int) {
		for _, t := range candidates {
			if len(out) >= limit {
				return
			}
			if taken[t] || !farFrom(t, out, spacing) {
				continue
			}
			if gap > 0 && !farFrom(t, avoid, gap) {
				continue
			}
			taken[t] = true
			out = append(out, t)
		}
	}
	pass(avoidGap)
	if len(out) < limit && avoidGap > 0 {
		pass(0)
	}
	if len(out) == 0 && len(candidates) > 0 {
		out = append(out, candidates[0])
	}
	return out
}

func farFrom(t Tile, set []Tile, dist int) bool {
	for _, o := range set {
		dx, dy := t.X-o.X, t.Y-o.Y
		if dx*dx+dy*dy < dist*dist {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PelletField is the mutable pellet state of one round. A tile is in at
// most one of the two sets and never returns once taken.
type PelletField struct {
	pellets map[Tile]struct{}
	power   map[Tile]struct{}
	total   int
}

// NewPelletField regenerates the round-start pellets from the template
func (m *Maze) NewPelletField() *PelletField {
	tmpl := m.PelletTemplate()
	f := &PelletField{
		pellets: make(map[Tile]struct{}, len(tmpl)),
		power:   make(map[Tile]struct{}, len(m.PowerPellets)),
	}
	for _, t := range tmpl {
		f.pellets[t] = struct{}{}
	}
	for _, t := range m.PowerPellets {
		f.power[t] = struct{}{}
	}
	f.total = len(f.pellets) + len(f.power)
	return f
}

// TakePellet removes a regular pellet at t, reporting whether one existed
func (f *PelletField) TakePellet(t Tile) bool {
	if _, ok := f.pellets[t]; !ok {
		return false
	}
	delete(f.pellets, t)
	return true
}

// TakePower removes a power pellet at t, reporting whether one existed
func (f *PelletField) TakePower(t Tile) bool {
	if _, ok := f.power[t]; !ok {
		return false
	}
	delete(f.power, t)
	return true
}

// PelletCount returns the regular pellets left
func (f *PelletField) PelletCount() int { return len(f.pellets) }

// PowerCount returns the power pellets left
func (f *PelletField) PowerCount() int { return len(f.power) }

// Remaining returns every pellet left of either kind
func (f *PelletField) Remaining() int { return len(f.pellets) + len(f.power) }

// Total is the round-start pellet count
func (f *PelletField) Total() int { return f.total }

// Pellets returns the regular pellets as sorted coordinate pairs
func (f *PelletField) Pellets() [][2]int { return sortedPairs(f.pellets) }

// PowerPellets returns the power pellets as sorted coordinate pairs
func (f *PelletField) PowerPellets() [][2]int { return sortedPairs(f.power) }

func sortedPairs(set map[Tile]struct{}) [][2]int {
	out := make([][2]int, 0, len(set))
	for t := range set {
		out = append(out, t.Pair())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][1] != out[j][1] {
			return out[i][1] < out[j][1]
		}
		return out[i][0] < out[j][0]
	})
	return out
}
