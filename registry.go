package main

import "errors"

var (
	ErrSessionFull   = errors.New("session full")
	ErrUnknownPlayer = errors.New("unknown player")
	ErrBadDirection  = errors.New("invalid direction")
)

// MoveOutcome describes what ApplyMove did
type MoveOutcome int

const (
	MoveBlocked MoveOutcome = iota // facing changed, position kept
	MoveApplied
	MovePanned // spectator camera moved
)

// Registry maps connection identity to player entities and keeps join
// order for host succession.
type Registry struct {
	maze      *Maze
	max       int
	players   map[string]*Player
	order     []*Player
	nextSeq   uint64
	spawnNext int
	grid      *OccupancyGrid
}

// NewRegistry creates an empty registry bound to a maze
func NewRegistry(maze *Maze, max int) *Registry {
	return &Registry{
		maze:    maze,
		max:     max,
		players: make(map[string]*Player),
		grid:    NewOccupancyGrid(maze.Width, maze.Height),
	}
}

// Admit creates a player at the next free spawn point. The first player
// admitted into an empty registry becomes host.
func (r *Registry) Admit(id, name string, lives int) (*Player, error) {
	if len(r.order) >= r.max {
		return nil, ErrSessionFull
	}
	r.nextSeq++
	p := NewPlayer(id, name, r.nextSeq, r.NextSpawn(), lives)
	if len(r.order) == 0 {
		p.Host = true
	}
	r.players[id] = p
	r.order = append(r.order, p)
	return p, nil
}

// Remove deletes a player. When the host leaves and others remain the
// earliest-joined remaining player is promoted and returned.
func (r *Registry) Remove(id string) (removed, newHost *Player) {
	p, ok := r.players[id]
	if !ok {
		return nil, nil
	}
	delete(r.players, id)
	for i, q := range r.order {
		if q == p {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if p.Host && len(r.order) > 0 {
		newHost = r.order[0]
		newHost.Host = true
	}
	p.Host = false
	return p, newHost
}

// Get looks up a player by id
func (r *Registry) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Players returns players in join order. Callers must not modify the slice.
func (r *Registry) Players() []*Player {
	return r.order
}

// Len returns the number of admitted players
func (r *Registry) Len() int {
	return len(r.order)
}

// Host returns the current host or nil when empty
func (r *Registry) Host() *Player {
	for _, p := range r.order {
		if p.Host {
			return p
		}
	}
	return nil
}

// HostID returns the host's id or ""
func (r *Registry) HostID() string {
	if h := r.Host(); h != nil {
		return h.ID
	}
	return ""
}

// ActiveCount returns the number of non-spectator players
func (r *Registry) ActiveCount() int {
	n := 0
	for _, p := range r.order {
		if !p.Spectator {
			n++
		}
	}
	return n
}

// NextSpawn returns the next spawn point round-robin, skipping points
// another active player stands on. Falls back to plain round-robin when
// every point is taken.
func (r *Registry) NextSpawn() Tile {
	spawns := r.maze.Spawns
	r.grid.Clear()
	for i, p := range r.order {
		if !p.Spectator {
			r.grid.Insert(p.Tile, EntityRef{Kind: RefPlayer, Idx: i})
		}
	}
	for i := 0; i < len(spawns); i++ {
		t := spawns[(r.spawnNext+i)%len(spawns)]
		if !r.grid.Occupied(t, RefPlayer) {
			r.spawnNext = (r.spawnNext + i + 1) % len(spawns)
			return t
		}
	}
	t := spawns[r.spawnNext%len(spawns)]
	r.spawnNext = (r.spawnNext + 1) % len(spawns)
	return t
}

// ResetSpawnCursor restarts round-robin assignment from the first point
func (r *Registry) ResetSpawnCursor() {
	r.spawnNext = 0
}

// ApplyMove turns the player toward d and steps one tile if the
// destination is walkable. Spectators pan their camera instead.
func (r *Registry) ApplyMove(id string, d Direction) (MoveOutcome, error) {
	if !d.Valid() {
		return MoveBlocked, ErrBadDirection
	}
	p, ok := r.players[id]
	if !ok {
		return MoveBlocked, ErrUnknownPlayer
	}
	if p.Spectator {
		r.pan(p, d)
		return MovePanned, nil
	}
	p.Facing = d
	dest := d.Step(p.Tile)
	if !r.maze.Walkable(dest) {
		return MoveBlocked, nil
	}
	p.Tile = dest
	return MoveApplied, nil
}

func (r *Registry) pan(p *Player, d Direction) {
	step := d.Step(Tile{})
	ts := r.maze.TileSize
	maxX := r.maze.Width * ts
	maxY := r.maze.Height * ts
	p.Camera.X = clampInt(p.Camera.X+step.X*ts, -maxX, maxX)
	p.Camera.Y = clampInt(p.Camera.Y+step.Y*ts, -maxY, maxY)
}

// Snapshot returns an immutable view of every player in join order
func (r *Registry) Snapshot() []PlayerState {
	out := make([]PlayerState, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, p.ToState(r.maze))
	}
	return out
}
