package main

// Player is one admitted connection's avatar. All fields are owned by the
// session coordinator goroutine.
type Player struct {
	ID   string
	Name string
	Seq  uint64 // join order, lower joined earlier

	Tile     Tile
	PrevTile Tile // tile at the start of the current tick
	Facing   Direction
	Camera   Position // spectator pan offset in pixels

	Score      int
	Lives      int
	LivesLost  int
	PowerTimer int // ticks of power mode left
	Flashing   bool
	Invincible int // ticks of respawn immunity left
	Spectator  bool
	Host       bool

	Pellets     int
	GhostsEaten int

	pending []Direction
}

// NewPlayer creates a player standing on spawn
func NewPlayer(id, name string, seq uint64, spawn Tile, lives int) *Player {
	return &Player{
		ID:       id,
		Name:     name,
		Seq:      seq,
		Tile:     spawn,
		PrevTile: spawn,
		Facing:   DirRight,
		Lives:    lives,
	}
}

// PowerMode reports whether ghosts are edible for this player
func (p *Player) PowerMode() bool {
	return p.PowerTimer > 0
}

// IsInvincible reports whether ghost contact is currently ignored
func (p *Player) IsInvincible() bool {
	return p.Invincible > 0
}

// Collides reports whether the player takes part in pickups and contacts
func (p *Player) Collides() bool {
	return !p.Spectator
}

// QueueMove buffers a move for the next tick. Returns false when the
// buffer is full and the move was dropped.
func (p *Player) QueueMove(d Direction, max int) bool {
	if len(p.pending) >= max {
		return false
	}
	p.pending = append(p.pending, d)
	return true
}

func (p *Player) nextMove() (Direction, bool) {
	if len(p.pending) == 0 {
		return "", false
	}
	d := p.pending[0]
	p.pending = p.pending[1:]
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return d, true
}

// Respawn moves the player to spawn with invincibility
func (p *Player) Respawn(spawn Tile, invincibleTicks int) {
	p.Tile = spawn
	p.PrevTile = spawn
	p.Invincible = invincibleTicks
}

// ResetForRound restores round-start defaults and re-admits spectators
func (p *Player) ResetForRound(spawn Tile, lives int) {
	p.Tile = spawn
	p.PrevTile = spawn
	p.Facing = DirRight
	p.Camera = Position{}
	p.Score = 0
	p.Lives = lives
	p.LivesLost = 0
	p.PowerTimer = 0
	p.Flashing = false
	p.Invincible = 0
	p.Spectator = false
	p.Pellets = 0
	p.GhostsEaten = 0
	p.pending = nil
}

// eliminate turns the player into a spectator for the rest of the round
func (p *Player) eliminate() {
	p.Spectator = true
	p.PowerTimer = 0
	p.Flashing = false
	p.Invincible = 0
	p.Camera = Position{}
	p.pending = nil
}

// ToState converts the player to its wire form
func (p *Player) ToState(m *Maze) PlayerState {
	return PlayerState{
		ID:          p.ID,
		Name:        p.Name,
		Position:    m.Pixel(p.Tile),
		Direction:   p.Facing,
		Score:       p.Score,
		Lives:       p.Lives,
		PowerMode:   p.PowerMode(),
		PowerTimer:  p.PowerTimer,
		Flashing:    p.Flashing,
		Invincible:  p.IsInvincible(),
		IsSpectator: p.Spectator,
		IsHost:      p.Host,
	}
}
