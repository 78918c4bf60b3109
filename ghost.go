package main

import (
	"fmt"
	"math/rand"
)

// GhostMode is the target-seeking mode chosen on a ghost's last step
type GhostMode string

const (
	GhostChase GhostMode = "chase"
	GhostFlee  GhostMode = "flee"
	GhostIdle  GhostMode = "idle"
)

const patrolKeepChance = 0.7

var ghostPalette = []string{
	"red", "pink", "cyan", "orange", "yellow", "green", "purple", "blue",
	"brown", "gray", "lime", "navy", "teal", "silver", "maroon", "olive",
	"crimson", "darkred", "darkblue", "darkgreen", "darkorange", "darkviolet",
	"indigo", "magenta", "turquoise", "gold", "coral", "salmon", "khaki", "plum",
}

// Ghost is an AI-controlled chaser. Ghosts are never removed while the
// session runs; eaten ghosts return to Home.
type Ghost struct {
	ID       string
	Color    string
	Home     Tile
	Tile     Tile
	PrevTile Tile
	Facing   Direction
	Mode     GhostMode
	TargetID string
}

// NewGhost creates ghost i standing on home
func NewGhost(i int, home Tile) *Ghost {
	return &Ghost{
		ID:       fmt.Sprintf("ghost_%d", i),
		Color:    ghostPalette[i%len(ghostPalette)],
		Home:     home,
		Tile:     home,
		PrevTile: home,
		Facing:   DirUp,
		Mode:     GhostIdle,
	}
}

// Reset sends the ghost back to its spawn
func (g *Ghost) Reset() {
	g.Tile = g.Home
	g.PrevTile = g.Home
	g.Facing = DirUp
	g.Mode = GhostIdle
	g.TargetID = ""
}

// ToState converts the ghost to its wire form
func (g *Ghost) ToState(m *Maze) GhostState {
	return GhostState{
		ID:        g.ID,
		Position:  m.Pixel(g.Tile),
		Color:     g.Color,
		Direction: g.Facing,
		Mode:      g.Mode,
	}
}

// GhostController owns the ghost list and steps it on a fixed cadence
type GhostController struct {
	maze   *Maze
	rng    *rand.Rand
	radius int
	every  int
	ticks  int
	ghosts []*Ghost
}

// NewGhostController creates count ghosts on the maze's ghost spawns
func NewGhostController(maze *Maze, rng *rand.Rand, cfg Config) *GhostController {
	c := &GhostController{
		maze:   maze,
		rng:    rng,
		radius: cfg.PursuitRadius,
		every:  cfg.GhostMoveEvery,
	}
	c.Ensure(cfg.GhostCount)
	return c
}

// Ensure grows the roster to at least n ghosts. It never shrinks.
func (c *GhostController) Ensure(n int) int {
	added := 0
	if len(c.maze.GhostSpawns) == 0 {
		return 0
	}
	for len(c.ghosts) < n {
		i := len(c.ghosts)
		home := c.maze.GhostSpawns[i%len(c.maze.GhostSpawns)]
		c.ghosts = append(c.ghosts, NewGhost(i, home))
		added++
	}
	return added
}

// Ghosts returns the roster in creation order
func (c *GhostController) Ghosts() []*Ghost {
	return c.ghosts
}

// Reset returns every ghost to spawn and restarts the move cadence
func (c *GhostController) Reset() {
	c.ticks = 0
	for _, g := range c.ghosts {
		g.Reset()
	}
}

// Snapshot returns the wire form of every ghost
func (c *GhostController) Snapshot() []GhostState {
	out := make([]GhostState, 0, len(c.ghosts))
	for _, g := range c.ghosts {
		out = append(out, g.ToState(c.maze))
	}
	return out
}

// Step advances the ghosts by one tick. Ghosts only move every `every`
// ticks; the return value reports whether they moved.
func (c *GhostController) Step(players []*Player) bool {
	for _, g := range c.ghosts {
		g.PrevTile = g.Tile
	}
	c.ticks++
	if c.ticks%c.every != 0 {
		return false
	}
	for _, g := range c.ghosts {
		c.stepGhost(g, players)
	}
	return len(c.ghosts) > 0
}

func (c *GhostController) stepGhost(g *Ghost, players []*Player) {
	target := c.nearestTarget(g, players)
	if target == nil {
		g.Mode = GhostIdle
		g.TargetID = ""
		c.patrol(g)
		return
	}
	g.TargetID = target.ID
	g.Mode = GhostChase
	if target.PowerMode() {
		g.Mode = GhostFlee
	}
	exits := c.maze.Exits(g.Tile)
	if len(exits) == 0 {
		return
	}

	var best []Direction
	bestScore := 0
	for _, d := range exits {
		dist := d.Step(g.Tile).Manhattan(target.Tile)
		score := -dist
		if g.Mode == GhostFlee {
			score = dist
		}
		switch {
		case len(best) == 0 || score > bestScore:
			best = append(best[:0], d)
			bestScore = score
		case score == bestScore:
			best = append(best, d)
		}
	}
	c.move(g, best[c.rng.Intn(len(best))])
}

// nearestTarget picks the closest vulnerable player within the pursuit
// radius. Ties go to the earliest joiner.
func (c *GhostController) nearestTarget(g *Ghost, players []*Player) *Player {
	var best *Player
	bestDist := c.radius + 1
	for _, p := range players {
		if p.Spectator || p.IsInvincible() {
			continue
		}
		d := g.Tile.Manhattan(p.Tile)
		if d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func (c *GhostController) patrol(g *Ghost) {
	if c.rng.Float64() < patrolKeepChance && c.maze.Walkable(g.Facing.Step(g.Tile)) {
		c.move(g, g.Facing)
		return
	}
	exits := c.maze.Exits(g.Tile)
	if len(exits) == 0 {
		return
	}
	c.move(g, exits[c.rng.Intn(len(exits))])
}

func (c *GhostController) move(g *Ghost, d Direction) {
	g.Facing = d
	g.Tile = d.Step(g.Tile)
}
