package main

import "sort"

const eliminatedMessage = "You have been eliminated! You are now spectating until the next round."

// CollisionEngine resolves pickups and player/ghost contact for a tick.
// Order is fixed: pellets, power pellets, ghost contact.
type CollisionEngine struct {
	cfg    Config
	maze   *Maze
	reg    *Registry
	ghosts *GhostController
	grid   *OccupancyGrid
	cand   []EntityRef
}

// NewCollisionEngine wires the engine to the session's components
func NewCollisionEngine(cfg Config, maze *Maze, reg *Registry, ghosts *GhostController) *CollisionEngine {
	return &CollisionEngine{
		cfg:    cfg,
		maze:   maze,
		reg:    reg,
		ghosts: ghosts,
		grid:   NewOccupancyGrid(maze.Width, maze.Height),
	}
}

// Run performs one collision pass, appends outcome events to out and
// returns the number of ghosts eaten.
func (e *CollisionEngine) Run(pellets *PelletField, out *Outbox) int {
	players := e.reg.Players()

	for _, p := range players {
		if !p.Collides() || !pellets.TakePellet(p.Tile) {
			continue
		}
		p.Score += e.cfg.PelletScore
		p.Pellets++
		out.Broadcast(MsgPelletCollected, PelletMsg{
			PlayerID:  p.ID,
			PelletPos: p.Tile.Pair(),
			Score:     p.Score,
		})
	}

	for _, p := range players {
		if !p.Collides() || !pellets.TakePower(p.Tile) {
			continue
		}
		p.Score += e.cfg.PowerPelletScore
		p.Pellets++
		p.PowerTimer = e.cfg.PowerTicks
		p.Flashing = false
		out.Broadcast(MsgPowerPelletCollected, PowerPelletMsg{
			PlayerID:   p.ID,
			PelletPos:  p.Tile.Pair(),
			Score:      p.Score,
			PowerMode:  true,
			PowerTimer: p.PowerTimer,
		})
	}

	return e.resolveContacts(players, out)
}

// resolveContacts handles each ghost against the players on its tile,
// plus players it swapped tiles with this tick. A ghost resolves at most
// one player per tick.
func (e *CollisionEngine) resolveContacts(players []*Player, out *Outbox) int {
	eaten := 0
	e.grid.Clear()
	for i, p := range players {
		if p.Collides() {
			e.grid.Insert(p.Tile, EntityRef{Kind: RefPlayer, Idx: i})
		}
	}

	for _, g := range e.ghosts.Ghosts() {
		e.cand = append(e.cand[:0], e.grid.At(g.Tile)...)
		if g.PrevTile != g.Tile {
			for _, ref := range e.grid.At(g.PrevTile) {
				if players[ref.Idx].PrevTile == g.Tile {
					e.cand = append(e.cand, ref)
				}
			}
		}
		if len(e.cand) == 0 {
			continue
		}
		sort.Slice(e.cand, func(i, j int) bool { return e.cand[i].Idx < e.cand[j].Idx })

		var eater, victim *Player
		for _, ref := range e.cand {
			p := players[ref.Idx]
			if !p.Collides() {
				continue
			}
			if p.PowerMode() {
				eater = p
				break
			}
			if victim == nil && !p.IsInvincible() {
				victim = p
			}
		}

		switch {
		case eater != nil:
			e.eatGhost(eater, g, out)
			eaten++
		case victim != nil:
			e.catchPlayer(victim, g, out)
		}
	}
	return eaten
}

func (e *CollisionEngine) eatGhost(p *Player, g *Ghost, out *Outbox) {
	g.Reset()
	p.Score += e.cfg.GhostBounty
	p.GhostsEaten++
	out.Broadcast(MsgPlayerCaught, CaughtMsg{
		Type:     CaughtGhost,
		PlayerID: p.ID,
		GhostID:  g.ID,
		Score:    intPtr(p.Score),
	})
	debugf("[ghost] %s eaten by %s", g.ID, p.ID)
}

func (e *CollisionEngine) catchPlayer(p *Player, g *Ghost, out *Outbox) {
	p.Lives--
	p.LivesLost++
	p.pending = nil

	if p.Lives <= 0 {
		p.Lives = 0
		p.eliminate()
		out.Broadcast(MsgPlayerCaught, CaughtMsg{
			Type:     CaughtDied,
			PlayerID: p.ID,
			GhostID:  g.ID,
			Lives:    intPtr(0),
		})
		out.Send(p.ID, MsgPlayerEliminated, EliminatedMsg{
			PlayerID: p.ID,
			Message:  eliminatedMessage,
			Score:    p.Score,
		})
		debugf("[ghost] %s eliminated %s", g.ID, p.ID)
		return
	}

	p.Respawn(e.reg.NextSpawn(), e.cfg.InvincibleTicks)
	pos := e.maze.Pixel(p.Tile)
	out.Broadcast(MsgPlayerCaught, CaughtMsg{
		Type:       CaughtPlayer,
		PlayerID:   p.ID,
		GhostID:    g.ID,
		Lives:      intPtr(p.Lives),
		RespawnPos: &pos,
		Invincible: boolPtr(p.IsInvincible()),
	})
	debugf("[ghost] %s caught %s, %d lives left", g.ID, p.ID, p.Lives)
}

// Timers decrements power and invincibility once per tick, emitting the
// flashing onset and expiry events.
func (e *CollisionEngine) Timers(out *Outbox) {
	flashAt := e.cfg.FlashTicks()
	for _, p := range e.reg.Players() {
		if p.PowerTimer > 0 {
			p.PowerTimer--
			switch {
			case p.PowerTimer == 0:
				p.Flashing = false
				out.Broadcast(MsgPowerModeChanged, PowerModeMsg{PlayerID: p.ID})
			case !p.Flashing && p.PowerTimer <= flashAt:
				p.Flashing = true
				out.Broadcast(MsgPowerModeChanged, PowerModeMsg{
					PlayerID:   p.ID,
					PowerMode:  true,
					PowerTimer: p.PowerTimer,
					Flashing:   true,
				})
			}
		}
		if p.Invincible > 0 {
			p.Invincible--
			if p.Invincible == 0 {
				out.Broadcast(MsgInvincibilityChanged, InvincibilityMsg{PlayerID: p.ID})
			}
		}
	}
}
