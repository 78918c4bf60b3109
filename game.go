package main

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const inboxSize = 4096

var (
	ErrInboxFull     = errors.New("inbox full")
	ErrSessionClosed = errors.New("session closed")
)

// Intents queued by connections and applied at the next tick boundary.
type (
	JoinIntent struct {
		Name   string
		Conn   Broadcaster
		Binary bool
		Reply  chan<- JoinResult
	}
	JoinResult struct {
		PlayerID string
		IsHost   bool
		Err      error
	}
	LeaveIntent struct {
		PlayerID string
	}
	MoveIntent struct {
		PlayerID  string
		Direction Direction
	}
	StartIntent struct {
		PlayerID string
	}
	RestartIntent struct {
		PlayerID string
	}
	// EndRoundIntent with an empty PlayerID is the external signal
	EndRoundIntent struct {
		PlayerID string
	}
	LobbyQuery struct {
		PlayerID string
	}
	shutdownIntent struct {
		Message string
	}
)

// GameStats is a read-only summary published after every tick
type GameStats struct {
	Phase       Phase  `json:"phase"`
	Round       int    `json:"round"`
	Players     int    `json:"players"`
	Active      int    `json:"active"`
	Ghosts      int    `json:"ghosts"`
	PelletsLeft int    `json:"pellets_left"`
	Conns       int    `json:"conns"`
	Tick        uint64 `json:"tick"`
}

// Game is the session coordinator. Only the goroutine running Run (or a
// test calling update directly) touches world state; everything else
// goes through Submit.
type Game struct {
	ID string

	cfg     Config
	maze    *Maze
	mapRows [][]int
	reg     *Registry
	ghosts  *GhostController
	coll    *CollisionEngine
	round   *Round
	pellets *PelletField
	out     Outbox
	disp    *Dispatcher
	tick    uint64

	roundStart time.Time
	joined     bool
	halted     bool

	History RoundSink
	Perf    *PerfMonitor
	OnEmpty func(g *Game)

	mu       sync.Mutex
	inbox    chan any
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	stats    atomic.Pointer[GameStats]
}

// NewGame creates a session in the lobby phase on maze
func NewGame(cfg Config, maze *Maze, rng *rand.Rand) *Game {
	reg := NewRegistry(maze, cfg.MaxPlayers)
	ghosts := NewGhostController(maze, rng, cfg)
	g := &Game{
		ID:      GenerateUUID(),
		cfg:     cfg,
		maze:    maze,
		mapRows: maze.Rows(),
		reg:     reg,
		ghosts:  ghosts,
		coll:    NewCollisionEngine(cfg, maze, reg, ghosts),
		round:   NewRound(cfg),
		pellets: maze.NewPelletField(),
		disp:    NewDispatcher(),
		inbox:   make(chan any, inboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	g.publishStats()
	return g
}

// Submit queues an intent for the next tick. It never blocks.
func (g *Game) Submit(intent any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrSessionClosed
	}
	select {
	case g.inbox <- intent:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run starts the tick loop. It returns once the session is torn down or
// stopped.
func (g *Game) Run() {
	defer close(g.done)
	ticker := time.NewTicker(g.cfg.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.update()
			if g.halted {
				return
			}
		}
	}
}

// Stop terminates the tick loop without notifying clients
func (g *Game) Stop() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stopOnce.Do(func() { close(g.stop) })
}

// Done is closed when Run returns
func (g *Game) Done() <-chan struct{} {
	return g.done
}

// Shutdown asks the coordinator to send game_ended to everyone and stop
func (g *Game) Shutdown(message string) error {
	return g.Submit(shutdownIntent{Message: message})
}

// Stats returns the summary published by the last tick
func (g *Game) Stats() GameStats {
	return *g.stats.Load()
}

// update runs one tick of the pipeline
func (g *Game) update() {
	start := time.Now()
	g.tick++
	phase := g.round.Phase

	for _, p := range g.reg.Players() {
		p.PrevTile = p.Tile
	}
	g.drain()
	if g.halted {
		return
	}
	g.applyMoves()

	if g.round.Phase == PhasePlaying {
		moved := g.ghosts.Step(g.reg.Players())
		eaten := g.coll.Run(g.pellets, &g.out)
		g.coll.Timers(&g.out)
		if moved || eaten > 0 {
			g.out.Broadcast(MsgGhostsUpdated, GhostsMsg{Ghosts: g.ghosts.Snapshot()})
		}
	}

	// countdowns skip the tick an intent changed the phase on
	restart := false
	if g.round.Phase == phase {
		restart = g.round.Advance()
	}
	switch g.round.Phase {
	case PhasePlaying:
		if reason, ok := g.round.EndReason(g.reg, g.pellets); ok {
			g.finishRound(reason)
		}
	case PhaseRoundEnded:
		if restart && g.reg.Len() > 0 {
			g.beginRound()
			g.out.Broadcast(MsgRoundStarted, RoundStartedMsg{Round: g.round.Number, Message: "New round started!"})
			g.out.Broadcast(MsgGameStarted, g.snapshot())
			log.Printf("[round] auto-restart, round %d with %d players", g.round.Number, g.reg.Len())
		}
	}

	g.flush()
	g.publishStats()
	if g.Perf != nil {
		g.Perf.Record(time.Since(start), g.reg.Len())
	}
	if g.joined && g.reg.Len() == 0 {
		g.tryTeardown()
	}
}

// drain applies every queued intent without blocking
func (g *Game) drain() {
	for {
		select {
		case intent := <-g.inbox:
			g.handleIntent(intent)
			if g.halted {
				return
			}
		default:
			return
		}
	}
}

func (g *Game) handleIntent(intent any) {
	switch in := intent.(type) {
	case JoinIntent:
		g.handleJoin(in)
	case LeaveIntent:
		g.handleLeave(in.PlayerID)
	case MoveIntent:
		g.handleMove(in)
	case StartIntent:
		g.handleStart(in.PlayerID)
	case RestartIntent:
		g.handleRestart(in.PlayerID)
	case EndRoundIntent:
		g.handleEndRound(in.PlayerID)
	case LobbyQuery:
		if _, ok := g.reg.Get(in.PlayerID); ok {
			g.out.Send(in.PlayerID, MsgLobbyState, g.round.LobbyState(g.reg))
		}
	case shutdownIntent:
		g.out.Broadcast(MsgGameEnded, GameEndedMsg{
			Message:     in.Message,
			Leaderboard: BuildLeaderboard(g.reg.Players()),
		})
		g.flush()
		g.halt()
	default:
		log.Printf("[game] unknown intent %T", intent)
	}
}

func (g *Game) handleJoin(j JoinIntent) {
	id := GenerateUUID()
	p, err := g.reg.Admit(id, j.Name, g.cfg.StartLives)
	if err != nil {
		j.reply(JoinResult{Err: err})
		return
	}
	g.joined = true
	g.disp.Attach(id, j.Conn, j.Binary)

	switch g.round.Phase {
	case PhasePlaying:
		p.Invincible = g.cfg.InvincibleTicks
		if g.growGhosts() {
			g.out.BroadcastExcept(id, MsgGhostsUpdated, GhostsMsg{Ghosts: g.ghosts.Snapshot()})
		}
	default:
		p.Spectator = true
	}

	g.out.Send(id, MsgLobbyJoined, LobbyJoinedMsg{
		PlayerID:   id,
		IsHost:     p.Host,
		LobbyState: g.round.LobbyState(g.reg),
	})
	if g.round.Phase == PhasePlaying {
		g.out.Send(id, MsgGameStarted, g.snapshot())
	}
	g.out.BroadcastExcept(id, MsgPlayerJoined, PlayerJoinedMsg{
		PlayerID:    id,
		Name:        p.Name,
		Position:    g.maze.Pixel(p.Tile),
		Score:       p.Score,
		IsSpectator: p.Spectator,
	})
	if g.round.Phase == PhaseLobby {
		g.out.Broadcast(MsgLobbyUpdated, g.round.LobbyState(g.reg))
	}
	log.Printf("[join] %s (%s) joined, phase=%s players=%d host=%v", p.Name, id, g.round.Phase, g.reg.Len(), p.Host)
	j.reply(JoinResult{PlayerID: id, IsHost: p.Host})
}

func (j JoinIntent) reply(res JoinResult) {
	if j.Reply == nil {
		return
	}
	select {
	case j.Reply <- res:
	default:
	}
}

func (g *Game) handleLeave(id string) {
	removed, newHost := g.reg.Remove(id)
	if removed == nil {
		debugf("[leave] unknown player %s", id)
		return
	}
	g.disp.Detach(id)
	g.out.Broadcast(MsgPlayerDisconnected, PlayerIDMsg{PlayerID: id})
	if newHost != nil {
		log.Printf("[host] %s left, %s is now host", id, newHost.ID)
	}
	if newHost != nil || g.round.Phase == PhaseLobby {
		g.out.Broadcast(MsgLobbyUpdated, g.round.LobbyState(g.reg))
	}
	log.Printf("[leave] %s (%s) left, players=%d", removed.Name, id, g.reg.Len())
}

func (g *Game) handleMove(m MoveIntent) {
	p, ok := g.reg.Get(m.PlayerID)
	if !ok {
		debugf("[move] unknown player %s", m.PlayerID)
		return
	}
	if !m.Direction.Valid() {
		g.out.Send(p.ID, MsgError, MessageMsg{Message: "Invalid direction"})
		return
	}
	if !p.Spectator && g.round.Phase != PhasePlaying {
		return
	}
	if !p.QueueMove(m.Direction, g.cfg.MaxPendingMoves) {
		debugf("[move] dropped move for %s, buffer full", p.ID)
	}
}

// applyMoves applies at most one buffered move per player, in join order
func (g *Game) applyMoves() {
	for _, p := range g.reg.Players() {
		d, ok := p.nextMove()
		if !ok {
			continue
		}
		res, err := g.reg.ApplyMove(p.ID, d)
		if err != nil {
			continue
		}
		switch res {
		case MovePanned:
			g.out.Send(p.ID, MsgCameraPanned, p.Camera)
		default:
			g.out.Broadcast(MsgPlayerMoved, PlayerMovedMsg{
				PlayerID:    p.ID,
				Position:    g.maze.Pixel(p.Tile),
				Direction:   p.Facing,
				Invincible:  p.IsInvincible(),
				IsSpectator: p.Spectator,
			})
		}
	}
}

func (g *Game) handleStart(id string) {
	p, ok := g.reg.Get(id)
	if !ok {
		debugf("[start] unknown player %s", id)
		return
	}
	if err := g.round.CheckStart(p, g.reg); err != nil {
		g.out.Send(id, MsgStartGameError, StartErrorMsg{Error: startRejection(err, g.cfg.MinPlayers)})
		return
	}
	g.beginRound()
	g.out.Broadcast(MsgGameStarted, g.snapshot())
	log.Printf("[round] host %s started round %d with %d players", id, g.round.Number, g.reg.Len())
}

func (g *Game) handleRestart(id string) {
	p, ok := g.reg.Get(id)
	if !ok {
		debugf("[restart] unknown player %s", id)
		return
	}
	if err := g.round.CheckRestart(p); err != nil {
		g.out.Send(id, MsgError, MessageMsg{Message: restartRejection(err)})
		return
	}
	g.out.Broadcast(MsgGameRestarted, MessageMsg{Message: "New round started by host!"})
	g.beginRound()
	g.out.Broadcast(MsgGameStarted, g.snapshot())
	log.Printf("[round] host %s restarted, round %d", id, g.round.Number)
}

func (g *Game) handleEndRound(id string) {
	if id == "" {
		if g.round.Phase == PhasePlaying {
			g.finishRound(ReasonExternal)
		}
		return
	}
	p, ok := g.reg.Get(id)
	if !ok {
		debugf("[end] unknown player %s", id)
		return
	}
	if err := g.round.CheckEnd(p); err != nil {
		g.out.Send(id, MsgError, MessageMsg{Message: endRejection(err)})
		return
	}
	g.finishRound(ReasonHostEnded)
}

// beginRound resets players, ghosts and pellets and enters playing
func (g *Game) beginRound() {
	g.round.Begin()
	g.reg.ResetSpawnCursor()
	players := g.reg.Players()
	for _, p := range players {
		p.Spectator = true
	}
	for _, p := range players {
		p.ResetForRound(g.reg.NextSpawn(), g.cfg.StartLives)
	}
	g.growGhosts()
	g.ghosts.Reset()
	g.pellets = g.maze.NewPelletField()
	g.roundStart = time.Now()
}

func (g *Game) finishRound(reason string) {
	lb := g.round.Finish(reason, g.reg)
	g.out.Broadcast(MsgRoundEnded, RoundEndedMsg{
		Round:       g.round.Number,
		Reason:      reason,
		Message:     g.round.Message(),
		Leaderboard: lb,
		HostID:      g.reg.HostID(),
		RestartIn:   g.round.RestartIn,
	})
	log.Printf("[round] round %d ended: %s", g.round.Number, reason)
	if g.History != nil {
		g.History.Record(RoundResult{
			SessionID: g.ID,
			Round:     g.round.Number,
			Reason:    reason,
			StartedAt: g.roundStart,
			EndedAt:   time.Now(),
			Entries:   lb,
		})
	}
}

func (g *Game) snapshot() GameStartedMsg {
	return GameStartedMsg{
		Round:        g.round.Number,
		TileSize:     g.maze.TileSize,
		MapData:      g.mapRows,
		Players:      g.reg.Snapshot(),
		Ghosts:       g.ghosts.Snapshot(),
		Pellets:      g.pellets.Pellets(),
		PowerPellets: g.pellets.PowerPellets(),
		TimeLeft:     g.round.TimeLeft,
	}
}

func (g *Game) flush() {
	if g.out.Len() == 0 {
		return
	}
	g.disp.Flush(g.out.Drain())
}

func (g *Game) publishStats() {
	g.stats.Store(&GameStats{
		Phase:       g.round.Phase,
		Round:       g.round.Number,
		Players:     g.reg.Len(),
		Active:      g.reg.ActiveCount(),
		Ghosts:      len(g.ghosts.Ghosts()),
		PelletsLeft: g.pellets.Remaining(),
		Conns:       g.disp.Len(),
		Tick:        g.tick,
	})
}

// growGhosts keeps at least one ghost per active player
func (g *Game) growGhosts() bool {
	added := g.ghosts.Ensure(g.reg.ActiveCount())
	if added > 0 {
		log.Printf("[ghost] roster grew by %d to %d", added, len(g.ghosts.Ghosts()))
	}
	return added > 0
}

// tryTeardown closes an empty session unless intents are still queued
func (g *Game) tryTeardown() {
	g.mu.Lock()
	if len(g.inbox) > 0 {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()
	log.Printf("[game] session %s empty, tearing down", g.ID)
	g.halt()
	if g.OnEmpty != nil {
		g.OnEmpty(g)
	}
}

func (g *Game) halt() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.halted = true
}
