package main

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

const (
	joinRetries     = 3
	shutdownTimeout = 2 * time.Second
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrServerStopping = errors.New("server is shutting down")
)

// SessionManager owns the single live session. The session is created on
// the first join and discarded once its last player leaves.
type SessionManager struct {
	cfg     Config
	history RoundSink
	perf    *PerfMonitor

	mu      sync.Mutex
	game    *Game
	created int64
	stopped bool
}

// NewSessionManager creates a manager with no live session
func NewSessionManager(cfg Config, history RoundSink, perf *PerfMonitor) *SessionManager {
	return &SessionManager{cfg: cfg, history: history, perf: perf}
}

// Current returns the live session or nil
func (sm *SessionManager) Current() *Game {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.game
}

// Join hands a join intent to the live session, creating one if needed.
// It returns the session the intent was queued on.
func (sm *SessionManager) Join(j JoinIntent) (*Game, error) {
	for i := 0; i < joinRetries; i++ {
		g, err := sm.ensure()
		if err != nil {
			return nil, err
		}
		err = g.Submit(j)
		if errors.Is(err, ErrSessionClosed) {
			// lost the race with teardown
			sm.discard(g)
			continue
		}
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, ErrSessionClosed
}

// EndRound sends the external end-round signal to the live session
func (sm *SessionManager) EndRound(source string) error {
	g := sm.Current()
	if g == nil {
		return ErrNoSession
	}
	log.Printf("[admin] end-round requested by %s", source)
	return g.Submit(EndRoundIntent{})
}

// Shutdown notifies every connection with game_ended and stops the
// session. Later joins are refused.
func (sm *SessionManager) Shutdown(message string) {
	sm.mu.Lock()
	sm.stopped = true
	g := sm.game
	sm.game = nil
	sm.mu.Unlock()
	if g == nil {
		return
	}

	if err := g.Shutdown(message); err != nil {
		log.Printf("[session] shutdown of %s: %v", g.ID, err)
	} else {
		select {
		case <-g.Done():
		case <-time.After(shutdownTimeout):
			log.Printf("[session] %s did not stop in %s", g.ID, shutdownTimeout)
		}
	}
	g.Stop()
}

func (sm *SessionManager) ensure() (*Game, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopped {
		return nil, ErrServerStopping
	}
	if sm.game != nil {
		return sm.game, nil
	}

	rng := rand.New(rand.NewSource(sm.cfg.Seed + sm.created))
	maze, err := LoadMaze(sm.cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("build maze: %w", err)
	}
	sm.created++

	g := NewGame(sm.cfg, maze, rng)
	g.History = sm.history
	g.Perf = sm.perf
	g.OnEmpty = sm.discard
	sm.game = g
	go g.Run()
	log.Printf("[session] %s created (%dx%d, %d spawns)", g.ID, maze.Width, maze.Height, len(maze.Spawns))
	return g, nil
}

// discard forgets g if it is still the live session
func (sm *SessionManager) discard(g *Game) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.game == g {
		sm.game = nil
		log.Printf("[session] %s discarded", g.ID)
	}
}
