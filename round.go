package main

import (
	"errors"
	"fmt"
	"sort"
)

// Phase is the session lifecycle state
type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhasePlaying    Phase = "playing"
	PhaseRoundEnded Phase = "round_ended"
)

// Round-end reasons
const (
	ReasonAllDead        = "all_dead"
	ReasonPelletsCleared = "pellets_cleared"
	ReasonTimeUp         = "time_up"
	ReasonHostEnded      = "host_ended"
	ReasonExternal       = "external"
)

var (
	ErrNotHost          = errors.New("not the host")
	ErrWrongPhase       = errors.New("wrong phase")
	ErrNotEnoughPlayers = errors.New("not enough players")
)

var reasonMessages = map[string]string{
	ReasonAllDead:        "All players eliminated! Round ended.",
	ReasonPelletsCleared: "All pellets collected! Round ended.",
	ReasonTimeUp:         "Time's up! Round ended.",
	ReasonHostEnded:      "The host ended the round.",
	ReasonExternal:       "Round ended by the server.",
}

// Round is the lobby/round state machine. Transitions are driven by the
// coordinator; Round itself only validates and records them.
type Round struct {
	cfg Config

	Phase       Phase
	Number      int
	TimeLeft    int // ticks, only counted when RoundTicks > 0
	RestartIn   int // ticks until auto-restart in round_ended
	Reason      string
	Leaderboard []LeaderboardEntry
}

// NewRound returns a state machine in the lobby
func NewRound(cfg Config) *Round {
	return &Round{cfg: cfg, Phase: PhaseLobby}
}

// CheckStart validates a start_game intent
func (r *Round) CheckStart(requester *Player, reg *Registry) error {
	if requester == nil || !requester.Host {
		return ErrNotHost
	}
	if r.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	if reg.Len() < r.cfg.MinPlayers {
		return ErrNotEnoughPlayers
	}
	return nil
}

// CheckRestart validates a restart_game intent
func (r *Round) CheckRestart(requester *Player) error {
	if requester == nil || !requester.Host {
		return ErrNotHost
	}
	if r.Phase != PhaseRoundEnded {
		return ErrWrongPhase
	}
	return nil
}

// CheckEnd validates a host end_round intent
func (r *Round) CheckEnd(requester *Player) error {
	if requester == nil || !requester.Host {
		return ErrNotHost
	}
	if r.Phase != PhasePlaying {
		return ErrWrongPhase
	}
	return nil
}

// Begin enters playing with the next round number
func (r *Round) Begin() {
	r.Phase = PhasePlaying
	r.Number++
	r.TimeLeft = r.cfg.RoundTicks
	r.RestartIn = 0
	r.Reason = ""
	r.Leaderboard = nil
}

// EndReason reports whether the round must end now and why
func (r *Round) EndReason(reg *Registry, pellets *PelletField) (string, bool) {
	if r.Phase != PhasePlaying {
		return "", false
	}
	if reg.Len() > 0 && reg.ActiveCount() == 0 {
		return ReasonAllDead, true
	}
	if pellets.Total() > 0 && pellets.Remaining() == 0 {
		return ReasonPelletsCleared, true
	}
	if r.cfg.RoundTicks > 0 && r.TimeLeft <= 0 {
		return ReasonTimeUp, true
	}
	return "", false
}

// Finish enters round_ended, freezes the leaderboard and arms the
// auto-restart countdown.
func (r *Round) Finish(reason string, reg *Registry) []LeaderboardEntry {
	r.Phase = PhaseRoundEnded
	r.Reason = reason
	r.RestartIn = r.cfg.RestartTicks
	r.Leaderboard = BuildLeaderboard(reg.Players())
	return r.Leaderboard
}

// Advance runs the per-tick countdowns. It returns true when the
// auto-restart deadline has passed.
func (r *Round) Advance() bool {
	switch r.Phase {
	case PhasePlaying:
		if r.cfg.RoundTicks > 0 && r.TimeLeft > 0 {
			r.TimeLeft--
		}
	case PhaseRoundEnded:
		if r.RestartIn > 0 {
			r.RestartIn--
		}
		return r.RestartIn == 0
	}
	return false
}

// Message returns the human-readable round-end message
func (r *Round) Message() string {
	if m, ok := reasonMessages[r.Reason]; ok {
		return m
	}
	return "Round ended."
}

// LobbyState builds the membership view sent to clients
func (r *Round) LobbyState(reg *Registry) LobbyState {
	ls := LobbyState{
		Phase:       r.Phase,
		Round:       r.Number,
		HostID:      reg.HostID(),
		Players:     make([]LobbyPlayer, 0, reg.Len()),
		PlayerCount: reg.Len(),
		MaxPlayers:  r.cfg.MaxPlayers,
		MinPlayers:  r.cfg.MinPlayers,
		CanStart:    r.Phase == PhaseLobby && reg.Len() >= r.cfg.MinPlayers,
	}
	if r.Phase == PhaseRoundEnded {
		ls.RestartIn = r.RestartIn
	}
	for _, p := range reg.Players() {
		ls.Players = append(ls.Players, LobbyPlayer{
			ID:          p.ID,
			Name:        p.Name,
			IsHost:      p.Host,
			IsSpectator: p.Spectator,
			Score:       p.Score,
		})
	}
	return ls
}

// BuildLeaderboard sorts players by score, ties broken by join order
func BuildLeaderboard(players []*Player) []LeaderboardEntry {
	sorted := make([]*Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	out := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		out[i] = LeaderboardEntry{
			PlayerID:    p.ID,
			Name:        p.Name,
			Score:       p.Score,
			Rank:        i + 1,
			Lives:       p.Lives,
			Pellets:     p.Pellets,
			GhostsEaten: p.GhostsEaten,
			IsSpectator: p.Spectator,
		}
	}
	return out
}

func startRejection(err error, minPlayers int) string {
	switch {
	case errors.Is(err, ErrNotHost):
		return "Only the host can start the game"
	case errors.Is(err, ErrWrongPhase):
		return "Game is not in lobby state"
	case errors.Is(err, ErrNotEnoughPlayers):
		return fmt.Sprintf("Need at least %d player(s) to start", minPlayers)
	}
	return err.Error()
}

func restartRejection(err error) string {
	if errors.Is(err, ErrNotHost) {
		return "Only the host can restart the game"
	}
	return "The game can only be restarted after a round ends"
}

func endRejection(err error) string {
	if errors.Is(err, ErrNotHost) {
		return "Only the host can end the round"
	}
	return "No round is in progress"
}
