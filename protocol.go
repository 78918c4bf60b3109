package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoinGame      = "join_game"
	MsgStartGame     = "start_game"
	MsgPlayerMove    = "player_move"
	MsgRestartGame   = "restart_game"
	MsgEndRound      = "end_round"
	MsgGetLobbyState = "get_lobby_state"
	MsgLeaveGame     = "leave_game"
)

// Server -> Client message types
const (
	MsgLobbyJoined          = "lobby_joined"
	MsgGameFull             = "game_full"
	MsgLobbyUpdated         = "lobby_updated"
	MsgLobbyState           = "lobby_state"
	MsgGameStarted          = "game_started"
	MsgStartGameError       = "start_game_error"
	MsgGameRestarted        = "game_restarted"
	MsgRoundStarted         = "round_started"
	MsgRoundEnded           = "round_ended"
	MsgGameEnded            = "game_ended"
	MsgPlayerJoined         = "player_joined"
	MsgPlayerDisconnected   = "player_disconnected"
	MsgPlayerMoved          = "player_moved"
	MsgPelletCollected      = "pellet_collected"
	MsgPowerPelletCollected = "power_pellet_collected"
	MsgPowerModeChanged     = "power_mode_changed"
	MsgInvincibilityChanged = "invincibility_changed"
	MsgPlayerCaught         = "player_caught"
	MsgPlayerEliminated     = "player_eliminated"
	MsgGhostsUpdated        = "ghosts_updated"
	MsgCameraPanned         = "camera_panned"
	MsgError                = "error"
)

// player_caught sub-types
const (
	CaughtPlayer = "player_caught"
	CaughtDied   = "player_died"
	CaughtGhost  = "ghost_eaten"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages. json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinMsg is sent when a player wants to join the game
type JoinMsg struct {
	Name   string `json:"name"`
	Binary bool   `json:"binary,omitempty"` // receive msgpack frames
}

// MoveMsg carries one movement intent
type MoveMsg struct {
	Direction Direction `json:"direction"`
}

// Position is a pixel-space coordinate
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlayerState is the full view of a player in snapshots
type PlayerState struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Position    Position  `json:"position"`
	Direction   Direction `json:"direction"`
	Score       int       `json:"score"`
	Lives       int       `json:"lives"`
	PowerMode   bool      `json:"power_mode"`
	PowerTimer  int       `json:"power_timer"`
	Flashing    bool      `json:"power_mode_flashing"`
	Invincible  bool      `json:"invincible"`
	IsSpectator bool      `json:"is_spectator"`
	IsHost      bool      `json:"is_host"`
}

// GhostState is the wire form of a ghost
type GhostState struct {
	ID        string    `json:"id"`
	Position  Position  `json:"position"`
	Color     string    `json:"color"`
	Direction Direction `json:"direction"`
	Mode      GhostMode `json:"mode"`
}

// LobbyPlayer is one row of the lobby listing
type LobbyPlayer struct {
	ID          string `json:"player_id"`
	Name        string `json:"name"`
	IsHost      bool   `json:"is_host"`
	IsSpectator bool   `json:"is_spectator"`
	Score       int    `json:"score"`
}

// LobbyState describes session membership and phase
type LobbyState struct {
	Phase       Phase         `json:"phase"`
	Round       int           `json:"round"`
	HostID      string        `json:"host_id"`
	Players     []LobbyPlayer `json:"players"`
	PlayerCount int           `json:"player_count"`
	MaxPlayers  int           `json:"max_players"`
	MinPlayers  int           `json:"min_players"`
	CanStart    bool          `json:"can_start"`
	RestartIn   int           `json:"restart_in,omitempty"` // ticks, round_ended only
}

// LeaderboardEntry is one frozen row of a round's results
type LeaderboardEntry struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
	Lives       int    `json:"lives"`
	Pellets     int    `json:"pellets"`
	GhostsEaten int    `json:"ghosts_eaten"`
	IsSpectator bool   `json:"is_spectator"`
}

// LobbyJoinedMsg answers a successful join
type LobbyJoinedMsg struct {
	PlayerID   string     `json:"player_id"`
	IsHost     bool       `json:"is_host"`
	LobbyState LobbyState `json:"lobby_state"`
}

// MessageMsg is the shared {message} payload
type MessageMsg struct {
	Message string `json:"message"`
}

// StartErrorMsg rejects a start_game intent
type StartErrorMsg struct {
	Error string `json:"error"`
}

// GameStartedMsg is the full snapshot sent on round start and late join
type GameStartedMsg struct {
	Round        int           `json:"round"`
	TileSize     int           `json:"tile_size"`
	MapData      [][]int       `json:"map_data"`
	Players      []PlayerState `json:"players"`
	Ghosts       []GhostState  `json:"ghosts"`
	Pellets      [][2]int      `json:"pellets"`
	PowerPellets [][2]int      `json:"power_pellets"`
	TimeLeft     int           `json:"time_left,omitempty"` // ticks
}

// PlayerMovedMsg is broadcast after an applied or blocked move
type PlayerMovedMsg struct {
	PlayerID    string    `json:"player_id"`
	Position    Position  `json:"position"`
	Direction   Direction `json:"direction"`
	Invincible  bool      `json:"invincible"`
	IsSpectator bool      `json:"is_spectator"`
}

// PlayerJoinedMsg announces a new player to the others
type PlayerJoinedMsg struct {
	PlayerID    string   `json:"player_id"`
	Name        string   `json:"name"`
	Position    Position `json:"position"`
	Score       int      `json:"score"`
	IsSpectator bool     `json:"is_spectator"`
}

// PlayerIDMsg is the shared {player_id} payload
type PlayerIDMsg struct {
	PlayerID string `json:"player_id"`
}

// PelletMsg reports a regular pellet pickup
type PelletMsg struct {
	PlayerID  string `json:"player_id"`
	PelletPos [2]int `json:"pellet_pos"`
	Score     int    `json:"score"`
}

// PowerPelletMsg reports a power pellet pickup
type PowerPelletMsg struct {
	PlayerID   string `json:"player_id"`
	PelletPos  [2]int `json:"pellet_pos"`
	Score      int    `json:"score"`
	PowerMode  bool   `json:"power_mode"`
	PowerTimer int    `json:"power_timer"`
}

// PowerModeMsg reports flashing onset or power expiry
type PowerModeMsg struct {
	PlayerID   string `json:"player_id"`
	PowerMode  bool   `json:"power_mode"`
	PowerTimer int    `json:"power_timer"`
	Flashing   bool   `json:"flashing"`
}

// InvincibilityMsg reports respawn immunity expiry
type InvincibilityMsg struct {
	PlayerID   string `json:"player_id"`
	Invincible bool   `json:"invincible"`
}

// CaughtMsg covers the three player_caught variants
type CaughtMsg struct {
	Type       string    `json:"type"`
	PlayerID   string    `json:"player_id"`
	GhostID    string    `json:"ghost_id,omitempty"`
	Lives      *int      `json:"lives,omitempty"`
	RespawnPos *Position `json:"respawn_pos,omitempty"`
	Invincible *bool     `json:"invincible,omitempty"`
	Score      *int      `json:"score,omitempty"`
}

// EliminatedMsg is sent only to the player who ran out of lives
type EliminatedMsg struct {
	PlayerID string `json:"player_id"`
	Message  string `json:"message"`
	Score    int    `json:"score"`
}

// GhostsMsg carries every ghost's position
type GhostsMsg struct {
	Ghosts []GhostState `json:"ghosts"`
}

// RoundEndedMsg carries the frozen leaderboard
type RoundEndedMsg struct {
	Round       int                `json:"round"`
	Reason      string             `json:"reason"`
	Message     string             `json:"message"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	HostID      string             `json:"host_id"`
	RestartIn   int                `json:"restart_in"` // ticks
}

// GameEndedMsg is sent when the server stops the session
type GameEndedMsg struct {
	Message     string             `json:"message"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// RoundStartedMsg precedes the game_started snapshot of an auto-restart
type RoundStartedMsg struct {
	Round   int    `json:"round"`
	Message string `json:"message"`
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
