package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of a session. Timers are tick counts.
type Config struct {
	Addr      string
	ClientDir string
	DBPath    string
	MapFile   string
	PublicURL string
	AdminPass string

	TickRate        int // simulation ticks per second
	PowerTicks      int // power mode duration
	InvincibleTicks int // post-respawn immunity
	RestartTicks    int // auto-restart delay after a round ends
	RoundTicks      int // round time limit, 0 = unlimited
	FlashFraction   float64

	MaxPlayers int
	MinPlayers int
	StartLives int

	GhostCount     int
	GhostMoveEvery int // ghosts step one tile every N ticks
	PursuitRadius  int // tiles, Manhattan

	MapWidth    int
	MapHeight   int
	TileSize    int
	SpawnPoints int

	PelletScore      int
	PowerPelletScore int
	GhostBounty      int

	MaxPendingMoves int
	Seed            int64
}

// DefaultConfig returns the stock product constants.
func DefaultConfig() Config {
	c := Config{
		Addr:   ":8080",
		DBPath: "pacman.db",

		TickRate:      10,
		PowerTicks:    300,
		FlashFraction: 0.2,

		MaxPlayers: 30,
		MinPlayers: 1,
		StartLives: 3,

		GhostCount:     20,
		GhostMoveEvery: 4,
		PursuitRadius:  8,

		MapWidth:    80,
		MapHeight:   60,
		TileSize:    20,
		SpawnPoints: 32,

		PelletScore:      10,
		PowerPelletScore: 50,
		GhostBounty:      200,

		MaxPendingMoves: 3,
	}
	c.InvincibleTicks = c.Ticks(10)
	c.RestartTicks = c.Ticks(60)
	c.RoundTicks = c.Ticks(300)
	return c
}

// Ticks converts a duration in simulated seconds to a tick count.
func (c Config) Ticks(seconds float64) int {
	return int(math.Round(seconds * float64(c.TickRate)))
}

// TickDuration is the wall-clock interval between ticks.
func (c Config) TickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// FlashTicks is the remaining power timer at which clients start flashing.
func (c Config) FlashTicks() int {
	return int(math.Ceil(float64(c.PowerTicks)*c.FlashFraction - 1e-9))
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 || c.TickRate > 120 {
		errs = append(errs, fmt.Errorf("tick rate must be in 1..120, got %d", c.TickRate))
	}
	if c.MapWidth < 8 || c.MapHeight < 8 {
		errs = append(errs, fmt.Errorf("map must be at least 8x8, got %dx%d", c.MapWidth, c.MapHeight))
	}
	if c.TileSize <= 0 {
		errs = append(errs, errors.New("tile size must be positive"))
	}
	if c.MaxPlayers <= 0 {
		errs = append(errs, errors.New("max players must be positive"))
	}
	if c.MinPlayers < 1 || c.MinPlayers > c.MaxPlayers {
		errs = append(errs, fmt.Errorf("min players must be in 1..%d, got %d", c.MaxPlayers, c.MinPlayers))
	}
	if c.StartLives <= 0 {
		errs = append(errs, errors.New("start lives must be positive"))
	}
	if c.PowerTicks <= 0 || c.InvincibleTicks < 0 || c.RestartTicks <= 0 || c.RoundTicks < 0 {
		errs = append(errs, errors.New("timers must be non-negative and power/restart timers positive"))
	}
	if c.FlashFraction < 0 || c.FlashFraction > 1 {
		errs = append(errs, fmt.Errorf("flash fraction must be in 0..1, got %v", c.FlashFraction))
	}
	if c.GhostMoveEvery <= 0 {
		errs = append(errs, errors.New("ghost move cadence must be positive"))
	}
	if c.MaxPendingMoves <= 0 {
		errs = append(errs, errors.New("max pending moves must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig layers defaults, environment (optionally from .env) and flags.
func LoadConfig(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := DefaultConfig()
	powerSec := float64(c.PowerTicks) / float64(c.TickRate)
	envString(&c.Addr, "PACMAN_ADDR")
	envString(&c.ClientDir, "PACMAN_CLIENT_DIR")
	envString(&c.DBPath, "PACMAN_DB")
	envString(&c.MapFile, "PACMAN_MAP")
	envString(&c.PublicURL, "PACMAN_PUBLIC_URL")
	envString(&c.AdminPass, "PACMAN_ADMIN_PASSWORD")
	envInt(&c.TickRate, "PACMAN_TICK_RATE")
	envInt(&c.MaxPlayers, "PACMAN_MAX_PLAYERS")
	envInt(&c.MinPlayers, "PACMAN_MIN_PLAYERS")
	envInt(&c.GhostCount, "PACMAN_GHOSTS")
	envInt64(&c.Seed, "PACMAN_SEED")

	invincibleSec := 10.0
	restartSec := 60.0
	roundSec := 300.0
	envFloat(&powerSec, "PACMAN_POWER_SECONDS")
	envFloat(&invincibleSec, "PACMAN_INVINCIBLE_SECONDS")
	envFloat(&restartSec, "PACMAN_RESTART_SECONDS")
	envFloat(&roundSec, "PACMAN_ROUND_SECONDS")

	fs := flag.NewFlagSet("pacman-server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.ClientDir, "client", c.ClientDir, "Path to static client directory (empty disables)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite round history path (empty disables)")
	fs.StringVar(&c.MapFile, "map", c.MapFile, "ASCII maze file (empty generates one)")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "URL advertised by /join.png")
	fs.StringVar(&c.AdminPass, "admin-password", c.AdminPass, "Admin password for /admin endpoints (empty disables)")
	fs.IntVar(&c.TickRate, "tick-rate", c.TickRate, "Simulation ticks per second")
	fs.IntVar(&c.MaxPlayers, "max-players", c.MaxPlayers, "Session capacity")
	fs.IntVar(&c.MinPlayers, "min-players", c.MinPlayers, "Players required to start")
	fs.IntVar(&c.GhostCount, "ghosts", c.GhostCount, "Minimum ghost roster")
	fs.IntVar(&c.MapWidth, "map-width", c.MapWidth, "Generated maze width in tiles")
	fs.IntVar(&c.MapHeight, "map-height", c.MapHeight, "Generated maze height in tiles")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Maze/ghost RNG seed (0 = time based)")
	fs.Float64Var(&powerSec, "power-seconds", powerSec, "Power mode duration")
	fs.Float64Var(&invincibleSec, "invincible-seconds", invincibleSec, "Respawn invincibility duration")
	fs.Float64Var(&restartSec, "restart-seconds", restartSec, "Auto-restart delay after a round ends")
	fs.Float64Var(&roundSec, "round-seconds", roundSec, "Round time limit (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	c.PowerTicks = c.Ticks(powerSec)
	c.InvincibleTicks = c.Ticks(invincibleSec)
	c.RestartTicks = c.Ticks(restartSec)
	c.RoundTicks = c.Ticks(roundSec)
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c, c.Validate()
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
