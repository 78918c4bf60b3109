package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// RoundRow represents a completed round
type RoundRow struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Number    int       `json:"round"`
	Reason    string    `json:"reason"`
	Duration  float64   `json:"duration"` // seconds
	Players   int       `json:"players"`
	WinnerID  string    `json:"winner_id"`
	Winner    string    `json:"winner"`
	TopScore  int       `json:"top_score"`
	EndedAt   time.Time `json:"ended_at"`
}

// ScoreRow is one player's result in a stored round
type ScoreRow struct {
	RoundID     int64     `json:"round_id"`
	PlayerID    string    `json:"player_id"`
	Name        string    `json:"name"`
	Score       int       `json:"score"`
	Rank        int       `json:"rank"`
	Pellets     int       `json:"pellets"`
	GhostsEaten int       `json:"ghosts_eaten"`
	Lives       int       `json:"lives"`
	EndedAt     time.Time `json:"ended_at"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		reason TEXT NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		players INTEGER NOT NULL DEFAULT 0,
		ended_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS round_scores (
		round_id INTEGER NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
		player_id TEXT NOT NULL,
		name TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		rank INTEGER NOT NULL DEFAULT 0,
		pellets INTEGER NOT NULL DEFAULT 0,
		ghosts_eaten INTEGER NOT NULL DEFAULT 0,
		lives INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (round_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_round_scores_score ON round_scores(score DESC);
	CREATE INDEX IF NOT EXISTS idx_rounds_ended ON rounds(ended_at DESC);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// GetSetting returns a stored setting or "" when absent
func (db *DB) GetSetting(key string) string {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("DB setting %s: %v", key, err)
	}
	return v
}

// SetSetting upserts a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// InsertRound stores a round and its scores in one transaction
func (db *DB) InsertRound(r RoundResult) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertRoundTx(tx, r)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertRoundTx(tx *sql.Tx, r RoundResult) (int64, error) {
	res, err := tx.Exec(
		"INSERT INTO rounds (session_id, number, reason, duration, players, ended_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.SessionID, r.Round, r.Reason, r.Duration().Seconds(), len(r.Entries), r.EndedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert round: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO round_scores (round_id, player_id, name, score, rank, pellets, ghosts_eaten, lives)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare scores: %w", err)
	}
	defer stmt.Close()
	for _, e := range r.Entries {
		if _, err := stmt.Exec(id, e.PlayerID, e.Name, e.Score, e.Rank, e.Pellets, e.GhostsEaten, e.Lives); err != nil {
			return 0, fmt.Errorf("insert score: %w", err)
		}
	}
	return id, nil
}

// TopScores returns the best single-round results across all rounds
func (db *DB) TopScores(limit int) ([]ScoreRow, error) {
	rows, err := db.conn.Query(`
		SELECT s.round_id, s.player_id, s.name, s.score, s.rank, s.pellets, s.ghosts_eaten, s.lives, r.ended_at
		FROM round_scores s
		JOIN rounds r ON r.id = s.round_id
		ORDER BY s.score DESC, r.ended_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ScoreRow{}
	for rows.Next() {
		var s ScoreRow
		var ended string
		if err := rows.Scan(&s.RoundID, &s.PlayerID, &s.Name, &s.Score, &s.Rank, &s.Pellets, &s.GhostsEaten, &s.Lives, &ended); err != nil {
			return nil, err
		}
		s.EndedAt = parseTime(ended)
		result = append(result, s)
	}
	return result, rows.Err()
}

// RecentRounds returns the latest rounds with their winner
func (db *DB) RecentRounds(limit int) ([]RoundRow, error) {
	rows, err := db.conn.Query(`
		SELECT r.id, r.session_id, r.number, r.reason, r.duration, r.players, r.ended_at,
			COALESCE(s.player_id, ''), COALESCE(s.name, ''), COALESCE(s.score, 0)
		FROM rounds r
		LEFT JOIN round_scores s ON s.round_id = r.id AND s.rank = 1
		ORDER BY r.ended_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []RoundRow{}
	for rows.Next() {
		var r RoundRow
		var ended string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Number, &r.Reason, &r.Duration, &r.Players, &ended,
			&r.WinnerID, &r.Winner, &r.TopScore); err != nil {
			return nil, err
		}
		r.EndedAt = parseTime(ended)
		result = append(result, r)
	}
	return result, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
