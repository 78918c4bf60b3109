package main

import (
	"log"
	"sync"
	"time"
)

const (
	historyQueueSize  = 1024
	historyBatchSize  = 50
	historyFlushEvery = 5 * time.Second
)

// RoundSink receives finished rounds. Record must not block the tick loop.
type RoundSink interface {
	Record(RoundResult)
}

// RoundResult is the outcome of one finished round
type RoundResult struct {
	SessionID string
	Round     int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
	Entries   []LeaderboardEntry
}

// Duration is how long the round was in play
func (r RoundResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// HistoryRecorder persists round results with batched background writes
type HistoryRecorder struct {
	db      *DB
	results chan RoundResult
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu      sync.Mutex
	dropped int
	written int
}

// NewHistoryRecorder creates and starts the background writer
func NewHistoryRecorder(db *DB) *HistoryRecorder {
	h := &HistoryRecorder{
		db:      db,
		results: make(chan RoundResult, historyQueueSize),
		stop:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.writer()
	return h
}

// Record enqueues a result (non-blocking)
func (h *HistoryRecorder) Record(r RoundResult) {
	select {
	case h.results <- r:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		log.Printf("history: queue full, dropping round %d of %s", r.Round, r.SessionID)
	}
}

// Counts returns how many rounds were written and dropped
func (h *HistoryRecorder) Counts() (written, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written, h.dropped
}

// Stop flushes whatever is queued and stops the writer
func (h *HistoryRecorder) Stop() {
	h.once.Do(func() { close(h.stop) })
	h.wg.Wait()
}

func (h *HistoryRecorder) writer() {
	defer h.wg.Done()

	batch := make([]RoundResult, 0, historyBatchSize)
	ticker := time.NewTicker(historyFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case r := <-h.results:
			batch = append(batch, r)
			if len(batch) >= historyBatchSize {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stop:
			for {
				select {
				case r := <-h.results:
					batch = append(batch, r)
				default:
					h.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch in one transaction
func (h *HistoryRecorder) flush(batch []RoundResult) {
	if h.db == nil || len(batch) == 0 {
		return
	}
	tx, err := h.db.conn.Begin()
	if err != nil {
		log.Printf("history: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	for _, r := range batch {
		if _, err := insertRoundTx(tx, r); err != nil {
			log.Printf("history: %v", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("history: commit error: %v", err)
		return
	}

	h.mu.Lock()
	h.written += len(batch)
	h.mu.Unlock()
	debugf("history: wrote %d rounds", len(batch))
}
