package main

import (
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	perfWindow      = 100
	perfLogInterval = 5 * time.Second
)

// PerfStats summarises recent tick timings
type PerfStats struct {
	AvgTickMs   float64 `json:"avg_tick_ms"`
	MaxTickMs   float64 `json:"max_tick_ms"`
	TicksPerSec float64 `json:"ticks_per_sec"`
	TotalTicks  uint64  `json:"total_ticks"`
	Players     int     `json:"players"`
	Since       string  `json:"since"`
}

// PerfMonitor keeps the last perfWindow tick durations and logs a summary
// every perfLogInterval.
type PerfMonitor struct {
	mu      sync.Mutex
	samples [perfWindow]time.Duration
	n       int
	next    int
	total   uint64
	players int
	started time.Time
	lastLog time.Time
	logTick uint64
	now     func() time.Time
}

// NewPerfMonitor creates a monitor starting now
func NewPerfMonitor() *PerfMonitor {
	now := time.Now()
	return &PerfMonitor{started: now, lastLog: now, now: time.Now}
}

// Record adds one tick duration
func (m *PerfMonitor) Record(d time.Duration, players int) {
	m.mu.Lock()
	m.samples[m.next] = d
	m.next = (m.next + 1) % perfWindow
	if m.n < perfWindow {
		m.n++
	}
	m.total++
	m.players = players

	now := m.now()
	if now.Sub(m.lastLog) < perfLogInterval {
		m.mu.Unlock()
		return
	}
	elapsed := now.Sub(m.lastLog).Seconds()
	tps := float64(m.total-m.logTick) / elapsed
	m.lastLog = now
	m.logTick = m.total
	avg, max := m.window()
	total := m.total
	m.mu.Unlock()

	log.Printf("[perf] tick avg=%.2fms max=%.2fms rate=%.1f/s players=%d total=%s",
		ms(avg), ms(max), tps, players, humanize.Comma(int64(total)))
}

// Stats returns the current summary
func (m *PerfMonitor) Stats() PerfStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, max := m.window()
	st := PerfStats{
		AvgTickMs:  ms(avg),
		MaxTickMs:  ms(max),
		TotalTicks: m.total,
		Players:    m.players,
		Since:      humanize.Time(m.started),
	}
	if up := m.now().Sub(m.started).Seconds(); up > 0 {
		st.TicksPerSec = float64(m.total) / up
	}
	return st
}

func (m *PerfMonitor) window() (avg, max time.Duration) {
	if m.n == 0 {
		return 0, 0
	}
	var sum time.Duration
	for i := 0; i < m.n; i++ {
		d := m.samples[i]
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / time.Duration(m.n), max
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
