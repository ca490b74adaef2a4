// Package health tracks liveness of the connection loop. The loop calls
// Beat once per iteration; the monitor turns beat recency into a status
// the HTTP handler can report.
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status classifies the connection loop's liveness.
type Status int

const (
	Unknown Status = iota
	Healthy
	Stale
	Stopped
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Stale:
		return "stale"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures staleness detection.
type Config struct {
	// StaleAfter is how long the loop may go without a beat before it
	// is reported stale. The loop beats at least once per second when
	// alive, so this allows several missed polls.
	StaleAfter time.Duration
}

// DefaultConfig returns the default staleness threshold.
func DefaultConfig() Config {
	return Config{StaleAfter: 10 * time.Second}
}

// Snapshot is a point-in-time view of loop liveness.
type Snapshot struct {
	Status   Status
	LastBeat time.Time
	Beats    uint64
	StaleFor time.Duration
}

// Monitor receives heartbeats from the connection loop.
type Monitor struct {
	config Config
	logger *logrus.Logger

	mu       sync.RWMutex
	running  bool
	lastBeat time.Time
	beats    uint64
}

// NewMonitor creates a monitor. Zero StaleAfter falls back to the
// default threshold.
func NewMonitor(config Config, logger *logrus.Logger) *Monitor {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultConfig().StaleAfter
	}
	return &Monitor{config: config, logger: logger}
}

// Beat records one loop iteration.
func (m *Monitor) Beat() {
	m.mu.Lock()
	m.lastBeat = time.Now()
	m.beats++
	m.mu.Unlock()
}

// SetRunning marks whether the loop is supposed to be alive. A stopped
// loop is reported as stopped rather than stale.
func (m *Monitor) SetRunning(running bool) {
	m.mu.Lock()
	m.running = running
	m.mu.Unlock()
}

// Snapshot classifies the current liveness.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{LastBeat: m.lastBeat, Beats: m.beats}
	switch {
	case !m.running:
		snap.Status = Stopped
	case m.lastBeat.IsZero():
		snap.Status = Unknown
	default:
		idle := time.Since(m.lastBeat)
		if idle > m.config.StaleAfter {
			snap.Status = Stale
			snap.StaleFor = idle
		} else {
			snap.Status = Healthy
		}
	}
	return snap
}
