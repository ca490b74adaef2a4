// Package ratelimit implements per-source fixed-window admission control
// for inbound connections. The limiter tracks a bounded table of source
// addresses; when the table is full the longest-idle entry is evicted so
// memory stays constant under address churn.
package ratelimit

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the limiter settings.
type Config struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Window is the fixed admission window per source.
	Window time.Duration `toml:"window" json:"window"`
	// MaxPerWindow is how many connections one source may open per window.
	MaxPerWindow int `toml:"maxPerWindow" json:"maxPerWindow"`
	// MaxSources bounds the tracking table.
	MaxSources int `toml:"maxSources" json:"maxSources"`
}

// DefaultConfig returns the limiter defaults: 10 connections per source
// per minute, tracking at most 1024 sources.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Window:       time.Minute,
		MaxPerWindow: 10,
		MaxSources:   1024,
	}
}

type source struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Limiter decides whether a source may open another connection. It is
// not safe for concurrent use; the connection loop is its only caller.
type Limiter struct {
	config  Config
	sources map[string]*source
	logger  *logrus.Logger
	now     func() time.Time
}

// New builds a limiter from config. Zero or negative limits fall back to
// defaults so a partially filled config cannot disable tracking by
// accident.
func New(config Config, logger *logrus.Logger) *Limiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxPerWindow < 1 {
		config.MaxPerWindow = 10
	}
	if config.MaxSources < 1 {
		config.MaxSources = 1024
	}
	return &Limiter{
		config:  config,
		sources: make(map[string]*source),
		logger:  logger,
		now:     time.Now,
	}
}

// Admit reports whether ip may open a connection now, counting the
// attempt against its current window. Denied attempts do not consume
// budget; the window keeps its count until it expires.
func (l *Limiter) Admit(ip string) bool {
	if !l.config.Enabled {
		return true
	}

	now := l.now()
	s, ok := l.sources[ip]
	if !ok {
		if len(l.sources) >= l.config.MaxSources {
			l.evictIdlest()
		}
		s = &source{windowStart: now}
		l.sources[ip] = s
		metricSources.Set(float64(len(l.sources)))
	}

	if now.Sub(s.windowStart) >= l.config.Window {
		s.windowStart = now
		s.count = 0
	}
	s.lastSeen = now

	if s.count >= l.config.MaxPerWindow {
		metricDenied.Inc()
		return false
	}
	s.count++
	return true
}

// evictIdlest removes the entry with the oldest lastSeen so a new source
// can be tracked.
func (l *Limiter) evictIdlest() {
	var victim string
	var oldest time.Time
	for ip, s := range l.sources {
		if victim == "" || s.lastSeen.Before(oldest) {
			victim = ip
			oldest = s.lastSeen
		}
	}
	if victim != "" {
		delete(l.sources, victim)
		l.logger.WithField("source", victim).Debug("Evicted idle rate limit entry")
	}
}

// Cleanup drops sources whose window has fully expired. The connection
// loop calls it from periodic housekeeping so the table shrinks between
// bursts.
func (l *Limiter) Cleanup() int {
	now := l.now()
	removed := 0
	for ip, s := range l.sources {
		if now.Sub(s.lastSeen) >= l.config.Window {
			delete(l.sources, ip)
			removed++
		}
	}
	if removed > 0 {
		metricSources.Set(float64(len(l.sources)))
		l.logger.WithField("count", removed).Debug("Expired rate limit entries removed")
	}
	return removed
}

// Len returns how many sources are currently tracked.
func (l *Limiter) Len() int {
	return len(l.sources)
}
