package honeypot

import (
	"sync/atomic"
	"time"
)

// counters are the engine-owned tallies. Attack tallies live in the
// pipeline; Stats merges both views.
type counters struct {
	totalConnections atomic.Uint64
	rateLimited      atomic.Uint64
	rejected         atomic.Uint64
	startTime        atomic.Int64
}

// Stats is a point-in-time snapshot of honeypot activity.
type Stats struct {
	TotalConnections  uint64    `json:"total_connections"`
	AttacksLogged     uint64    `json:"attacks_logged"`
	HTTPAttacks       uint64    `json:"http_attacks"`
	TelnetAttacks     uint64    `json:"telnet_attacks"`
	FTPAttacks        uint64    `json:"ftp_attacks"`
	MQTTAttacks       uint64    `json:"mqtt_attacks"`
	RateLimited       uint64    `json:"rate_limited"`
	Rejected          uint64    `json:"rejected"`
	ActiveConnections int       `json:"active_connections"`
	StartTime         time.Time `json:"start_time"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
}
