// Package honeypot implements the network engine: nonblocking listeners
// on the emulated service ports and a single readiness-polling loop that
// multiplexes every connection. One goroutine owns all connection state,
// so the engine's footprint stays flat no matter how many ports it
// watches, and no per-connection goroutines ever exist.
package honeypot

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/ratelimit"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/services"
)

const (
	// pollInterval bounds how long the loop sleeps with no activity, so
	// shutdown and housekeeping are never delayed past it.
	pollIntervalMS = 1000

	// maxPayloadSize caps the bytes captured per connection.
	maxPayloadSize = 1024

	listenBacklog = 4
	readChunkSize = 512

	maxListeners       = 16
	maxConnectionLimit = 1024
	minTimeoutMS       = 1000
)

// housekeepInterval is how often stale connections are swept and the
// rate limiter table is pruned.
var housekeepInterval = 5 * time.Second

// Config holds the engine settings. Ports and service bindings take
// effect at the next Start; the remaining fields apply immediately.
type Config struct {
	Ports               []uint16 `toml:"ports" json:"ports"`
	MaxConnections      int      `toml:"maxConnections" json:"maxConnections"`
	ConnectionTimeoutMS int      `toml:"connectionTimeoutMs" json:"connectionTimeoutMs"`
	EnableLogging       bool     `toml:"enableLogging" json:"enableLogging"`
	// EnableRemoteUpload marks captured records for collection by an
	// external uploader. No transport is built in.
	EnableRemoteUpload bool `toml:"enableRemoteUpload" json:"enableRemoteUpload"`
	// Services overrides the default port-to-emulator map, keyed by
	// decimal port number.
	Services map[string]string `toml:"services" json:"services"`
}

// DefaultConfig returns the stock six-port deployment.
func DefaultConfig() Config {
	return Config{
		Ports:               []uint16{80, 23, 21, 1883, 8080, 2323},
		MaxConnections:      6,
		ConnectionTimeoutMS: 10000,
		EnableLogging:       true,
	}
}

// Validate rejects configs the engine could not run with.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("no listening ports configured")
	}
	if len(c.Ports) > maxListeners {
		return fmt.Errorf("too many listening ports: %d (limit %d)", len(c.Ports), maxListeners)
	}
	if c.MaxConnections < 1 || c.MaxConnections > maxConnectionLimit {
		return fmt.Errorf("maxConnections %d out of range 1..%d", c.MaxConnections, maxConnectionLimit)
	}
	if c.ConnectionTimeoutMS < minTimeoutMS {
		return fmt.Errorf("connectionTimeoutMs %d below minimum %d", c.ConnectionTimeoutMS, minTimeoutMS)
	}
	for port, name := range c.Services {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid service port %q", port)
		}
		if _, ok := services.ByName(name); !ok {
			return fmt.Errorf("unknown service %q for port %s", name, port)
		}
	}
	return nil
}

// clone returns a deep copy so stored snapshots never alias caller data.
func (c Config) clone() Config {
	out := c
	out.Ports = append([]uint16(nil), c.Ports...)
	if c.Services != nil {
		out.Services = make(map[string]string, len(c.Services))
		for k, v := range c.Services {
			out.Services[k] = v
		}
	}
	return out
}

// Honeypot owns the listeners, the connection loop, and the engine
// counters. Start and Stop may be called repeatedly; config changes via
// SetConfig are picked up live except for port bindings, which apply at
// the next Start.
type Honeypot struct {
	logger   *logrus.Logger
	limiter  *ratelimit.Limiter
	pipeline *attacklog.Pipeline

	config atomic.Pointer[Config]

	// heartbeat, when set before Start, is invoked once per loop
	// iteration as a liveness signal.
	heartbeat func()

	mu          sync.Mutex
	running     bool
	t           *tomb.Tomb
	actualPorts []uint16

	// loop-owned state, valid only inside run
	registry  *services.Registry
	listeners []*listener
	conns     []*conn

	active atomic.Int64
	stats  counters
}

// New builds an engine. The config must already be validated.
func New(config Config, limiter *ratelimit.Limiter, pipeline *attacklog.Pipeline, logger *logrus.Logger) *Honeypot {
	h := &Honeypot{
		logger:   logger,
		limiter:  limiter,
		pipeline: pipeline,
	}
	snapshot := config.clone()
	h.config.Store(&snapshot)
	h.stats.startTime.Store(time.Now().Unix())
	return h
}

// SetHeartbeat registers a liveness callback. Call before Start.
func (h *Honeypot) SetHeartbeat(fn func()) {
	h.heartbeat = fn
}

// Start binds the configured ports and launches the connection loop.
// Ports that cannot be bound, or have no emulator, are logged and
// skipped; Start fails only when no listener could be created.
func (h *Honeypot) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.logger.Warn("Honeypot already running")
		return nil
	}

	config := h.config.Load()
	if config.EnableRemoteUpload {
		h.logger.Warn("Remote upload enabled but no transport is built in")
	}
	registry := buildRegistry(config, h.logger)

	var listeners []*listener
	var actual []uint16
	for _, port := range config.Ports {
		if _, ok := registry.Lookup(port); !ok {
			h.logger.WithField("port", port).Warn("No emulator bound to port, skipping")
			continue
		}
		fd, err := listenFD(port, listenBacklog)
		if err != nil {
			h.logger.WithError(err).WithField("port", port).Error("Failed to create listener")
			continue
		}
		bound, err := boundPort(fd)
		if err != nil {
			closeFD(fd)
			h.logger.WithError(err).WithField("port", port).Error("Failed to resolve bound port")
			continue
		}
		listeners = append(listeners, &listener{fd: fd, port: port, actual: bound})
		actual = append(actual, bound)
		h.logger.WithFields(logrus.Fields{"port": port, "bound": bound}).Info("Listener created")
	}

	if len(listeners) == 0 {
		return fmt.Errorf("no listeners could be created")
	}

	h.registry = registry
	h.listeners = listeners
	h.actualPorts = actual
	h.conns = nil
	h.t = new(tomb.Tomb)
	h.t.Go(h.run)
	h.running = true

	h.logger.WithField("ports", actual).Info("Honeypot started")
	return nil
}

// Stop asks the loop to exit and waits for it. The loop notices within
// one poll interval.
func (h *Honeypot) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		h.logger.Warn("Honeypot not running")
		return nil
	}
	t := h.t
	h.mu.Unlock()

	t.Kill(nil)
	err := t.Wait()

	h.mu.Lock()
	h.running = false
	h.actualPorts = nil
	h.mu.Unlock()

	h.logger.Info("Honeypot stopped")
	return err
}

// Running reports whether the connection loop is active.
func (h *Honeypot) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Ports returns the ports actually bound by the last Start.
func (h *Honeypot) Ports() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint16(nil), h.actualPorts...)
}

// SetConfig validates and installs a new configuration as a unit.
// Connection limits, the idle timeout, and the logging toggle apply to
// the running loop immediately; port bindings apply at the next Start.
func (h *Honeypot) SetConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	snapshot := config.clone()
	h.config.Store(&snapshot)
	h.logger.Info("Configuration updated")
	return nil
}

// Config returns a copy of the current configuration.
func (h *Honeypot) Config() Config {
	return h.config.Load().clone()
}

// Stats merges the engine counters with the pipeline tallies.
func (h *Honeypot) Stats() Stats {
	tallies := h.pipeline.Counters()
	started := h.stats.startTime.Load()
	return Stats{
		TotalConnections:  h.stats.totalConnections.Load(),
		AttacksLogged:     tallies.AttacksLogged,
		HTTPAttacks:       tallies.HTTP,
		TelnetAttacks:     tallies.Telnet,
		FTPAttacks:        tallies.FTP,
		MQTTAttacks:       tallies.MQTT,
		RateLimited:       h.stats.rateLimited.Load(),
		Rejected:          h.stats.rejected.Load(),
		ActiveConnections: int(h.active.Load()),
		StartTime:         time.Unix(started, 0),
		UptimeSeconds:     time.Now().Unix() - started,
	}
}

// ResetStats zeroes all counters and restamps the start time. The attack
// log itself is untouched.
func (h *Honeypot) ResetStats() {
	h.logger.Info("Resetting statistics")
	h.stats.totalConnections.Store(0)
	h.stats.rateLimited.Store(0)
	h.stats.rejected.Store(0)
	h.stats.startTime.Store(time.Now().Unix())
	h.pipeline.ResetCounters()
}

// buildRegistry starts from the default port map and applies configured
// overrides. Entries that fail to parse were already rejected by
// Validate; here they are skipped with a warning.
func buildRegistry(config *Config, logger *logrus.Logger) *services.Registry {
	registry := services.NewRegistry()
	for portStr, name := range config.Services {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			logger.WithField("port", portStr).Warn("Ignoring invalid service port")
			continue
		}
		svc, ok := services.ByName(name)
		if !ok {
			logger.WithField("service", name).Warn("Ignoring unknown service")
			continue
		}
		registry.Register(uint16(port), svc)
	}
	return registry
}

// run is the connection loop. All listener and connection state is
// confined to this goroutine; shared counters are atomics and the
// config is an immutable snapshot swapped as a whole.
func (h *Honeypot) run() error {
	defer h.shutdown()

	scratch := make([]byte, readChunkSize)
	lastSweep := time.Now()

	for h.t.Alive() {
		config := h.config.Load()

		fds := h.pollSet()
		n, err := unix.Poll(fds, pollIntervalMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			h.logger.WithError(err).Error("Poll failed")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		now := time.Now()
		if n > 0 {
			tracked := len(h.conns)
			h.acceptReady(fds[:len(h.listeners)], now, config)
			h.serviceReady(fds[len(h.listeners):len(h.listeners)+tracked], now, config, scratch)
		}

		if now.Sub(lastSweep) >= housekeepInterval {
			h.sweep(now, config)
			h.limiter.Cleanup()
			lastSweep = now
		}

		if h.heartbeat != nil {
			h.heartbeat()
		}
	}
	return nil
}

// pollSet builds the descriptor set: listeners first, then connections
// in tracking order.
func (h *Honeypot) pollSet() []unix.PollFd {
	fds := make([]unix.PollFd, 0, len(h.listeners)+len(h.conns))
	for _, l := range h.listeners {
		fds = append(fds, unix.PollFd{Fd: int32(l.fd), Events: unix.POLLIN})
	}
	for _, c := range h.conns {
		fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
	}
	return fds
}

// acceptReady takes at most one pending connection per ready listener.
// A still-loaded backlog keeps the listener readable, so the next poll
// returns immediately and drains it one connection per pass without
// starving existing connections.
func (h *Honeypot) acceptReady(fds []unix.PollFd, now time.Time, config *Config) {
	for i, l := range h.listeners {
		if fds[i].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}
		h.accept(l, now, config)
	}
}

func (h *Honeypot) accept(l *listener, now time.Time, config *Config) {
	fd, sourceIP, err := acceptFD(l.fd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			h.logger.WithError(err).WithField("port", l.port).Warn("Accept failed")
		}
		return
	}

	// Admission control runs before any per-connection state exists.
	if !h.limiter.Admit(sourceIP) {
		h.logger.WithFields(logrus.Fields{"source": sourceIP, "port": l.port}).Warn("Rate limiting connection")
		closeFD(fd)
		h.stats.rateLimited.Add(1)
		metricRejected.WithLabelValues("rate_limited").Inc()
		return
	}
	if len(h.conns) >= config.MaxConnections {
		h.logger.WithFields(logrus.Fields{"source": sourceIP, "port": l.port}).Warn("Max connections reached, rejecting")
		closeFD(fd)
		h.stats.rejected.Add(1)
		metricRejected.WithLabelValues("capacity").Inc()
		return
	}

	c := &conn{
		fd:         fd,
		id:         uuid.NewString(),
		port:       l.port,
		wirePort:   l.actual,
		sourceIP:   sourceIP,
		lastActive: now,
		buf:        make([]byte, 0, maxPayloadSize),
	}
	if svc, ok := h.registry.Lookup(l.port); ok {
		if greeting := svc.Greeting(); len(greeting) > 0 {
			writeFD(fd, greeting)
		}
	}
	h.conns = append(h.conns, c)
	h.trackActive()
	h.stats.totalConnections.Add(1)
	metricConnections.Inc()

	h.logger.WithFields(logrus.Fields{
		"conn":   c.id,
		"source": sourceIP,
		"port":   l.port,
	}).Info("New connection")
}

// serviceReady handles readable connections. fds covers exactly the
// connections that were tracked when the poll set was built; anything
// accepted this pass waits for the next one.
func (h *Honeypot) serviceReady(fds []unix.PollFd, now time.Time, config *Config, scratch []byte) {
	var done map[*conn]bool
	for i := range fds {
		if fds[i].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}
		c := h.conns[i]
		if h.serveConn(c, now, config, scratch) {
			if done == nil {
				done = make(map[*conn]bool)
			}
			done[c] = true
		}
	}
	if done != nil {
		h.dropConns(done)
	}
}

// serveConn reads available bytes and, once a dispatch unit is complete,
// runs the emulator and closes the connection. It returns true when the
// connection is finished.
func (h *Honeypot) serveConn(c *conn, now time.Time, config *Config, scratch []byte) bool {
	n, err := readFD(c.fd, scratch)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false
		}
		h.logger.WithField("conn", c.id).WithError(err).Debug("Read failed, closing")
		closeFD(c.fd)
		return true
	}
	if n == 0 {
		h.logger.WithField("conn", c.id).Debug("Peer closed connection")
		closeFD(c.fd)
		return true
	}

	c.lastActive = now
	c.absorb(scratch[:n], maxPayloadSize)

	svc, ok := h.registry.Lookup(c.port)
	if !ok {
		closeFD(c.fd)
		return true
	}

	// Line protocols wait for a newline unless the buffer is already at
	// the cap; stateless ones dispatch on whatever arrived.
	if svc.LineOriented() && bytes.IndexByte(c.buf, '\n') < 0 && !c.full(maxPayloadSize) {
		return false
	}

	response, rec := svc.Handle(services.Client{SourceIP: c.sourceIP, TargetPort: c.wirePort}, c.buf)
	if len(response) > 0 {
		writeFD(c.fd, response)
	}
	if config.EnableLogging {
		h.pipeline.Log(rec)
	}

	closeFD(c.fd)
	return true
}

// sweep closes connections idle past the configured timeout.
func (h *Honeypot) sweep(now time.Time, config *Config) {
	timeout := time.Duration(config.ConnectionTimeoutMS) * time.Millisecond
	var stale map[*conn]bool
	for _, c := range h.conns {
		if now.Sub(c.lastActive) > timeout {
			closeFD(c.fd)
			if stale == nil {
				stale = make(map[*conn]bool)
			}
			stale[c] = true
		}
	}
	if stale != nil {
		h.dropConns(stale)
		h.logger.WithField("count", len(stale)).Info("Cleaned up stale connections")
	}
}

// dropConns removes finished connections from the tracking slice.
func (h *Honeypot) dropConns(done map[*conn]bool) {
	keep := h.conns[:0]
	for _, c := range h.conns {
		if !done[c] {
			keep = append(keep, c)
		}
	}
	for i := len(keep); i < len(h.conns); i++ {
		h.conns[i] = nil
	}
	h.conns = keep
	h.trackActive()
}

func (h *Honeypot) trackActive() {
	n := len(h.conns)
	h.active.Store(int64(n))
	metricActive.Set(float64(n))
}

// shutdown closes every descriptor when the loop exits.
func (h *Honeypot) shutdown() {
	for _, c := range h.conns {
		closeFD(c.fd)
	}
	h.conns = nil
	for _, l := range h.listeners {
		closeFD(l.fd)
	}
	h.listeners = nil
	h.trackActive()
	h.logger.Debug("Connection loop exited")
}
