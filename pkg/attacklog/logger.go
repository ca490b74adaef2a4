package attacklog

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Config holds the pipeline settings.
type Config struct {
	// MaxEntries bounds the in-memory ring.
	MaxEntries int `toml:"maxEntries" json:"maxEntries"`
	// Store selects the durable backend.
	Store StoreConfig `toml:"store" json:"store"`
}

// DefaultConfig returns pipeline defaults sized for a small device.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 100,
		Store:      DefaultStoreConfig(),
	}
}

// Sink receives a copy of every record accepted by the pipeline. Sinks
// must not block; slow consumers should buffer or drop on their side.
type Sink func(Record)

// Counters is a snapshot of the pipeline tallies.
type Counters struct {
	AttacksLogged uint64 `json:"attacks_logged"`
	HTTP          uint64 `json:"http_attacks"`
	Telnet        uint64 `json:"telnet_attacks"`
	FTP           uint64 `json:"ftp_attacks"`
	MQTT          uint64 `json:"mqtt_attacks"`
}

// Pipeline accepts attack records, keeps the newest in a fixed ring,
// mirrors them to the durable store, and fans them out to sinks. A store
// failure is logged and counted but never propagates to the caller; the
// honeypot keeps serving connections with persistence degraded.
type Pipeline struct {
	mu     sync.Mutex
	ring   *Ring
	store  Store
	logger *logrus.Logger
	sinks  []Sink

	attacksLogged atomic.Uint64
	httpAttacks   atomic.Uint64
	telnetAttacks atomic.Uint64
	ftpAttacks    atomic.Uint64
	mqttAttacks   atomic.Uint64
}

// New builds a pipeline and replays persisted records into the ring so a
// restart does not lose recent history. Tallies are not replayed; they
// describe the current process lifetime.
func New(config Config, store Store, logger *logrus.Logger) *Pipeline {
	maxEntries := config.MaxEntries
	if maxEntries < 1 {
		maxEntries = 100
	}

	p := &Pipeline{
		ring:   NewRing(maxEntries),
		store:  store,
		logger: logger,
	}

	if store != nil {
		recs, err := store.Load(maxEntries)
		if err != nil {
			logger.WithError(err).Warn("Failed to reload persisted attack records")
			metricStoreErrors.Inc()
		} else {
			for _, rec := range recs {
				p.ring.Insert(rec)
			}
			if len(recs) > 0 {
				logger.WithField("count", len(recs)).Info("Reloaded persisted attack records")
			}
		}
	}
	metricRingEntries.Set(float64(p.ring.Count()))

	return p
}

// AddSink registers a fan-out consumer. Register sinks before traffic
// flows; registration is safe at any time but records logged earlier are
// not replayed.
func (p *Pipeline) AddSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Log accepts one record: normalize, ring insert, persist, fan out.
func (p *Pipeline) Log(rec Record) {
	rec.Normalize()

	p.mu.Lock()
	p.ring.Insert(rec)
	ringCount := p.ring.Count()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.Unlock()

	p.attacksLogged.Add(1)
	p.countService(rec.Service)
	metricAttacks.WithLabelValues(string(rec.Service)).Inc()
	metricRingEntries.Set(float64(ringCount))

	p.logger.WithFields(logrus.Fields{
		"service":  rec.Service,
		"source":   rec.SourceIP,
		"port":     rec.TargetPort,
		"username": rec.Username,
		"password": rec.Password,
		"metadata": rec.Metadata,
	}).Warn("Attack detected")

	if p.store != nil {
		if err := p.store.Append(rec); err != nil {
			p.logger.WithError(err).Error("Failed to persist attack record")
			metricStoreErrors.Inc()
		}
	}

	for _, sink := range sinks {
		sink(rec)
	}
}

func (p *Pipeline) countService(svc Service) {
	switch svc {
	case ServiceHTTP:
		p.httpAttacks.Add(1)
	case ServiceTelnet:
		p.telnetAttacks.Add(1)
	case ServiceFTP:
		p.ftpAttacks.Add(1)
	case ServiceMQTT:
		p.mqttAttacks.Add(1)
	}
}

// Recent returns up to max records, newest first.
func (p *Pipeline) Recent(max int) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Recent(max)
}

// Count returns the number of records currently in the ring.
func (p *Pipeline) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Count()
}

// Capacity returns the fixed ring size.
func (p *Pipeline) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Capacity()
}

// Clear empties the ring and the durable store. Tallies are untouched;
// they track lifetime totals, not log content.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	p.ring.Clear()
	p.mu.Unlock()
	metricRingEntries.Set(0)

	if p.store != nil {
		if err := p.store.Clear(); err != nil {
			p.logger.WithError(err).Error("Failed to clear attack store")
			metricStoreErrors.Inc()
			return err
		}
	}
	return nil
}

// Counters returns a snapshot of the lifetime tallies.
func (p *Pipeline) Counters() Counters {
	return Counters{
		AttacksLogged: p.attacksLogged.Load(),
		HTTP:          p.httpAttacks.Load(),
		Telnet:        p.telnetAttacks.Load(),
		FTP:           p.ftpAttacks.Load(),
		MQTT:          p.mqttAttacks.Load(),
	}
}

// ResetCounters zeroes the lifetime tallies. Ring content is untouched.
func (p *Pipeline) ResetCounters() {
	p.attacksLogged.Store(0)
	p.httpAttacks.Store(0)
	p.telnetAttacks.Store(0)
	p.ftpAttacks.Store(0)
	p.mqttAttacks.Store(0)
}

// Close shuts down the durable store, if any.
func (p *Pipeline) Close() error {
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}
