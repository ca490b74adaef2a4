// Package geoip resolves attacker addresses to coarse locations using a
// local MaxMind database. The resolver is optional: a nil *Resolver is
// valid and resolves nothing, so callers never branch on configuration.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

// Config points at the database file. An empty path disables lookups.
type Config struct {
	Database string `toml:"database" json:"database"`
}

// Location is the subset of the database record the honeypot reports.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// Resolver answers Lookup queries against an open GeoIP2 database.
type Resolver struct {
	db     *geoip2.Reader
	logger *logrus.Logger
}

// Open loads the configured database. With no database configured it
// returns (nil, nil) and lookups stay disabled.
func Open(config Config, logger *logrus.Logger) (*Resolver, error) {
	if config.Database == "" {
		return nil, nil
	}
	db, err := geoip2.Open(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database at %s: %w", config.Database, err)
	}
	logger.WithField("database", config.Database).Info("GeoIP database loaded")
	return &Resolver{db: db, logger: logger}, nil
}

// Lookup resolves one address. It reports false for a nil resolver, an
// unparseable address, or an address the database does not cover.
func (r *Resolver) Lookup(ip string) (Location, bool) {
	if r == nil {
		return Location{}, false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, false
	}
	record, err := r.db.City(parsed)
	if err != nil {
		r.logger.WithError(err).WithField("ip", ip).Debug("GeoIP lookup failed")
		return Location{}, false
	}

	loc := Location{Country: record.Country.IsoCode}
	if name, ok := record.City.Names["en"]; ok {
		loc.City = name
	}
	if loc.Country == "" && loc.City == "" {
		return Location{}, false
	}
	return loc, true
}

// Close releases the database. Safe on a nil resolver.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
