// Package services contains the protocol emulators. Each emulator speaks
// just enough of its protocol to look like a weak embedded device, pulls
// credentials and client details out of whatever the peer sent, and hands
// back an attack record plus the bytes to answer with. Emulators hold no
// per-connection state; the connection loop owns buffering and lifetime.
package services

import (
	"sort"
	"strings"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

// Client identifies the peer of one connection. Emulators receive it by
// value and must not retain references into it or the payload.
type Client struct {
	SourceIP   string
	TargetPort uint16
}

// Service is a single protocol emulator.
type Service interface {
	// Name labels records produced by this emulator.
	Name() attacklog.Service
	// Greeting returns bytes to send immediately after accept, or nil.
	Greeting() []byte
	// LineOriented reports whether the emulator waits for a newline
	// before handling; stateless emulators run on whatever arrived.
	LineOriented() bool
	// Handle inspects one captured payload and returns the wire reply
	// and the attack record for the interaction.
	Handle(client Client, payload []byte) ([]byte, attacklog.Record)
}

// Registry maps listening ports to emulators.
type Registry struct {
	byPort map[uint16]Service
}

// NewRegistry returns the default port map: HTTP on 80 and 8080, Telnet
// on 23 and 2323, FTP on 21, MQTT on 1883.
func NewRegistry() *Registry {
	r := &Registry{byPort: make(map[uint16]Service)}
	r.Register(80, NewHTTP())
	r.Register(8080, NewHTTP())
	r.Register(23, NewTelnet())
	r.Register(2323, NewTelnet())
	r.Register(21, NewFTP())
	r.Register(1883, NewMQTT())
	return r
}

// Register binds an emulator to a port, replacing any previous binding.
func (r *Registry) Register(port uint16, svc Service) {
	r.byPort[port] = svc
}

// Lookup returns the emulator bound to port.
func (r *Registry) Lookup(port uint16) (Service, bool) {
	svc, ok := r.byPort[port]
	return svc, ok
}

// Ports returns the bound ports in ascending order.
func (r *Registry) Ports() []uint16 {
	ports := make([]uint16, 0, len(r.byPort))
	for port := range r.byPort {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// ByName builds a fresh emulator from its service name, for config-driven
// port overrides.
func ByName(name string) (Service, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case string(attacklog.ServiceHTTP):
		return NewHTTP(), true
	case string(attacklog.ServiceTelnet):
		return NewTelnet(), true
	case string(attacklog.ServiceFTP):
		return NewFTP(), true
	case string(attacklog.ServiceMQTT):
		return NewMQTT(), true
	}
	return nil, false
}
