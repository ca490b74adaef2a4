package honeypot

import "time"

// listener is one bound port. port is the configured value used for
// emulator lookup; actual is what the kernel bound, which differs only
// when port 0 requested an ephemeral port.
type listener struct {
	fd     int
	port   uint16
	actual uint16
}

// conn is one tracked client connection. Connections are owned by the
// poll loop exclusively; nothing else reads or writes them. port keys
// the emulator lookup; wirePort is what records report and matches the
// listener's actual binding.
type conn struct {
	fd         int
	id         string
	port       uint16
	wirePort   uint16
	sourceIP   string
	lastActive time.Time
	buf        []byte
}

// absorb appends data to the capture buffer, discarding bytes past the
// payload cap so one client can never grow memory.
func (c *conn) absorb(data []byte, max int) {
	room := max - len(c.buf)
	if room <= 0 {
		return
	}
	if len(data) > room {
		data = data[:room]
	}
	c.buf = append(c.buf, data...)
}

// full reports whether the capture buffer is at the payload cap.
func (c *conn) full(max int) bool {
	return len(c.buf) >= max
}
