package services

import (
	"fmt"
	"strings"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

const (
	telnetBanner = "\r\nWelcome to Device Login\r\n\r\n"
	telnetDenied = "\r\nLogin incorrect\r\n"
)

// Telnet option negotiation bytes.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWill = 251
	telnetDont = 254
	telnetIAC  = 255
)

// Telnet emulates a device login prompt. Negotiation sequences are
// stripped, then the first captured line is treated as the username and
// the second as the password. Every attempt is refused.
type Telnet struct{}

// NewTelnet returns the Telnet emulator.
func NewTelnet() *Telnet { return &Telnet{} }

func (*Telnet) Name() attacklog.Service { return attacklog.ServiceTelnet }

func (*Telnet) Greeting() []byte { return []byte(telnetBanner) }

func (*Telnet) LineOriented() bool { return true }

func (*Telnet) Handle(client Client, payload []byte) ([]byte, attacklog.Record) {
	rec := attacklog.NewRecord(client.SourceIP, client.TargetPort, attacklog.ServiceTelnet, payload)

	lines := credentialLines(stripTelnetCommands(payload))
	if len(lines) > 0 {
		rec.Username = lines[0]
	}
	if len(lines) > 1 {
		rec.Password = lines[1]
	}
	rec.Metadata = fmt.Sprintf("Lines: %d", len(lines))

	return []byte(telnetDenied), rec
}

// stripTelnetCommands removes IAC command and subnegotiation sequences in
// a single bounded pass, keeping only user input. An escaped 0xFF byte
// (IAC IAC) is kept as a literal.
func stripTelnetCommands(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		if b != telnetIAC {
			out = append(out, b)
			continue
		}
		if i+1 >= len(payload) {
			break
		}
		i++
		switch cmd := payload[i]; {
		case cmd == telnetIAC:
			out = append(out, telnetIAC)
		case cmd == telnetSB:
			for i+1 < len(payload) {
				i++
				if payload[i] == telnetIAC && i+1 < len(payload) && payload[i+1] == telnetSE {
					i++
					break
				}
			}
		case cmd >= telnetWill && cmd <= telnetDont:
			i++
		}
	}
	return out
}

// credentialLines splits cleaned input into non-empty lines.
func credentialLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
