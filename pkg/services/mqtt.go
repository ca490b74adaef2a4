package services

import (
	"fmt"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

// mqttConnackRefused is CONNACK with return code 5, not authorized.
var mqttConnackRefused = []byte{0x20, 0x02, 0x00, 0x05}

const mqttTypeConnect = 0x10

// MQTT emulates a broker that refuses every client. A CONNECT packet is
// decoded far enough to capture the client identifier and credentials;
// everything else is noted as malformed. The reply is always a refused
// CONNACK.
type MQTT struct{}

// NewMQTT returns the MQTT emulator.
func NewMQTT() *MQTT { return &MQTT{} }

func (*MQTT) Name() attacklog.Service { return attacklog.ServiceMQTT }

func (*MQTT) Greeting() []byte { return nil }

func (*MQTT) LineOriented() bool { return false }

func (*MQTT) Handle(client Client, payload []byte) ([]byte, attacklog.Record) {
	rec := attacklog.NewRecord(client.SourceIP, client.TargetPort, attacklog.ServiceMQTT, payload)

	info, ok := parseConnect(payload)
	if !ok {
		if len(payload) == 0 {
			rec.Metadata = "Empty packet"
		} else {
			rec.Metadata = fmt.Sprintf("Malformed packet, type 0x%02X", payload[0]>>4)
		}
		return mqttConnackRefused, rec
	}

	if info.username != "" {
		rec.Username = info.username
	}
	if info.password != "" {
		rec.Password = info.password
	}
	rec.Metadata = fmt.Sprintf("ClientID: %s, Protocol: %s v%d", info.clientID, info.protocol, info.level)

	return mqttConnackRefused, rec
}

type connectInfo struct {
	protocol string
	level    byte
	clientID string
	username string
	password string
}

// parseConnect decodes an MQTT 3.x CONNECT packet. Parsing is strictly
// bounds-checked; a truncated packet fails cleanly rather than reading
// past what arrived.
func parseConnect(payload []byte) (connectInfo, bool) {
	var info connectInfo
	if len(payload) < 2 || payload[0]&0xF0 != mqttTypeConnect {
		return info, false
	}

	length, consumed := decodeRemainingLength(payload[1:])
	if consumed == 0 {
		return info, false
	}
	body := payload[1+consumed:]
	if len(body) > length {
		body = body[:length]
	}

	r := fieldReader{buf: body}
	proto, ok := r.readString()
	if !ok {
		return info, false
	}
	level, ok := r.readByte()
	if !ok {
		return info, false
	}
	flags, ok := r.readByte()
	if !ok {
		return info, false
	}
	if _, ok := r.readUint16(); !ok { // keepalive
		return info, false
	}
	clientID, ok := r.readString()
	if !ok {
		return info, false
	}

	info.protocol = proto
	info.level = level
	info.clientID = clientID

	if flags&0x04 != 0 { // will flag: skip topic and message
		r.readString()
		r.readString()
	}
	if flags&0x80 != 0 {
		if u, ok := r.readString(); ok {
			info.username = u
		}
	}
	if flags&0x40 != 0 {
		if p, ok := r.readString(); ok {
			info.password = p
		}
	}
	return info, true
}

// decodeRemainingLength decodes the MQTT variable-length remaining length
// field, returning the value and how many bytes it used. A continuation
// bit on the fourth byte is malformed.
func decodeRemainingLength(b []byte) (length, consumed int) {
	multiplier := 1
	for i := 0; i < len(b) && i < 4; i++ {
		length += int(b[i]&0x7F) * multiplier
		if b[i]&0x80 == 0 {
			return length, i + 1
		}
		multiplier *= 128
	}
	return 0, 0
}

// fieldReader walks length-prefixed MQTT fields without ever reading out
// of bounds.
type fieldReader struct {
	buf []byte
	off int
}

func (r *fieldReader) readByte() (byte, bool) {
	if r.off >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.off]
	r.off++
	return b, true
}

func (r *fieldReader) readUint16() (uint16, bool) {
	if r.off+2 > len(r.buf) {
		return 0, false
	}
	v := uint16(r.buf[r.off])<<8 | uint16(r.buf[r.off+1])
	r.off += 2
	return v, true
}

func (r *fieldReader) readString() (string, bool) {
	n, ok := r.readUint16()
	if !ok {
		return "", false
	}
	if r.off+int(n) > len(r.buf) {
		return "", false
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, true
}
