// Package attacklog implements the attack event pipeline: a fixed-size
// in-memory ring of attack records, optional durable persistence behind a
// pluggable store backend, and a line-oriented JSON export format.
package attacklog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Service identifies the protocol emulator that produced a record.
type Service string

const (
	ServiceHTTP   Service = "HTTP"
	ServiceTelnet Service = "TELNET"
	ServiceFTP    Service = "FTP"
	ServiceMQTT   Service = "MQTT"
)

// Field capacity limits, in bytes. Attacker-supplied strings are truncated
// to these bounds before a record enters the pipeline.
const (
	MaxSourceIPLen  = 45
	MaxUsernameLen  = 64
	MaxPasswordLen  = 64
	MaxUserAgentLen = 255
	MaxMetadataLen  = 192

	// HashWindow is how many leading payload bytes feed the fingerprint.
	HashWindow = 512

	// CredentialPlaceholder marks a field no credential was captured for.
	CredentialPlaceholder = "N/A"
)

// Record is a single observed attack interaction. All string fields are
// bounded; Normalize enforces the bounds and strips control bytes so a
// record is safe to serialize and store regardless of what the wire
// delivered.
type Record struct {
	Timestamp   int64
	SourceIP    string
	TargetPort  uint16
	Service     Service
	Username    string
	Password    string
	UserAgent   string
	PayloadHash string
	Metadata    string
}

// NewRecord builds a record for one interaction, stamping the current time
// and fingerprinting the payload. Credential fields start at the
// placeholder value and are overwritten by emulators that capture more.
func NewRecord(sourceIP string, targetPort uint16, svc Service, payload []byte) Record {
	return Record{
		Timestamp:   time.Now().Unix(),
		SourceIP:    truncate(sourceIP, MaxSourceIPLen),
		TargetPort:  targetPort,
		Service:     svc,
		Username:    CredentialPlaceholder,
		Password:    CredentialPlaceholder,
		PayloadHash: HashPayload(payload),
	}
}

// HashPayload returns the lowercase hex MD5 of the first HashWindow bytes
// of payload. The digest is a correlation fingerprint, not an integrity
// measure. The empty payload hashes to the well-known empty-input digest.
func HashPayload(payload []byte) string {
	if len(payload) > HashWindow {
		payload = payload[:HashWindow]
	}
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// Normalize clamps every string field to its capacity and removes control
// bytes. It is idempotent and is applied once more when a record enters
// the pipeline, so bounds hold no matter how the record was built.
func (r *Record) Normalize() {
	r.SourceIP = sanitize(r.SourceIP, MaxSourceIPLen)
	r.Username = sanitize(r.Username, MaxUsernameLen)
	r.Password = sanitize(r.Password, MaxPasswordLen)
	r.UserAgent = sanitize(r.UserAgent, MaxUserAgentLen)
	r.Metadata = sanitize(r.Metadata, MaxMetadataLen)
	if r.Username == "" {
		r.Username = CredentialPlaceholder
	}
	if r.Password == "" {
		r.Password = CredentialPlaceholder
	}
	if r.PayloadHash == "" {
		r.PayloadHash = HashPayload(nil)
	}
}

// sanitize drops C0 control bytes and DEL, then truncates to max bytes.
func sanitize(s string, max int) string {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 0x20 || b == 0x7f {
			continue
		}
		clean = append(clean, b)
	}
	if len(clean) > max {
		clean = clean[:max]
	}
	return string(clean)
}

// truncate clamps s to max bytes without filtering.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// exportRecord fixes the JSON field order of the export format.
type exportRecord struct {
	Timestamp   string `json:"timestamp"`
	SourceIP    string `json:"source_ip"`
	TargetPort  uint16 `json:"target_port"`
	Service     string `json:"service"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UserAgent   string `json:"user_agent"`
	PayloadHash string `json:"payload_hash"`
	Metadata    string `json:"metadata"`
}

// FormatJSON renders a record as a single JSON object in the fixed export
// field order, with the timestamp as UTC ISO-8601. Field values are JSON
// escaped, so the output is always a parseable object even for hostile
// input.
func FormatJSON(r Record) string {
	out, err := json.Marshal(exportRecord{
		Timestamp:   time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
		SourceIP:    r.SourceIP,
		TargetPort:  r.TargetPort,
		Service:     string(r.Service),
		Username:    r.Username,
		Password:    r.Password,
		UserAgent:   r.UserAgent,
		PayloadHash: r.PayloadHash,
		Metadata:    r.Metadata,
	})
	if err != nil {
		// Marshal of a flat struct of scalars cannot fail; keep the
		// export line-oriented anyway.
		return "{}"
	}
	return string(out)
}

// parseExport is the inverse of FormatJSON, used when reloading persisted
// records.
func parseExport(data []byte) (Record, error) {
	var e exportRecord
	if err := json.Unmarshal(data, &e); err != nil {
		return Record{}, err
	}
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Timestamp:   ts.Unix(),
		SourceIP:    e.SourceIP,
		TargetPort:  e.TargetPort,
		Service:     Service(e.Service),
		Username:    e.Username,
		Password:    e.Password,
		UserAgent:   e.UserAgent,
		PayloadHash: e.PayloadHash,
		Metadata:    e.Metadata,
	}
	rec.Normalize()
	return rec, nil
}
