package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

// fakeLoginPage is the admin panel served for every parseable request.
const fakeLoginPage = `<!DOCTYPE html>
<html lang='en'>
<head>
    <meta charset='UTF-8'>
    <meta name='viewport' content='width=device-width, initial-scale=1.0'>
    <title>Router Admin Panel</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .container { max-width: 400px; margin: 0 auto; padding: 20px; border: 1px solid #ccc; }
        .error { color: red; margin-top: 10px; }
    </style>
</head>
<body>
    <div class='container'>
        <h2>Router Administration</h2>
        <div class='error'>Access Denied: Invalid credentials</div>
        <p>Please contact your network administrator.</p>
    </div>
</body>
</html>`

const errorPage = "<html><body><h1>Error</h1><p>An error occurred.</p></body></html>"

const (
	maxMethodLen     = 15
	maxPathLen       = 127
	minHTTPRequest   = 10
	httpServerHeader = "Apache/2.4.41 (Ubuntu)"
)

var suspiciousPathMarkers = []string{"/shell", "/cmd", "/exec", ".."}

// HTTP emulates a router admin panel. Every parseable request is answered
// with 403 and the fake login page; anything shorter than a request line
// gets a 400.
type HTTP struct{}

// NewHTTP returns the HTTP emulator.
func NewHTTP() *HTTP { return &HTTP{} }

func (*HTTP) Name() attacklog.Service { return attacklog.ServiceHTTP }

func (*HTTP) Greeting() []byte { return nil }

func (*HTTP) LineOriented() bool { return false }

// Handle parses the request line and headers with a bounded linear scan,
// captures credentials from Authorization headers and POST bodies, and
// answers with the fake panel.
func (*HTTP) Handle(client Client, payload []byte) ([]byte, attacklog.Record) {
	rec := attacklog.NewRecord(client.SourceIP, client.TargetPort, attacklog.ServiceHTTP, payload)

	method, path, ok := parseRequestLine(payload)
	if !ok {
		rec.Metadata = "Malformed request"
		return buildHTTPResponse(400, "Bad Request", errorPage), rec
	}

	rec.UserAgent = headerValue(payload, "User-Agent")
	if auth := headerValue(payload, "Authorization"); auth != "" {
		rec.Password = auth
	}
	if method == "POST" {
		user, pass := ExtractFormCredentials(string(payload))
		if user != "" {
			rec.Username = user
		}
		if pass != "" {
			rec.Password = pass
		}
	}

	meta := fmt.Sprintf("Method: %s, Path: %s", method, path)
	if suspiciousPath(path) {
		meta += ", Flags: suspicious-path"
	}
	rec.Metadata = meta

	return buildHTTPResponse(403, "Forbidden", fakeLoginPage), rec
}

// parseRequestLine extracts bounded method and path tokens from the first
// line. Requests too short to hold a request line, or without two tokens,
// are malformed.
func parseRequestLine(payload []byte) (method, path string, ok bool) {
	if len(payload) < minHTTPRequest {
		return "", "", false
	}
	line := payload
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		line = payload[:i]
	}
	fields := strings.Fields(strings.TrimRight(string(line), "\r"))
	if len(fields) < 2 {
		return "", "", false
	}
	method = fields[0]
	if len(method) > maxMethodLen {
		method = method[:maxMethodLen]
	}
	path = fields[1]
	if len(path) > maxPathLen {
		path = path[:maxPathLen]
	}
	return method, path, true
}

// headerValue scans header lines for name (case-insensitive) and returns
// the trimmed value. The scan stops at the blank line ending the headers.
func headerValue(payload []byte, name string) string {
	prefix := name + ":"
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		if len(line) > len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

func suspiciousPath(path string) bool {
	for _, marker := range suspiciousPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

func buildHTTPResponse(code int, reason, body string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\nServer: %s\r\n\r\n%s",
		code, reason, len(body), httpServerHeader, body))
}
