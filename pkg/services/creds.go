package services

import "strings"

// Credential form fields scanned for in request bodies. Later markers
// overwrite earlier matches, so the most specific spelling wins.
var (
	userMarkers = []string{"username=", "user=", "login=", "uname="}
	passMarkers = []string{"password=", "pass=", "pwd=", "passwd="}
)

// ExtractFormCredentials scans data for common credential form fields and
// returns the decoded values. Empty strings mean no marker matched.
func ExtractFormCredentials(data string) (username, password string) {
	for _, marker := range userMarkers {
		if v, ok := formValue(data, marker); ok {
			username = v
		}
	}
	for _, marker := range passMarkers {
		if v, ok := formValue(data, marker); ok {
			password = v
		}
	}
	return username, password
}

// formValue finds the first occurrence of marker and returns its decoded
// value, which runs until '&', whitespace, or end of input.
func formValue(data, marker string) (string, bool) {
	idx := strings.Index(data, marker)
	if idx < 0 {
		return "", false
	}
	value := data[idx+len(marker):]
	if end := strings.IndexAny(value, "& \t\r\n"); end >= 0 {
		value = value[:end]
	}
	return percentDecode(value), true
}

// percentDecode decodes %XX escapes and '+' as space. Malformed escapes
// are kept literal rather than rejected; attacker input is routinely
// sloppy and a decode failure must never lose the surrounding value.
func percentDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s):
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
