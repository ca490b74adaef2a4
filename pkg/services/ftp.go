package services

import (
	"strings"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

const (
	ftpBanner       = "220 FTP Server Ready\r\n"
	ftpNeedPassword = "331 Password required.\r\n"
	ftpLoginDenied  = "530 Login incorrect.\r\n"
	ftpUnknown      = "500 Unknown command.\r\n"

	maxFTPCommands = 8
)

// FTP emulates a server that asks for a password and then refuses the
// login. USER and PASS arguments are captured as credentials.
type FTP struct{}

// NewFTP returns the FTP emulator.
func NewFTP() *FTP { return &FTP{} }

func (*FTP) Name() attacklog.Service { return attacklog.ServiceFTP }

func (*FTP) Greeting() []byte { return []byte(ftpBanner) }

func (*FTP) LineOriented() bool { return true }

func (*FTP) Handle(client Client, payload []byte) ([]byte, attacklog.Record) {
	rec := attacklog.NewRecord(client.SourceIP, client.TargetPort, attacklog.ServiceFTP, payload)

	var user, pass string
	var commands []string
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimRight(line, "\r")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		verb := strings.ToUpper(fields[0])
		if len(commands) < maxFTPCommands {
			commands = append(commands, verb)
		}
		switch verb {
		case "USER":
			if len(fields) > 1 {
				user = fields[1]
			}
		case "PASS":
			if len(fields) > 1 {
				pass = fields[1]
			}
		}
	}

	if user != "" {
		rec.Username = user
	}
	if pass != "" {
		rec.Password = pass
	}
	if len(commands) > 0 {
		rec.Metadata = "Commands: " + strings.Join(commands, ",")
	} else {
		rec.Metadata = "No commands"
	}

	// The reply mirrors how far the login sequence got.
	var reply string
	switch {
	case pass != "":
		reply = ftpLoginDenied
	case user != "":
		reply = ftpNeedPassword
	default:
		reply = ftpUnknown
	}
	return []byte(reply), rec
}
