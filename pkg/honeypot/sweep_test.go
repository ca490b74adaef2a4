package honeypot

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/ratelimit"
)

func TestSweepClosesIdleConnections(t *testing.T) {
	old := housekeepInterval
	housekeepInterval = 200 * time.Millisecond
	defer func() { housekeepInterval = old }()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	config := DefaultConfig()
	config.Ports = []uint16{0}
	config.Services = map[string]string{"0": "TELNET"}
	config.ConnectionTimeoutMS = minTimeoutMS

	pipeline := attacklog.New(attacklog.Config{MaxEntries: 10}, nil, logger)
	hp := New(config, ratelimit.New(ratelimit.DefaultConfig(), logger), pipeline, logger)
	if err := hp.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer hp.Stop()

	c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", hp.Ports()[0]))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hp.active.Load() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if hp.active.Load() != 1 {
		t.Fatal("connection never tracked")
	}

	// Left idle, the connection must be reaped once it exceeds the
	// timeout, checked on the next housekeeping pass.
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hp.active.Load() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if hp.active.Load() != 0 {
		t.Fatal("idle connection was not swept")
	}

	// The peer observes the close.
	c.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	for {
		if _, err := c.Read(buf); err != nil {
			break
		}
	}
}
