package ratelimit

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// newTestLimiter builds a limiter on a controllable clock.
func newTestLimiter(config Config) (*Limiter, *time.Time) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	l := New(config, logger)
	clock := time.Unix(1700000000, 0)
	now := &clock
	l.now = func() time.Time { return *now }
	return l, now
}

func TestAdmitWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		if !l.Admit("192.168.1.50") {
			t.Fatalf("connection %d denied inside budget", i+1)
		}
	}
	if l.Admit("192.168.1.50") {
		t.Error("11th connection admitted, want denial")
	}
}

func TestWindowExpiryRestoresAdmission(t *testing.T) {
	l, clock := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		l.Admit("10.0.0.9")
	}
	if l.Admit("10.0.0.9") {
		t.Fatal("expected denial at budget")
	}

	*clock = clock.Add(time.Minute)
	if !l.Admit("10.0.0.9") {
		t.Error("admission not restored after window expiry")
	}
}

func TestDeniedAttemptsDoNotExtendWindow(t *testing.T) {
	l, clock := newTestLimiter(DefaultConfig())

	start := *clock
	for i := 0; i < 10; i++ {
		l.Admit("10.0.0.9")
	}

	// A denied attempt halfway through must not restart the window.
	*clock = start.Add(30 * time.Second)
	if l.Admit("10.0.0.9") {
		t.Fatal("expected denial mid-window")
	}

	*clock = start.Add(time.Minute)
	if !l.Admit("10.0.0.9") {
		t.Error("window measured from wrong origin")
	}
}

func TestSourcesLimitedIndependently(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		l.Admit("10.0.0.1")
	}
	if l.Admit("10.0.0.1") {
		t.Fatal("expected denial for exhausted source")
	}
	if !l.Admit("10.0.0.2") {
		t.Error("fresh source denied")
	}
}

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	l, _ := newTestLimiter(config)

	for i := 0; i < 100; i++ {
		if !l.Admit("10.0.0.1") {
			t.Fatal("disabled limiter denied a connection")
		}
	}
	if l.Len() != 0 {
		t.Errorf("disabled limiter tracked %d sources", l.Len())
	}
}

func TestSourceTableEvictsLongestIdle(t *testing.T) {
	config := DefaultConfig()
	config.MaxSources = 3
	l, clock := newTestLimiter(config)

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		*clock = clock.Add(time.Duration(i) * time.Second)
		l.Admit(ip)
	}

	*clock = clock.Add(time.Second)
	l.Admit("10.0.0.4")

	if l.Len() != 3 {
		t.Fatalf("table size = %d, want 3", l.Len())
	}
	if _, ok := l.sources["10.0.0.1"]; ok {
		t.Error("longest-idle source not evicted")
	}
	if _, ok := l.sources["10.0.0.4"]; !ok {
		t.Error("new source not tracked after eviction")
	}
}

func TestCleanupExpiresIdleSources(t *testing.T) {
	l, clock := newTestLimiter(DefaultConfig())

	l.Admit("10.0.0.1")
	*clock = clock.Add(59 * time.Second)
	l.Admit("10.0.0.2")
	*clock = clock.Add(time.Second)

	removed := l.Cleanup()
	if removed != 1 {
		t.Fatalf("cleanup removed %d sources, want 1", removed)
	}
	if _, ok := l.sources["10.0.0.2"]; !ok {
		t.Error("recently active source removed")
	}
}

func TestManySourcesStayBounded(t *testing.T) {
	config := DefaultConfig()
	config.MaxSources = 64
	l, clock := newTestLimiter(config)

	for i := 0; i < 1000; i++ {
		*clock = clock.Add(time.Millisecond)
		l.Admit(fmt.Sprintf("10.1.%d.%d", i/256, i%256))
	}
	if l.Len() > 64 {
		t.Errorf("table grew to %d entries, bound is 64", l.Len())
	}
}
