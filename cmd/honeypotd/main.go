// Command honeypotd runs the IoT honeypot: the connection engine on the
// emulated service ports and, when enabled, the operator API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/config"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/api"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/geoip"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/health"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/honeypot"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/ratelimit"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "honeypotd: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger()

	printBanner(cfg.Honeypot.Ports)
	logger.WithField("version", version).Info("Starting IoT Honeypot")

	store, err := attacklog.NewStore(cfg.Log.Store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open attack store")
	}
	pipeline := attacklog.New(cfg.Log, store, logger)

	resolver, err := geoip.Open(cfg.GeoIP, logger)
	if err != nil {
		logger.WithError(err).Warn("GeoIP enrichment disabled")
	}
	if resolver != nil {
		pipeline.AddSink(func(rec attacklog.Record) {
			if loc, ok := resolver.Lookup(rec.SourceIP); ok {
				logger.WithFields(logrus.Fields{
					"source":  rec.SourceIP,
					"country": loc.Country,
					"city":    loc.City,
				}).Info("Attack origin resolved")
			}
		})
	}

	limiter := ratelimit.New(cfg.RateLimit, logger)
	engine := honeypot.New(cfg.Honeypot, limiter, pipeline, logger)

	monitor := health.NewMonitor(health.DefaultConfig(), logger)
	engine.SetHeartbeat(monitor.Beat)

	if err := engine.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start honeypot")
	}
	monitor.SetRunning(true)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, engine, pipeline, resolver, health.NewHandler(monitor, logger), logger)
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}

	go monitorLoop(logger)

	logger.Info("Honeypot system initialized successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	if err := engine.Stop(); err != nil {
		logger.WithError(err).Error("Engine stop failed")
	}
	monitor.SetRunning(false)

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("API shutdown failed")
		}
		cancel()
	}

	if err := pipeline.Close(); err != nil {
		logger.WithError(err).Error("Failed to close attack store")
	}
	if err := resolver.Close(); err != nil {
		logger.WithError(err).Error("Failed to close GeoIP database")
	}

	logger.Info("Honeypot shut down")
}

const bannerWidth = 58

func bannerLine(text string) string {
	pad := bannerWidth - len(text)
	if pad < 0 {
		pad = 0
	}
	left := pad / 2
	return "║" + strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left) + "║"
}

func printBanner(ports []uint16) {
	sorted := append([]uint16(nil), ports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	labels := make([]string, len(sorted))
	for i, p := range sorted {
		labels[i] = fmt.Sprintf("%d", p)
	}

	border := strings.Repeat("═", bannerWidth)
	fmt.Println()
	fmt.Println("╔" + border + "╗")
	fmt.Println(bannerLine("IoT HONEYPOT"))
	fmt.Println(bannerLine("Version " + version))
	fmt.Println(bannerLine(""))
	fmt.Println(bannerLine("For authorized security research only."))
	fmt.Println(bannerLine("Comply with all applicable laws and regulations."))
	fmt.Println(bannerLine(""))
	fmt.Println(bannerLine("Ports monitored: " + strings.Join(labels, ", ")))
	fmt.Println("╚" + border + "╝")
	fmt.Println()
}

// monitorLoop logs process memory pressure every 30 seconds.
func monitorLoop(logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		logger.WithFields(logrus.Fields{
			"heapAlloc":  m.HeapAlloc,
			"heapSys":    m.HeapSys,
			"goroutines": runtime.NumGoroutine(),
		}).Info("System monitor")
	}
}
