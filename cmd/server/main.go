package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parkstream/internal/config"
	"parkstream/internal/gate"
	"parkstream/internal/logger"
	"parkstream/internal/lot"
	"parkstream/internal/metrics"
	"parkstream/internal/publish"
	"parkstream/internal/server"
	"parkstream/internal/session"
	"parkstream/internal/vision"
)

func main() {
	var (
		httpAddr    = flag.String("http", ":8000", "HTTP/WebSocket listen address")
		metricsAddr = flag.String("metrics", ":9090", "Prometheus metrics listen address (empty to disable)")
		pprofAddr   = flag.String("pprof", "", "pprof listen address (empty to disable)")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error, silent)")
		logColor    = flag.Bool("log-color", true, "colorize log output")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.Init(level, os.Stderr, *logColor)

	if err := run(*httpAddr, *metricsAddr, *pprofAddr); err != nil {
		logger.Error("main", "%v", err)
		os.Exit(1)
	}
}

func run(httpAddr, metricsAddr, pprofAddr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.New()
	registry := session.NewRegistry()

	detector := vision.NewRemotePlateDetector(cfg.Inference.PlateDetectorURL)
	reader := vision.NewRemotePlateReader(cfg.Inference.PlateOCRURL)
	recognizer := vision.NewPipeline(detector, reader)
	slotDetector := vision.NewRemoteSlotDetector(cfg.Inference.SlotDetectorURL)

	var publisher session.EventPublisher
	mqttPub, err := publish.NewMQTT(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt publisher: %w", err)
	}
	if mqttPub != nil {
		publisher = mqttPub
		defer mqttPub.Close()
	}

	srv := server.New(server.Options{
		GateConfig: gateConfig(cfg.Gate),
		LotConfig:  lotConfig(cfg.Lot),
		Recognizer: recognizer,
		Slots:      slotDetector,
		Registry:   registry,
		Publisher:  publisher,
		Metrics:    m,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if metricsAddr != "" {
		go func() {
			logger.Info("main", "metrics listening on %s", metricsAddr)
			if err := m.StartServer(metricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("main", "metrics server: %v", err)
			}
		}()
	}
	if pprofAddr != "" {
		go func() {
			logger.Info("main", "pprof listening on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Error("main", "pprof server: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("main", "listening on %s", httpAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("main", "received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	if n := registry.Count(); n > 0 {
		logger.Info("main", "closing %d live monitor sessions", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("main", "shutdown complete")
	return nil
}

func gateConfig(c config.GateConfig) gate.Config {
	return gate.Config{
		SkipFrames:       c.SkipFrames,
		DedupWindow:      c.DedupWindow,
		MaxTrackedPlates: c.MaxTrackedPlates,
		CleanupInterval:  c.CleanupInterval,
	}
}

func lotConfig(c config.LotConfig) lot.Config {
	return lot.Config{
		SkipFrames:        c.SkipFrames,
		CapacityThreshold: c.CapacityThreshold,
		MaxCapacity:       c.MaxCapacity,
		AlertCooldown:     c.AlertCooldown,
	}
}
