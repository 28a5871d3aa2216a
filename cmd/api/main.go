// Command api runs the ShowSync dashboard: it watches the whole bus,
// derives what the installation is doing and serves the control page.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AaronLay10/ShowSync/internal/api"
	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/dashboard"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/logging"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/version"
)

const (
	module      = "api"
	connectWait = 10 * time.Second
)

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "show document")
	brokerPath := flag.String("broker", envOr("BROKER_CONFIG_PATH", "config/broker.yaml"), "broker settings")
	addr := flag.String("addr", envOr("SHOWSYNC_API_ADDR", ""), "listen address, overrides http.addr")
	flag.Parse()

	boot := logging.Default(module)
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Error("invalid config", "path", *configPath, "error", err)
		return 1
	}
	broker, err := config.LoadBroker(*brokerPath)
	if err != nil {
		boot.Error("invalid broker config", "path", *brokerPath, "error", err)
		return 1
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	log := logging.New(cfg.Logging, module, version.Version)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(module)
	client := mqtt.NewClient(broker, module, log)
	client.SetOnConnect(func() { m.BusConnected(true) })
	client.SetOnDisconnect(func(error) { m.BusConnected(false) })
	defer client.Close()
	defer events.CloseAllSubscribers()

	topics := client.Topics()
	tracker := dashboard.NewTracker(topics, cfg, events.NewTopicLog(events.MessagesPerTopic), mqtt.NewMonitor())
	if err := tracker.Subscribe(client); err != nil {
		log.Error("subscribing", "error", err)
		return 1
	}

	cctx, cancel := context.WithTimeout(ctx, connectWait)
	err = client.Connect(cctx)
	cancel()
	var timeout *mqtt.ConnectTimeoutError
	switch {
	case errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn("broker not reachable yet, retrying in background", "broker", broker.URL())
	case err != nil:
		log.Error("connecting to broker", "error", err)
		return 1
	}

	tlsCfg, err := api.TLSFromConfig(cfg.HTTP)
	if err != nil {
		log.Error("invalid http config", "error", err)
		return 1
	}
	srv := api.New(api.Deps{
		Module:     module,
		ConfigPath: *configPath,
		Log:        log,
		Metrics:    m,
		Topics:     topics,
		Messages:   tracker.Messages(),
		Peers:      tracker.Peers(),
		Tracker:    tracker,
		Bus:        client,
		Connected:  client.IsConnected,
	})
	if err := srv.Start(ctx, cfg.HTTP.Addr, tlsCfg); err != nil {
		log.Error("api server failed", "error", err)
		return 1
	}
	return 0
}
