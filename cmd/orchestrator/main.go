// Command orchestrator runs one ShowSync module: the scene state machine
// of that module plus the output sinks it drives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/ShowSync/internal/api"
	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/logging"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
	"github.com/AaronLay10/ShowSync/internal/sinks"
	"github.com/AaronLay10/ShowSync/internal/version"
)

const connectWait = 10 * time.Second

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
	module := flag.String("module", envOr("SHOWSYNC_MODULE", ""),
		"module to run: "+strings.Join(sinks.Modules(), ", "))
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "show document")
	brokerPath := flag.String("broker", envOr("BROKER_CONFIG_PATH", "config/broker.yaml"), "broker settings")
	flag.Parse()

	boot := logging.Default(*module)
	if *module == "" {
		boot.Error("no module given", "modules", sinks.Modules())
		return 2
	}

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

	log := logging.New(cfg.Logging, *module, version.Version)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, log, *module, *configPath, cfg, broker); err != nil {
		log.Error("orchestrator failed", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, log *slog.Logger, module, configPath string, cfg *config.Config, broker *config.Broker) error {
	m := metrics.New(module)
	client := mqtt.NewClient(broker, module, log)
	client.SetOnConnect(func() { m.BusConnected(true) })
	client.SetOnDisconnect(func(error) { m.BusConnected(false) })
	defer client.Close()
	defer events.CloseAllSubscribers()

	topics := client.Topics()
	outputs, release, err := sinks.Build(ctx, sinks.Deps{
		Module: module,
		Config: cfg,
		Bus:    client,
		Topics: topics,
		Log:    log,
	})
	if err != nil {
		return fmt.Errorf("building sinks: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("releasing hardware", "error", err)
		}
	}()

	messages := events.NewTopicLog(events.MessagesPerTopic)
	o := orchestrator.New(orchestrator.ProcessContext{
		Module:   module,
		Config:   cfg,
		Topics:   topics,
		Bus:      client,
		Log:      log,
		Metrics:  m,
		Messages: messages,
	}, outputs...)
	if err := o.Subscribe(); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, connectWait)
	err = client.Connect(cctx)
	cancel()
	var timeout *mqtt.ConnectTimeoutError
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn("broker not reachable yet, retrying in background", "broker", broker.URL())
	case err != nil:
		return err
	default:
		log.Info("connected to broker", "broker", broker.URL(), "client_id", client.ID())
	}

	tlsCfg, err := api.TLSFromConfig(cfg.HTTP)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancelRun()
		return o.Run(gctx)
	})

	if cfg.HTTP.Addr != "" {
		srv := api.New(api.Deps{
			Module:     module,
			ConfigPath: configPath,
			Log:        log,
			Metrics:    m,
			Topics:     topics,
			Messages:   messages,
			State:      o,
			Connected:  client.IsConnected,
		})
		g.Go(func() error { return srv.Start(gctx, cfg.HTTP.Addr, tlsCfg) })
	}

	return g.Wait()
}
