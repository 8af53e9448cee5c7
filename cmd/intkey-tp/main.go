// Command intkey-tp runs the intkey transaction family against a Sawtooth
// validator. It is configured entirely through environment variables; see
// internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/blockchaintp/sawtooth-mttp/api"
	"github.com/blockchaintp/sawtooth-mttp/events"
	"github.com/blockchaintp/sawtooth-mttp/handlers/intkey"
	"github.com/blockchaintp/sawtooth-mttp/internal/config"
	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/processor"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "intkey-tp"
)

const logPrefix = "main:intkey-tp"

func main() {
	if err := run(); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	slog.Info(fmt.Sprintf("%s - Starting %s v%s, validator %s", logPrefix, Name, Version, cfg.ValidatorURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream := network.NewStream(cfg.StreamConfig())
	defer stream.Close()

	handler := intkey.NewHandler()
	tp, err := processor.New(handler, stream, cfg.ProcessorConfig())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tp.SetMetrics(api.NewMetrics("sawtooth_tp", reg))

	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer nc.Drain()

		subject := cfg.NATSSubject
		if subject == "" {
			subject = events.DefaultSubject(handler.FamilyName())
		}
		tp.SetPublisher(events.NewNatsPublisher(nc, subject))
		slog.Info(fmt.Sprintf("%s - Publishing results to %s", logPrefix, subject))
	}

	serving := func() bool { return tp.State() == processor.StateRunning }

	var health *api.HealthServer
	if cfg.HealthGRPCAddr != "" {
		health = api.NewHealthServer(cfg.ServiceName)
		if err := health.StartAsync(cfg.HealthGRPCAddr); err != nil {
			return err
		}
		defer health.Stop()
	}
	tp.OnStateChange(func(s processor.EngineState) {
		if health != nil {
			health.SetServing(s == processor.StateRunning)
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		metricsServer := api.NewMetricsServer(cfg.MetricsAddr, reg, serving, func() any {
			return map[string]any{
				"processor": tp.GetStats(),
				"stream":    stream.GetStats(),
			}
		})
		g.Go(func() error {
			slog.Info(fmt.Sprintf("%s - Metrics listening on %s", logPrefix, cfg.MetricsAddr))
			return metricsServer.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			return metricsServer.Stop()
		})
	}

	g.Go(func() error {
		err := tp.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		// Stop the remaining servers once the processor is done
		return context.Canceled
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
