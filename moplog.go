package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/lumberjack/v2"
	"github.com/moplog/moplog/admin"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/checkpoint"
	"github.com/moplog/moplog/engine"
	"github.com/moplog/moplog/handler"
	_ "github.com/moplog/moplog/handler/sink"
	"github.com/moplog/moplog/oplog"
	"github.com/moplog/moplog/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsInterval = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	docStore := checkpoint.NewFileStore(*cfg.ConfigPathFlag)
	if _, err := docStore.Load(); err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	doc := docStore.Document()
	cfg.ApplyFlags(&doc)
	if err := doc.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	store, err := checkpoint.OpenBackend(docStore)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open checkpoint store")
		return 1
	}
	defer store.Close()

	nodeID := cfg.NodeID()
	setupLogging(doc.Logging, nodeID)

	log.Info().
		Str("config", *cfg.ConfigPathFlag).
		Str("source", oplog.Redacted(doc.Source)).
		Str("collection", doc.Source.Collection).
		Str("checkpoint", doc.Checkpoint.Backend).
		Int64("last_ts", store.Document().LastTs).
		Strs("handlers", doc.HandlerNames()).
		Strs("handler_types", handler.RegisteredTypes()).
		Msg("moplog - MongoDB oplog tailer")

	telemetry.InitializeTelemetry(doc.Prometheus.Enabled, nodeID)
	telemetry.InitMetrics()

	source, err := oplog.NewMongoSource(doc.Source)
	if err != nil {
		log.Error().Err(err).Msg("Invalid source")
		return 1
	}

	registry, err := handler.NewRegistry(doc.Collections, handler.NewFactoryResolver(doc.Handlers))
	if err != nil {
		log.Error().Err(err).Msg("Failed to bind handlers")
		return 1
	}
	defer registry.Close()

	eng, err := engine.New(engine.Config{
		Source:     source,
		Checkpoint: store,
		Router:     registry,
		Clock:      clock.WallClock,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to start engine")
		return 1
	}

	collector := telemetry.NewMetricsCollector(eng, clock.WallClock, metricsInterval)
	collector.Start()
	defer collector.Stop()

	if doc.HTTP.Enabled {
		srv, err := admin.Start(doc.HTTP, eng)
		if err != nil {
			log.Error().Err(err).Msg("Failed to start status API")
			eng.Kill()
			eng.Wait()
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("Status API shutdown failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		eng.Kill()
	case <-eng.Dead():
	}

	return exitCode(eng.Wait())
}

func exitCode(err error) int {
	if err == nil {
		log.Info().Msg("Stopped")
		return 0
	}

	if fatal, ok := engine.AsFatal(err); ok {
		log.Error().Err(fatal.Err).Stringer("kind", fatal.Kind).Msg("Fatal error, exiting")
	} else {
		log.Error().Err(err).Msg("Engine failed")
	}
	return 1
}

func setupLogging(config cfg.LoggingConfiguration, nodeID uint64) {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if config.Format == "json" {
		writer = os.Stdout
	}

	if config.File != "" {
		writer = zerolog.MultiLevelWriter(writer, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		})
	}

	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", nodeID).
		Logger()

	if config.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}
