// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command loutd is the GELF UDP log-ingest daemon: it receives
// chunked/compressed GELF datagrams, reassembles and decodes them, and
// fans decoded records out to configured sinks per a static routing
// table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/loutd/internal/config"
	"github.com/nishisan-dev/loutd/internal/gelf"
	"github.com/nishisan-dev/loutd/internal/ingest"
	"github.com/nishisan-dev/loutd/internal/logging"
	"github.com/nishisan-dev/loutd/internal/route"
	"github.com/nishisan-dev/loutd/internal/sink"
	"github.com/nishisan-dev/loutd/internal/sink/es"
	"github.com/nishisan-dev/loutd/internal/sink/pachyderm"
	"github.com/nishisan-dev/loutd/internal/sink/postgres"
	"github.com/nishisan-dev/loutd/internal/sink/s3"
	"github.com/nishisan-dev/loutd/internal/sink/stdout"
	"github.com/nishisan-dev/loutd/internal/stats"
	"github.com/nishisan-dev/loutd/internal/translator"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-path>\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("loutd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	table := gelf.NewTable(gelf.TableOptions{
		TTL:          cfg.ChunkTable.TTL,
		ReapInterval: cfg.ChunkTable.ReapInterval,
		MaxEntries:   cfg.ChunkTable.MaxEntries,
	})

	sup := ingest.NewSupervisor(table, logger)
	var statProviders []stats.SinkStatsProvider

	for name, out := range cfg.Output {
		shipper, failLimit, err := buildShipper(ctx, cfg, name, out, logger)
		if err != nil {
			return fmt.Errorf("building output %q: %w", name, err)
		}
		w := sink.NewWorker(sink.Options{
			Name:          name,
			BufferMax:     out.BufferMax,
			FailLimit:     failLimit,
			RetryInterval: 0,
			Logger:        logger,
		}, shipper)
		sup.AddSink(name, w)
		statProviders = append(statProviders, w)
	}

	routeSpecs := make([]route.RouteSpec, 0, len(cfg.Route))
	for name, r := range cfg.Route {
		routeSpecs = append(routeSpecs, route.RouteSpec{Name: name, Input: r.Input, Output: r.Output, IfHasField: r.IfHasField})
	}
	routes := route.NewTable(routeSpecs)

	for name, in := range cfg.Input {
		if err := sup.AddInput(name, in.URL, in.BufferSize, routes); err != nil {
			return fmt.Errorf("binding input %q: %w", name, err)
		}
	}

	reporter := stats.NewReporter(statProviders, table, cfg.Stats.Interval, logger)
	go reporter.Run(ctx)

	logger.Info("loutd starting", "inputs", len(cfg.Input), "outputs", len(cfg.Output), "routes", len(cfg.Route))

	go func() {
		<-ctx.Done()
		sup.Shutdown()
	}()

	return sup.Run(ctx)
}

// buildShipper constructs the sink.Shipper for one configured output,
// decoding its type-specific remainder via cfg.DecodeOutput and
// returning the fail_limit appropriate to that sink type.
func buildShipper(ctx context.Context, cfg *config.Config, name string, out config.OutputSpec, logger *slog.Logger) (sink.Shipper, int, error) {
	switch out.Type {
	case "stdout":
		var settings struct {
			Brief bool `toml:"brief"`
		}
		_ = cfg.DecodeOutput(name, &settings)
		return stdout.New(os.Stdout, settings.Brief), sink.DefaultFailLimitNetwork, nil

	case "es":
		esCfg := es.DefaultConfig()
		if err := cfg.DecodeOutput(name, &esCfg); err != nil {
			return nil, 0, err
		}
		if out.BatchMaxSize > 0 {
			esCfg.BatchMaxSize = int(out.BatchMaxSize)
		}
		if out.BatchSecs > 0 {
			esCfg.BatchSecs = out.BatchSecs
		}
		shipper, err := es.New(esCfg)
		return shipper, sink.DefaultFailLimitNetwork, err

	case "s3":
		s3Cfg := s3.DefaultConfig()
		if err := cfg.DecodeOutput(name, &s3Cfg); err != nil {
			return nil, 0, err
		}
		if out.BatchMaxSize > 0 {
			s3Cfg.BatchMaxSize = out.BatchMaxSize
		}
		if out.BatchSecs > 0 {
			s3Cfg.BatchSecs = out.BatchSecs
		}
		shipper, err := s3.New(ctx, s3Cfg)
		return shipper, sink.DefaultFailLimitNetwork, err

	case "postgres":
		pgCfg := postgres.DefaultConfig()
		if err := cfg.DecodeOutput(name, &pgCfg); err != nil {
			return nil, 0, err
		}
		pgCfg.DBHost = envOr("DB_HOST", pgCfg.DBHost)
		pgCfg.DBPort = envOr("DB_PORT", pgCfg.DBPort)
		pgCfg.DBName = os.Getenv("DB_NAME")
		pgCfg.DBUser = os.Getenv("DB_USER")
		pgCfg.DBPass = os.Getenv("DB_PASS")

		schema, err := loadSchema(pgCfg)
		if err != nil {
			return nil, 0, err
		}
		shipper, err := postgres.New(ctx, pgCfg, schema, logger)
		return shipper, sink.DefaultFailLimitNetwork, err

	case "pachyderm":
		pCfg := pachyderm.DefaultConfig()
		if err := cfg.DecodeOutput(name, &pCfg); err != nil {
			return nil, 0, err
		}
		if out.BatchMaxSize > 0 {
			pCfg.BatchMaxSize = out.BatchMaxSize
		}
		shipper, err := pachyderm.New(pCfg)
		return shipper, sink.DefaultFailLimitPachyderm, err

	default:
		return nil, 0, fmt.Errorf("unrecognized output type %q", out.Type)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func loadSchema(pgCfg postgres.Config) (translator.Schema, error) {
	path := pgCfg.SchemaFile
	if path == "" {
		path = "/etc/loutd/schema.json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return translator.Schema{}, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	var schema translator.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return translator.Schema{}, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	return schema, nil
}
