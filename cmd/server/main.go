package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OCharnyshevich/chunk-server/internal/server"
	"github.com/OCharnyshevich/chunk-server/internal/server/config"
)

func main() {
	cfg := config.DefaultConfig()

	configPath := flag.String("config", "", "path to a YAML config file")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "world data directory")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: file, leveldb or sqlite")
	flag.StringVar(&cfg.Compression, "compression", cfg.Compression, "record compression: none, gzip, zstd, lz4 or snappy")
	flag.StringVar(&cfg.Generator, "generator", cfg.Generator, "world generator: noise or flat")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "world seed")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "world height in blocks")
	flag.IntVar(&cfg.MaxLoadedChunks, "max-loaded", cfg.MaxLoadedChunks, "maximum resident chunks")
	flag.DurationVar(&cfg.UnloadAfter, "unload-after", cfg.UnloadAfter, "unload chunks idle this long")
	flag.DurationVar(&cfg.GCInterval, "gc-interval", cfg.GCInterval, "period of the unload loop")
	flag.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "period of the flush loop")
	flag.IntVar(&cfg.FullSaveThreshold, "full-save-threshold", cfg.FullSaveThreshold, "dirty blocks above which a full snapshot is written")
	flag.IntVar(&cfg.IOWorkers, "io-workers", cfg.IOWorkers, "concurrent saves")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()

	if *configPath != "" {
		fromFile, err := config.Load(*configPath)
		if err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		config.Merge(cfg, fromFile, explicit)
	}

	level, err := cfg.Level()
	if err != nil {
		slog.Error("parse log level", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("create server", "error", err)
		os.Exit(1)
	}
	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
