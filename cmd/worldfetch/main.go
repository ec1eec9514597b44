// Command worldfetch seeds a data directory with region files from a remote
// archive or repository and checks that every snapshot decodes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	get "github.com/hashicorp/go-getter"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
)

func main() {
	var (
		src         = flag.String("src", "", "go-getter source of the region files, e.g. git::https://host/repo.git//world or https://host/world.tar.gz")
		data        = flag.String("data", "world", "data directory to seed")
		force       = flag.Bool("force", false, "replace an existing region directory")
		height      = flag.Int("height", 64, "world height in blocks")
		compression = flag.String("compression", "gzip", "record compression used by the files")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(context.Background(), log, *src, *data, *force, *height, *compression); err != nil {
		log.Error("worldfetch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, src, data string, force bool, height int, compression string) error {
	if src == "" {
		return errors.New("source url required")
	}
	c, err := compress.Parse(compression)
	if err != nil {
		return err
	}

	dst := filepath.Join(data, storage.CacheDir)
	if _, err := os.Stat(dst); err == nil {
		if !force {
			return fmt.Errorf("%s already exists, use -force to replace it", dst)
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("remove %s: %w", dst, err)
		}
	}

	log.Info("start downloading regions", "src", src, "dst", dst)
	client := &get.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: get.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}

	store, err := storage.NewFileStore(data, height, c, log)
	if err != nil {
		return err
	}
	defer store.Close()

	positions, err := store.Positions()
	if err != nil {
		return err
	}
	var bad int
	for _, pos := range positions {
		if _, err := store.LoadFull(ctx, pos); err != nil {
			bad++
			log.Warn("unreadable region", "x", pos.X, "z", pos.Z, "error", err)
		}
	}
	log.Info("done downloading regions", "dst", dst, "regions", len(positions), "unreadable", bad)
	if bad > 0 {
		return fmt.Errorf("%d of %d regions are unreadable", bad, len(positions))
	}
	return nil
}
