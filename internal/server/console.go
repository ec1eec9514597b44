package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage/anvil"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

var errQuit = errors.New("quit")

// console executes line commands against a chunk store.
type console struct {
	chunks *world.ChunkStore
	out    io.Writer
}

const help = `commands:
  get <x> <y> <z>                           print the block at a world position
  set <x> <y> <z> <id>                      set the block at a world position
  fill <x1> <y1> <z1> <x2> <y2> <z2> <id>   fill a box
  list                                      list loaded chunks
  stats                                     print counters
  save                                      flush dirty chunks
  unload <cx> <cz>                          save and unload one chunk
  gc <idle>                                 unload chunks idle longer than idle (e.g. 30s)
  export <dir>                              write loaded chunks as Anvil region files
  quit                                      save everything and exit`

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "get":
		n, err := ints(args, 3)
		if err != nil {
			return err
		}
		id, err := c.chunks.GetBlock(ctx, world.BlockPos{X: n[0], Y: n[1], Z: n[2]})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d\n", id)
	case "set":
		n, err := ints(args, 4)
		if err != nil {
			return err
		}
		id, err := blockID(n[3])
		if err != nil {
			return err
		}
		changed, err := c.chunks.SetBlock(ctx, world.BlockPos{X: n[0], Y: n[1], Z: n[2]}, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "changed=%t\n", changed)
	case "fill":
		n, err := ints(args, 7)
		if err != nil {
			return err
		}
		id, err := blockID(n[6])
		if err != nil {
			return err
		}
		count, err := c.chunks.Fill(ctx,
			world.BlockPos{X: n[0], Y: n[1], Z: n[2]},
			world.BlockPos{X: n[3], Y: n[4], Z: n[5]}, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d blocks changed\n", count)
	case "list":
		c.list()
	case "stats":
		st := c.chunks.Stats()
		fmt.Fprintf(c.out, "resident=%d dirty=%d dirtyBlocks=%d loaded=%d generated=%d evicted=%d writes=%d\n",
			st.Resident, st.Dirty, st.DirtyBlocks, st.Loaded, st.Generated, st.Evicted, st.Writes)
	case "save":
		if err := c.chunks.FlushDirty(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "saved")
	case "unload":
		n, err := ints(args, 2)
		if err != nil {
			return err
		}
		if err := c.chunks.Evict(ctx, chunk.Pos{X: n[0], Z: n[1]}); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "unloaded")
	case "gc":
		if len(args) != 1 {
			return fmt.Errorf("gc: want 1 argument, got %d", len(args))
		}
		idle, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("gc: %w", err)
		}
		before := c.chunks.Len()
		if err := c.chunks.SweepInactive(ctx, idle); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "unloaded %d chunks\n", before-c.chunks.Len())
	case "export":
		if len(args) != 1 {
			return fmt.Errorf("export: want 1 argument, got %d", len(args))
		}
		files, err := anvil.Export(ctx, args[0], c.chunks.SnapshotResident())
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "wrote %d region files to %s\n", files, args[0])
	case "help":
		fmt.Fprintln(c.out, help)
	case "quit", "exit", "stop":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *console) list() {
	regions := c.chunks.Resident()
	if len(regions) == 0 {
		fmt.Fprintln(c.out, "No chunks currently loaded in memory.")
		return
	}
	fmt.Fprintf(c.out, "Loaded chunks in memory: %d\n", len(regions))
	for _, r := range regions {
		fmt.Fprintf(c.out, " - %d,%d lastAccess=%s dirty=%t changes=%d\n",
			r.Pos.X, r.Pos.Z, r.LastAccess.Format(time.RFC3339), r.Dirty, r.DirtyBlocks)
	}
}

func ints(args []string, want int) ([]int, error) {
	if len(args) != want {
		return nil, fmt.Errorf("want %d arguments, got %d", want, len(args))
	}
	out := make([]int, want)
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = n
	}
	return out, nil
}

func blockID(n int) (byte, error) {
	if n < 0 || n > 0xFF {
		return 0, fmt.Errorf("block id %d out of range 0..255", n)
	}
	return byte(n), nil
}
