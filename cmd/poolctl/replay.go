package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	slabpool "github.com/holmberd/go-slabpool"
)

var strict bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay an allocation trace through the host hook",
	Long: `Replay reads a trace of alloc, realloc and free requests and sends
each of them through the host allocation hook of a slab pool allocator,
tracking the current size of every live id the way a host runtime would.

Trace format, one request per line:
  alloc ID SIZE
  realloc ID SIZE   (SIZE 0 frees ID)
  free ID
Blank lines and lines starting with '#' are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open trace")
		}
		defer f.Close()
		ops, err := parseTrace(f)
		if err != nil {
			return errors.Wrapf(err, "parse %s", args[0])
		}

		config, err := slabConfig("replay")
		if err != nil {
			return err
		}
		checkMemory(log, config.BlockSize())
		pool, err := slabpool.NewSlabPool(config, poolLog)
		if err != nil {
			return errors.Wrap(err, "create pool")
		}
		a := slabpool.NewAllocator(pool, poolLog)
		defer a.Close()

		res, err := replay(a, ops, strict, log)
		if err != nil {
			return err
		}
		return res.write(cmd.OutOrStdout(), a)
	},
}

func init() {
	replayCmd.Flags().BoolVar(&strict, "strict", false, "Abort on the first failed request")
	rootCmd.AddCommand(replayCmd)
}

// liveUnit is a unit the host holds, with the size the host believes it has.
type liveUnit struct {
	handle slabpool.Handle
	size   int
}

type replayResult struct {
	requests int
	failures int
	live     map[string]liveUnit
}

// replay sends every request through the allocator's hook. Requests naming an id
// the host does not hold, or allocating an id it already holds, are trace errors.
// A request the hook rejects is counted, and with strict aborts the replay.
func replay(a *slabpool.Allocator[*slabpool.SlabPool], ops []traceOp, strict bool, log *logrus.Logger) (replayResult, error) {
	alloc, ud := a.Hook()
	res := replayResult{live: make(map[string]liveUnit)}

	for _, op := range ops {
		u, ok := res.live[op.id]
		switch {
		case op.kind == opAlloc && ok:
			return res, errors.Errorf("line %d: alloc of live id %q", op.line, op.id)
		case op.kind != opAlloc && !ok:
			return res, errors.Errorf("line %d: %s of unknown id %q", op.line, op.kind, op.id)
		}
		res.requests++

		failures := a.Stats().Failures
		var h slabpool.Handle
		switch op.kind {
		case opAlloc:
			// The old size of a fresh allocation is a host type tag.
			h = alloc(ud, slabpool.Null, 0, op.size)
		case opRealloc:
			h = alloc(ud, u.handle, u.size, op.size)
		case opFree:
			h = alloc(ud, u.handle, u.size, 0)
		}

		if a.Stats().Failures > failures {
			res.failures++
			err := a.LastError()
			if strict {
				return res, errors.Wrapf(err, "line %d: %s %q of %d bytes", op.line, op.kind, op.id, op.size)
			}
			log.WithFields(logrus.Fields{"line": op.line, "id": op.id, "size": op.size}).
				WithError(err).Warn("request failed")
			continue
		}
		if op.size == 0 {
			delete(res.live, op.id)
			log.WithFields(logrus.Fields{"line": op.line, "id": op.id}).Debug("free")
			continue
		}
		res.live[op.id] = liveUnit{handle: h, size: op.size}
		log.WithFields(logrus.Fields{"line": op.line, "id": op.id, "size": op.size, "handle": h}).
			Debug(op.kind.String())
	}
	return res, nil
}

func (r replayResult) write(w io.Writer, a *slabpool.Allocator[*slabpool.SlabPool]) error {
	printer.Fprintf(w, "replayed %d requests, %d failed, %d ids live\n", r.requests, r.failures, len(r.live))
	if err := writeAllocatorStats(w, a.Stats()); err != nil {
		return err
	}
	if err := writePoolStats(w, "pool", a.Pool().Stats()); err != nil {
		return err
	}
	if out := a.Pool().Outstanding(); len(out) > 0 {
		fmt.Fprintf(w, "outstanding units:\n")
		for _, h := range out {
			fmt.Fprintf(w, "  %v\n", h)
		}
	}
	return nil
}
