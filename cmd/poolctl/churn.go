package main

import (
	"math/rand"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	slabpool "github.com/holmberd/go-slabpool"
)

var (
	churnOps     int
	churnSeed    int64
	churnMinSize int
	churnMaxSize int
	churnPoolArg string
)

var churnCmd = &cobra.Command{
	Use:   "churn",
	Short: "Run a random alloc/free workload against a pool",
	Long: `Churn allocates units of random sizes and releases them oldest first.
When the pool is exhausted the oldest outstanding unit is released to make room.
The pool's lists are verified after the workload.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := churnOptions{
			ops:     churnOps,
			seed:    churnSeed,
			minSize: churnMinSize,
			maxSize: churnMaxSize,
		}
		pool, err := newChurnPool(churnPoolArg)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := runChurn(pool, opts, log)
		if err != nil {
			return err
		}
		printer.Fprintf(cmd.OutOrStdout(), "ran %d operations, %d evictions, %d units outstanding at the end\n",
			res.ops, res.evictions, res.outstanding)
		return writePoolStats(cmd.OutOrStdout(), churnPoolArg+" pool", res.stats)
	},
}

func init() {
	churnCmd.Flags().IntVar(&churnOps, "ops", 100000, "Number of operations")
	churnCmd.Flags().Int64Var(&churnSeed, "seed", 1, "Random seed")
	churnCmd.Flags().IntVar(&churnMinSize, "min-size", 1, "Minimum request size in bytes")
	churnCmd.Flags().IntVar(&churnMaxSize, "max-size", 0, "Maximum request size in bytes (default unit size)")
	churnCmd.Flags().StringVar(&churnPoolArg, "pool", "slab", "Pool to exercise (slab, buffer)")
	rootCmd.AddCommand(churnCmd)
}

// churnPool is the part of a pool the churn workload drives.
type churnPool interface {
	alloc(size int) (slabpool.Handle, error)
	release(h slabpool.Handle) error
	unitSize() int
	Verify() error
	Stats() slabpool.Stats
	Close() error
}

type slabChurnPool struct{ *slabpool.SlabPool }

func (p slabChurnPool) alloc(size int) (slabpool.Handle, error) { return p.Alloc(size) }
func (p slabChurnPool) release(h slabpool.Handle) error         { return p.Free(h) }
func (p slabChurnPool) unitSize() int                           { return p.UnitSize() }

type bufferChurnPool struct{ *slabpool.BufferPool }

func (p bufferChurnPool) alloc(size int) (slabpool.Handle, error) { return p.Allocate(size) }
func (p bufferChurnPool) release(h slabpool.Handle) error         { return p.Release(h) }
func (p bufferChurnPool) unitSize() int                           { return p.BufferSize() }

func newChurnPool(kind string) (churnPool, error) {
	switch kind {
	case "slab":
		config, err := slabConfig("churn")
		if err != nil {
			return nil, err
		}
		checkMemory(log, config.BlockSize())
		p, err := slabpool.NewSlabPool(config, poolLog)
		if err != nil {
			return nil, errors.Wrap(err, "create slab pool")
		}
		return slabChurnPool{p}, nil
	case "buffer":
		config, err := bufferConfig("churn")
		if err != nil {
			return nil, err
		}
		checkMemory(log, config.BufferCount*config.BufferSize)
		p, err := slabpool.NewBufferPool(config, poolLog)
		if err != nil {
			return nil, errors.Wrap(err, "create buffer pool")
		}
		return bufferChurnPool{p}, nil
	default:
		return nil, errors.Errorf("unknown pool %q", kind)
	}
}

type churnOptions struct {
	ops     int
	seed    int64
	minSize int
	maxSize int // Zero means the pool's unit size.
}

type churnResult struct {
	ops         int
	evictions   int
	outstanding int
	stats       slabpool.Stats // Taken before the outstanding units are released.
}

// runChurn runs the workload, then releases every outstanding unit.
// The pool's lists are verified before and after the final release.
func runChurn(pool churnPool, opts churnOptions, log *logrus.Logger) (churnResult, error) {
	if opts.maxSize == 0 {
		opts.maxSize = pool.unitSize()
	}
	if opts.minSize < 0 || opts.minSize > opts.maxSize || opts.maxSize > pool.unitSize() {
		return churnResult{}, errors.Errorf("sizes must satisfy 0 <= min-size (%d) <= max-size (%d) <= unit size (%d)",
			opts.minSize, opts.maxSize, pool.unitSize())
	}

	var res churnResult
	rng := rand.New(rand.NewSource(opts.seed))
	outstanding := queue.New()
	releaseOldest := func() error {
		h := outstanding.Remove().(slabpool.Handle)
		return errors.Wrapf(pool.release(h), "release %v", h)
	}

	for ; res.ops < opts.ops; res.ops++ {
		if outstanding.Length() > 0 && rng.Intn(3) == 0 {
			if err := releaseOldest(); err != nil {
				return res, err
			}
			continue
		}
		size := opts.minSize + rng.Intn(opts.maxSize-opts.minSize+1)
		h, err := pool.alloc(size)
		if errors.Is(err, slabpool.ErrPoolExhausted) && outstanding.Length() > 0 {
			res.evictions++
			if err := releaseOldest(); err != nil {
				return res, err
			}
			h, err = pool.alloc(size)
		}
		if err != nil {
			return res, errors.Wrapf(err, "operation %d: allocate %d bytes", res.ops, size)
		}
		outstanding.Add(h)
	}

	if err := pool.Verify(); err != nil {
		return res, errors.Wrap(err, "verify after workload")
	}
	res.outstanding = outstanding.Length()
	res.stats = pool.Stats()
	log.WithFields(logrus.Fields{"ops": res.ops, "evictions": res.evictions, "outstanding": res.outstanding}).
		Debug("workload done")

	for outstanding.Length() > 0 {
		if err := releaseOldest(); err != nil {
			return res, err
		}
	}
	if err := pool.Verify(); err != nil {
		return res, errors.Wrap(err, "verify after release")
	}
	return res, nil
}
