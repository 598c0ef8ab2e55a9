package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	slabpool "github.com/holmberd/go-slabpool"
)

var (
	// Global flags
	units     int
	unitSize  int
	backing   string
	guard     bool
	verbose   bool
)

var (
	log     *logrus.Logger
	poolLog *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Exercise fixed-capacity memory pools",
	Long: `poolctl drives slab and buffer pools with recorded allocation traces
and synthetic churn workloads, and reports pool and allocator stats.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = newLogger(cmd.ErrOrStderr(), verbose)
		poolLog = slog.New(newLogrusHandler(log))
		return nil
	},
}

func init() {
	defaults := slabpool.DefaultSlabPoolConfig()

	// Global flags
	rootCmd.PersistentFlags().IntVarP(&units, "units", "n", defaults.UnitCount, "Number of units in the pool")
	rootCmd.PersistentFlags().IntVarP(&unitSize, "unit-size", "s", defaults.UnitSize, "Size of every unit in bytes")
	rootCmd.PersistentFlags().StringVar(&backing, "backing", defaults.Backing.String(), "Pool memory backing (heap, mmap)")
	rootCmd.PersistentFlags().BoolVar(&guard, "guard", false, "Detect writes to freed units")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// slabConfig builds a slab pool configuration from the global flags.
func slabConfig(name string) (slabpool.SlabPoolConfig, error) {
	b, err := slabpool.ParseBacking(backing)
	if err != nil {
		return slabpool.SlabPoolConfig{}, err
	}
	config := slabpool.SlabPoolConfig{
		Name:      name,
		UnitCount: units,
		UnitSize:  unitSize,
		Backing:   b,
		Guard:     guard,
	}
	if err := config.Validate(); err != nil {
		return slabpool.SlabPoolConfig{}, errors.Wrap(err, "invalid pool flags")
	}
	return config, nil
}

// bufferConfig builds a buffer pool configuration from the global flags.
func bufferConfig(name string) (slabpool.BufferPoolConfig, error) {
	b, err := slabpool.ParseBacking(backing)
	if err != nil {
		return slabpool.BufferPoolConfig{}, err
	}
	config := slabpool.BufferPoolConfig{
		Name:        name,
		BufferSize:  unitSize,
		BufferCount: units,
		Backing:     b,
	}
	if err := config.Validate(); err != nil {
		return slabpool.BufferPoolConfig{}, errors.Wrap(err, "invalid pool flags")
	}
	return config, nil
}
