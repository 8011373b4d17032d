package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"smalls/pkg/heap"
	"smalls/pkg/smalls"
)

var (
	gcObjects   int
	gcSurvivors int
)

func init() {
	cmd := newGcStatsCmd()
	cmd.Flags().IntVar(&gcObjects, "objects", 10000, "Objects to allocate")
	cmd.Flags().IntVar(&gcSurvivors, "survivors", 100, "Objects kept reachable throughout")
	rootCmd.AddCommand(cmd)
}

func newGcStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc-stats",
		Short: "Run an allocation stress scenario and dump collector statistics",
		Long: `The gc-stats command allocates a churn of short-lived objects with a
small reachable working set, drives minor cycles through the
allocation hook, finishes with a major collection, and prints the
collector's cumulative statistics.

Example:
  smallsc gc-stats --objects 50000 --survivors 256`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGcStats()
		},
	}
}

func runGcStats() error {
	rt := smalls.NewRuntime()
	rt.SetLogger(newLogger())

	var roots []heap.Ptr
	rt.Collector.AddRootProvider(func() []heap.Ptr { return roots })

	for i := 0; i < gcObjects; i++ {
		p, err := rt.Heap.Allocate(32, 8, 0)
		if err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
		if len(roots) < gcSurvivors {
			roots = append(roots, p)
		}
	}

	for !rt.Collector.CollectMajor(nil) {
	}

	stats := rt.Collector.Stats()
	fmt.Printf("minor cycles:  %d\n", stats.MinorCycles)
	fmt.Printf("major cycles:  %d\n", stats.MajorCycles)
	fmt.Printf("objects freed: %d\n", stats.ObjectsFreed)
	fmt.Printf("bytes freed:   %d\n", stats.BytesFreed)
	fmt.Printf("max pause:     %s\n", stats.MaxPause)
	fmt.Printf("total pause:   %s\n", stats.CumulativePause)
	fmt.Printf("live objects:  %d\n", rt.Heap.Count())
	fmt.Printf("committed:     %d bytes\n", rt.Heap.Committed())
	fmt.Printf("dirty cards:   %d\n", rt.Collector.CardTable().DirtyCount())
	return nil
}
