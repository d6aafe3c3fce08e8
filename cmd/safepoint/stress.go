package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/safepoint/safepoint"
)

// stressStats aggregates counters across all mutator threads.
type stressStats struct {
	crossings   atomic.Uint64
	allocations atomic.Uint64
	allocBytes  atomic.Uint64
	oomHits     atomic.Uint64
	suspensions atomic.Uint64
}

func stressCommand(args []string) {
	fs := flag.NewFlagSet("stress", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML scenario file")
	threads := fs.Int("threads", 0, "number of mutator threads (overrides config)")
	runFor := fs.Duration("duration", 0, "total run time (overrides config)")
	suspendEvery := fs.Duration("suspend-every", 0, "stop-the-world cadence (overrides config)")
	allocBytes := fs.Int("alloc-bytes", -1, "per-iteration allocation size (overrides config)")
	sampling := fs.Bool("sampling", false, "enable allocation sampling")
	fs.Parse(args)

	cfg := DefaultStressConfig()
	if *configPath != "" {
		loaded, err := LoadStressConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stress: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *threads > 0 {
		cfg.Threads = *threads
	}
	if *runFor > 0 {
		cfg.Duration = Duration(*runFor)
	}
	if *suspendEvery > 0 {
		cfg.SuspendEvery = Duration(*suspendEvery)
	}
	if *allocBytes >= 0 {
		cfg.AllocBytes = *allocBytes
	}
	if *sampling {
		cfg.Sampling = true
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "stress: %v\n", err)
		os.Exit(1)
	}

	runStress(cfg)
}

func runStress(cfg StressConfig) {
	safepoint.Init()

	var samples atomic.Uint64
	if cfg.Sampling {
		safepoint.OnAllocationSampled(func(addr, size uintptr) {
			samples.Add(1)
		})
		safepoint.EnableAllocationSampling()
		defer safepoint.DisableAllocationSampling()
	}

	fmt.Printf("stress: %d threads, %v, suspend every %v, alloc %d bytes, sampling %v\n",
		cfg.Threads, cfg.Duration.Std(), cfg.SuspendEvery.Std(), cfg.AllocBytes, cfg.Sampling)

	stats := &stressStats{}
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mutatorLoop(cfg, stats, stop)
		}()
	}

	// Requester loop. Runs unattached so SuspendTheWorld never waits on
	// itself.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.SuspendEvery.Std())
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				safepoint.SuspendTheWorld()
				roots := 0
				safepoint.CollectRoots(func(start, words uintptr) {
					roots++
				})
				safepoint.ResumeTheWorld()
				stats.suspensions.Add(1)
			}
		}
	}()

	time.Sleep(cfg.Duration.Std())
	close(stop)
	wg.Wait()

	elapsed := cfg.Duration.Std().Seconds()
	fmt.Printf("  boundary crossings: %d (%.0f/s)\n",
		stats.crossings.Load(), float64(stats.crossings.Load())/elapsed)
	fmt.Printf("  stop-the-world cycles: %d\n", stats.suspensions.Load())
	fmt.Printf("  allocations: %d (%d bytes)\n",
		stats.allocations.Load(), stats.allocBytes.Load())
	if stats.oomHits.Load() > 0 {
		fmt.Printf("  heap exhausted after %d bytes; mutators kept crossing without allocating\n",
			stats.allocBytes.Load())
	}
	if cfg.Sampling {
		fmt.Printf("  allocation samples: %d\n", samples.Load())
	}
}

// mutatorLoop attaches the calling goroutine and alternates between managed
// work (allocation) and simulated native calls until stop closes. On heap
// exhaustion it stops allocating but keeps crossing the boundary, so the
// suspension machinery stays under load for the whole run.
func mutatorLoop(cfg StressConfig, stats *stressStats, stop <-chan struct{}) {
	if err := safepoint.Attach(); err != nil {
		fmt.Fprintf(os.Stderr, "stress: attach: %v\n", err)
		return
	}
	defer safepoint.Detach()

	outOfMemory := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		if cfg.AllocBytes > 0 && !outOfMemory {
			_, err := safepoint.Allocate(uintptr(cfg.AllocBytes))
			switch {
			case err == nil:
				stats.allocations.Add(1)
				stats.allocBytes.Add(uint64(cfg.AllocBytes))
			case errors.Is(err, safepoint.ErrOutOfMemory):
				stats.oomHits.Add(1)
				outOfMemory = true
			default:
				fmt.Fprintf(os.Stderr, "stress: allocate: %v\n", err)
				return
			}
		}

		err := safepoint.EnterNative(func() {
			// Simulated native work: nothing to do, the transition
			// itself is the interesting part.
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "stress: enter native: %v\n", err)
			return
		}
		stats.crossings.Add(1)
	}
}
