package main

import (
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/kolkov/safepoint/internal/safepoint/allocctx"
	"github.com/kolkov/safepoint/safepoint"
)

// sampleCommand allocates a configurable volume of objects with sampling
// enabled and compares the observed sample rate against the geometric
// distribution's configured mean.
func sampleCommand(args []string) {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	totalBytes := fs.Int64("bytes", 48<<20, "total bytes to allocate")
	objectSize := fs.Int("object-size", 48, "size of each allocated object")
	fs.Parse(args)

	if *objectSize <= 0 || *totalBytes < int64(*objectSize) {
		fmt.Fprintln(os.Stderr, "sample: -bytes must cover at least one -object-size object")
		os.Exit(1)
	}

	// Size the heap to hold the whole run plus slack for region rounding.
	safepoint.InitWithHeapSize(uintptr(*totalBytes) + 1<<20)

	var sampleCount atomic.Uint64
	var sampledBytes atomic.Uint64
	safepoint.OnAllocationSampled(func(addr, size uintptr) {
		sampleCount.Add(1)
		sampledBytes.Add(uint64(size))
	})
	safepoint.EnableAllocationSampling()
	defer safepoint.DisableAllocationSampling()

	if err := safepoint.Attach(); err != nil {
		fmt.Fprintf(os.Stderr, "sample: attach: %v\n", err)
		os.Exit(1)
	}
	defer safepoint.Detach()

	objects := *totalBytes / int64(*objectSize)
	var allocated int64
	for i := int64(0); i < objects; i++ {
		if _, err := safepoint.Allocate(uintptr(*objectSize)); err != nil {
			fmt.Fprintf(os.Stderr, "sample: allocate after %d bytes: %v\n", allocated, err)
			os.Exit(1)
		}
		allocated += int64(*objectSize)
	}

	samples := sampleCount.Load()
	fmt.Printf("sample: allocated %d objects (%d bytes)\n", objects, allocated)
	fmt.Printf("  samples fired: %d\n", samples)
	if samples > 0 {
		observed := float64(allocated) / float64(samples)
		fmt.Printf("  observed mean gap: %.0f bytes (configured %d)\n",
			observed, allocctx.SamplingMeanBytes)
		fmt.Printf("  sampled object bytes: %d\n", sampledBytes.Load())
	} else {
		fmt.Println("  no samples fired; allocate more bytes for a meaningful run")
	}
}
