package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/mod/modfile"

	"github.com/kolkov/safepoint/internal/safepoint/allocctx"
	"github.com/kolkov/safepoint/internal/safepoint/heap"
	"github.com/kolkov/safepoint/safepoint"
)

// infoCommand reports runtime constants plus, when run inside a Go module,
// the identity of that module from its go.mod.
func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)

	info := safepoint.GetInfo()
	fmt.Printf("safepoint runtime %s\n", info.Version)
	fmt.Printf("  suspension model:   %s\n", info.SuspensionModel)
	fmt.Printf("  sampling mean:      %d bytes\n", allocctx.SamplingMeanBytes)
	fmt.Printf("  allocation region:  %d bytes\n", heap.DefaultRegionBytes)
	fmt.Printf("  go runtime:         %s %s/%s\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH)

	modPath, mf, err := loadEnclosingModule()
	if err != nil {
		fmt.Printf("  module:             (not inside a Go module)\n")
		return
	}
	fmt.Printf("  module:             %s\n", mf.Module.Mod.Path)
	if mf.Go != nil {
		fmt.Printf("  module go version:  %s\n", mf.Go.Version)
	}
	fmt.Printf("  module file:        %s\n", modPath)
	if len(mf.Require) > 0 {
		fmt.Printf("  module requires:    %d dependencies\n", len(mf.Require))
	}
}

// loadEnclosingModule walks up from the working directory to the nearest
// go.mod and parses it.
func loadEnclosingModule() (string, *modfile.File, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}

	for {
		modPath := filepath.Join(dir, "go.mod")
		if data, err := os.ReadFile(modPath); err == nil {
			mf, err := modfile.Parse(modPath, data, nil)
			if err != nil {
				return "", nil, fmt.Errorf("parsing %s: %w", modPath, err)
			}
			return modPath, mf, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, fmt.Errorf("no go.mod found above %s", dir)
		}
		dir = parent
	}
}
