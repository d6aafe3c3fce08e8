// Package main implements the safepoint CLI tool.
//
// The tool exercises the safepoint runtime from the outside: it drives
// multi-threaded suspension stress runs, measures the allocation sampling
// distribution, and reports information about the module it runs against.
//
// Usage:
//
//	safepoint stress -config scenario.yaml   # stop-the-world stress run
//	safepoint sample -bytes 50000000         # sampling distribution check
//	safepoint info                           # module and runtime info
//
// This is the CLI entry point for the standalone tool.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "stress":
		stressCommand(os.Args[2:])
	case "sample":
		sampleCommand(os.Args[2:])
	case "info":
		infoCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("safepoint version %s\n", toolVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

const toolVersion = "0.1.0"

func printUsage() {
	fmt.Print(`safepoint - GC Safepoint Runtime Tool

USAGE:
    safepoint <command> [arguments]

COMMANDS:
    stress     Run a multi-threaded suspension stress scenario
    sample     Measure the allocation sampling distribution
    info       Show module and runtime information
    version    Show version information
    help       Show this help message

EXAMPLES:
    safepoint stress -threads 8 -duration 5s
    safepoint stress -config scenario.yaml
    safepoint sample -bytes 50000000 -object-size 48
`)
}
