package main

import (
	"fmt"
	"io"
	"os"

	"github.com/angeloszaimis/key-balancer/config"
	"github.com/angeloszaimis/key-balancer/pkg/logger"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// commands gates dispatch so unknown commands fail before any config or
// store is touched.
var commands = map[string]bool{
	"stats":      true,
	"health":     true,
	"list":       true,
	"import":     true,
	"add-key":    true,
	"remove-key": true,
	"reset":      true,
	"reload":     true,
	"serve":      true,
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "key-balancer %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}

	if !commands[args[0]] {
		fmt.Fprintf(stderr, "error: unknown command %q\n", args[0])
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	log := logger.New(stderr, cfg.Logging.Level, true, cfg.Environment)

	return dispatch(args[0], args[1:], cfg, log, stdout, stderr)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `key-balancer manages a weighted pool of API keys.

Usage:
  key-balancer <command> [flags] [args]

Commands:
  stats                          Aggregate pool statistics
  health                         Pool composition; exits 1 when no key is selectable
  list                           Every key with weight and status
  import [-source s] <file>      Merge a key file into the pool
  add-key [-weight w] <value>    Add a single key
  remove-key <value>             Remove a key and its persisted state
  reset [value]                  Reset one key, or the whole pool
  reload [-prune]                Re-read the configured key source
  serve [-addr host:port]        Run the HTTP stats and metrics endpoints
  version                        Print the version

Most commands accept -json for machine-readable output.
`)
}
