package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	loadEnvFiles()

	switch os.Args[1] {
	case "serve":
		runServeCommand(os.Args[2:])
	case "dump":
		runDumpCommand(os.Args[2:])
	case "guide":
		printGuide()
	case "-h", "--help", "help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

// loadEnvFiles loads .env from the working directory and next to the binary.
// Missing files are fine; existing environment always wins.
func loadEnvFiles() {
	_ = godotenv.Load()
	if exe, err := os.Executable(); err == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exe), ".env"))
	}
}

func printHelp() {
	fmt.Print(`harbinger - replay a captured HTTP session against a local server

Usage:
  harbinger serve <capture.har> [options]   Serve a capture for replay
  harbinger dump <capture.har> [options]    Export recorded bodies to disk
  harbinger guide                           Print the replay setup guide

Serve options:
  -c, --config <file>       YAML configuration file
  -p, --port <port>         Replay server port (default 8000)
  -d, --dump-path <dir>     Serve body overrides from this dump tree
      --namespace <seg>     Rewritten-path namespace segment (default srv)
      --origin-host <host>  Pin replay to a single recorded origin
      --proxy <url>         Live-proxy archive misses through this URL
      --blackhole-port <p>  Also run the egress blackhole on this port
      --watch               Reload the archive when the file changes
      --debug               Verbose logging

Dump options:
  -o, --output <dir>        Output directory (required)
`)
}
