package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/config"
	"github.com/harbinger-dev/harbinger/internal/dump"
	"github.com/harbinger-dev/harbinger/internal/har"
	"github.com/harbinger-dev/harbinger/internal/logging"
)

// runDumpCommand exports a capture's recorded bodies to a directory tree.
func runDumpCommand(args []string) {
	var (
		harPath    string
		outputPath string
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-o", "--output":
			outputPath = flagValue(args, &i, "--output")
		default:
			if len(args[i]) > 0 && args[i][0] == '-' {
				fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
				os.Exit(1)
			}
			if harPath != "" {
				fmt.Fprintln(os.Stderr, "Error: multiple capture paths given")
				os.Exit(1)
			}
			harPath = args[i]
			i++
		}
	}
	if harPath == "" || outputPath == "" {
		fmt.Fprintln(os.Stderr, "Error: dump requires a capture path and --output")
		os.Exit(1)
	}

	logging.Setup(config.Default().Log)

	a, err := har.Read(harPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", harPath).Msg("failed to read capture")
	}
	if err := dump.Dump(a, outputPath); err != nil {
		log.Fatal().Err(err).Msg("dump failed")
	}
	fmt.Printf("Dumped capture to %s\n", outputPath)
}
