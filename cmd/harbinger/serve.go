package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/archive"
	"github.com/harbinger-dev/harbinger/internal/blackhole"
	"github.com/harbinger-dev/harbinger/internal/config"
	"github.com/harbinger-dev/harbinger/internal/har"
	"github.com/harbinger-dev/harbinger/internal/logging"
	"github.com/harbinger-dev/harbinger/internal/replay"
)

// runServeCommand loads a capture and serves it until interrupted.
func runServeCommand(args []string) {
	var (
		configFlag    string
		harPath       string
		portFlag      string
		dumpPath      string
		namespace     string
		originHost    string
		proxyURL      string
		blackholePort string
		watchFlag     bool
		debugFlag     bool
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			configFlag = flagValue(args, &i, "--config")
		case "-p", "--port":
			portFlag = flagValue(args, &i, "--port")
		case "-d", "--dump-path":
			dumpPath = flagValue(args, &i, "--dump-path")
		case "--namespace":
			namespace = flagValue(args, &i, "--namespace")
		case "--origin-host":
			originHost = flagValue(args, &i, "--origin-host")
		case "--proxy":
			proxyURL = flagValue(args, &i, "--proxy")
		case "--blackhole-port":
			blackholePort = flagValue(args, &i, "--blackhole-port")
		case "--watch":
			watchFlag = true
			i++
		case "--debug":
			debugFlag = true
			i++
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
	if harPath == "" {
		fmt.Fprintln(os.Stderr, "Error: serve requires a capture path")
		os.Exit(1)
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.Replay.HarPath = harPath
	if portFlag != "" {
		port, err := strconv.Atoi(portFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid port %q\n", portFlag)
			os.Exit(1)
		}
		cfg.Server.Port = port
	}
	if dumpPath != "" {
		cfg.Replay.DumpPath = dumpPath
	}
	if namespace != "" {
		cfg.Replay.Namespace = namespace
	}
	if originHost != "" {
		cfg.Replay.OriginHost = originHost
	}
	if proxyURL != "" {
		cfg.Replay.ProxyURL = proxyURL
	}
	if blackholePort != "" {
		port, err := strconv.Atoi(blackholePort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid blackhole port %q\n", blackholePort)
			os.Exit(1)
		}
		cfg.Blackhole.Enabled = true
		cfg.Blackhole.Port = port
	}
	if watchFlag {
		cfg.Replay.Watch = true
	}
	if debugFlag {
		cfg.Log.Level = "debug"
	}

	logging.Setup(cfg.Log)

	if err := cfg.Validate(); err != nil {
		// Includes codec defects: a bad pinned origin host dies here, at
		// installation time, never at request time.
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Replay.DumpPath != "" {
		if _, err := os.Stat(cfg.Replay.DumpPath); err != nil {
			log.Fatal().Str("path", cfg.Replay.DumpPath).Msg("dump path does not exist")
		}
	}

	a, err := har.Read(cfg.Replay.HarPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Replay.HarPath).Msg("failed to read capture")
	}
	capturedOrigin, err := a.OriginHost()
	if err != nil {
		log.Fatal().Err(err).Msg("capture has no usable origin")
	}
	if cfg.Replay.OriginHost == "" && capturedOrigin != "" {
		log.Info().Str("origin", capturedOrigin).Msg("capture primary origin")
	}

	codec, err := cfg.Codec()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rewriting configuration")
	}

	store, err := archive.Open(cfg.Replay.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open archive store")
	}
	defer func() { _ = store.Close() }()

	n, err := store.Load(a)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to index capture")
	}
	log.Info().Int("entries", n).Str("path", cfg.Replay.HarPath).Msg("capture indexed")

	server, err := replay.New(cfg, codec, store, capturedOrigin)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build replay server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() { errCh <- server.Run(ctx) }()

	if cfg.Blackhole.Enabled {
		bh := blackhole.New(cfg.Blackhole.Port)
		go func() { errCh <- bh.Run(ctx) }()
	}
	if cfg.Replay.Watch {
		go func() { errCh <- replay.WatchArchive(ctx, store, cfg.Replay.HarPath) }()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}
}

// flagValue consumes the value of the flag at args[*i], exiting on a missing
// value the way the rest of the CLI does.
func flagValue(args []string, i *int, name string) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "Error: %s requires a value\n", name)
		os.Exit(1)
	}
	v := args[*i+1]
	*i += 2
	return v
}
