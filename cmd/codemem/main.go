package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/codemem/codemem/internal/mcp"
	"github.com/codemem/codemem/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("codemem MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", store.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", store.DriverName)
		fmt.Printf("Vector Extension: %v\n", store.VectorExtensionAvailable)
		os.Exit(0)
	}

	// Log to stderr, stdout is reserved for the MCP protocol
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	if os.Getenv("CODEMEM_LOG_LEVEL") == "debug" {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	log.Info().Str("version", version).Str("build_mode", store.BuildMode).
		Bool("vector_extension", store.VectorExtensionAvailable).
		Msg("codemem starting")

	dbPath := os.Getenv("CODEMEM_DB_PATH")
	if dbPath == "" {
		dbPath = mcp.DefaultDBPath
	}

	srv, err := mcp.NewServer(dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info().Msg("listening on stdio")
		errChan <- srv.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}

	log.Info().Msg("server stopped")
}
