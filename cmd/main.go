// Command capture-gateway is a local recording proxy for the Anthropic API.
//
// Point the CLI at it with ANTHROPIC_BASE_URL and every request/response pair
// is forwarded upstream and saved as a JSON transcript, grouped by user and
// session. Transcripts can be browsed at /viewer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/gateway"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	loadEnvFiles()

	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	monitoring.SetupLogging(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat, stderr)

	opts := []gateway.Option{}
	if assets, err := getViewerFS(); err == nil {
		opts = append(opts, gateway.WithAssets(assets))
	} else {
		log.Warn().Err(err).Msg("viewer assets unavailable, serving fallback page")
	}

	gw, err := gateway.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	gwErrCh := make(chan error, 1)
	go func() {
		gwErrCh <- gw.Start()
	}()

	ready := waitForGateway(cfg.Server.Port, 5*time.Second)
	select {
	case err := <-gwErrCh:
		log.Error().Err(err).Msg("gateway failed to start")
		return 1
	default:
	}
	printBanner(stdout, cfg)
	if !ready {
		log.Warn().Msg("gateway is not reporting healthy, check /viewer/health")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-gwErrCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway stopped")
			return 1
		}
		return 0
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return 1
	}
	return 0
}

// loadEnvFiles loads .env from the working directory, if present.
// Variables already in the environment win.
func loadEnvFiles() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
}

func printBanner(w io.Writer, cfg *config.Config) {
	logDir := cfg.Logs.Dir
	if abs, err := filepath.Abs(logDir); err == nil {
		logDir = abs
	}
	port := cfg.Server.Port

	printHeader(w, "Capture Gateway")
	printSuccess(w, fmt.Sprintf("Listening on port %d", port))
	printInfo(w, "Logging to directory: "+logDir)
	printInfo(w, "Proxying requests to: "+cfg.Upstream.BaseURL)
	if cfg.Rewrite.Enabled {
		printInfo(w, "Prompt modification: enabled")
	}
	printInfo(w, fmt.Sprintf("Log viewer: http://localhost:%d/viewer", port))
	fmt.Fprintln(w)
	printStep(w, "Configure Claude Code with:")
	fmt.Fprintf(w, "export ANTHROPIC_BASE_URL=http://localhost:%d\n", port)
}
