package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/compresr/capture-gateway/internal/config"
)

// parseConfig builds the configuration: defaults, then the optional YAML
// file, then any flags that were set explicitly.
func parseConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := pflag.NewFlagSet("capture-gateway", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: capture-gateway [flags]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Records Anthropic API traffic to JSON transcripts.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	var (
		port         = fs.IntP("port", "p", config.DefaultPort, "Port to run the server on")
		logDir       = fs.StringP("log-dir", "l", config.DefaultLogDir, "Directory to save log files")
		maxLogs      = fs.IntP("max-logs-per-session", "m", config.DefaultMaxLogsPerSession, "Maximum number of logs to keep per session")
		modifyPrompt = fs.Bool("modify-prompt", false, "Enable prompt modification for CLAUDE.md instructions")
		configPath   = fs.StringP("config", "c", "", "Optional YAML config file")
		upstream     = fs.String("upstream", config.DefaultUpstreamURL, "Upstream API base URL")
		debug        = fs.BoolP("debug", "d", false, "Enable debug logging")
		logFormat    = fs.String("log-format", config.DefaultLogFormat, "Process log format: auto, console or json")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if fs.Changed("port") {
		cfg.Server.Port = *port
	}
	if fs.Changed("log-dir") {
		cfg.Logs.Dir = *logDir
	}
	if fs.Changed("max-logs-per-session") {
		cfg.Logs.MaxPerSession = *maxLogs
	}
	if fs.Changed("modify-prompt") {
		cfg.Rewrite.Enabled = *modifyPrompt
	}
	if fs.Changed("upstream") {
		cfg.Upstream.BaseURL = *upstream
	}
	if fs.Changed("log-format") {
		cfg.Monitoring.LogFormat = *logFormat
	}
	if *debug {
		cfg.Monitoring.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
