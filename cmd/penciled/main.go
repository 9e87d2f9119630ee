package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/mcp"
	"github.com/penciled/penciled/internal/ops"
	"github.com/penciled/penciled/internal/pipeline"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/stage"
	"github.com/penciled/penciled/internal/sync"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"submit": true, "sessions": true, "events": true, "sync": true,
	"batch-edit": true, "migrate": true, "export": true,
	"inventory": true, "serve": true, "admin": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
                     _ _        _
  _ __  ___ _ _  __(_) |___ __| |
 | '_ \/ -_) ' \/ _| | / -_) _' |
 | .__/\___|_||_\__|_|_\___\__,_|
 |_|

  Unstructured input, penciled into your calendar

  Usage: penciled <command> [options]
         penciled --help

  MCP server mode requires piped input.`)
}

// buildDeps assembles the shared dependency set: store, config, progress
// broker, calendar registry, sync engine, and the extraction pipeline.
func buildDeps(baseDir string) (ops.Deps, func(), error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return ops.Deps{}, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	cleanup := func() { database.Close() }

	cfg, err := config.Load(baseDir)
	if err != nil {
		cleanup()
		return ops.Deps{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db.ConfigurePool(database, cfg)

	registry, err := calendar.LoadRegistry(cfg.RegistryPath(baseDir))
	if err != nil {
		cleanup()
		return ops.Deps{}, nil, fmt.Errorf("failed to load calendar registry: %w", err)
	}

	broker := progress.NewBroker(cfg.StreamBuffer, progress.DefaultMaxLogs)
	gateway := stage.NewGateway(cfg)

	pipe := &pipeline.Pipeline{
		DB:      database,
		Broker:  broker,
		Stages:  gateway,
		Fetcher: stage.NewHTTPFetcher(cfg),
		Config:  cfg,
	}
	if cfg.DeepgramAPIKey != "" {
		pipe.Transcriber = stage.NewDeepgramTranscriber(cfg)
	}

	return ops.Deps{
		DB:       database,
		Config:   cfg,
		Broker:   broker,
		Registry: registry,
		Engine:   &sync.Engine{DB: database, Registry: registry, Config: cfg},
		Planner:  gateway,
		Pipeline: pipe,
	}, cleanup, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before touching the store (no deps needed)
	if isHelpOrVersion() {
		app := newCLIApp(ops.Deps{})
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".penciled")

	deps, cleanup, err := buildDeps(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(deps)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'penciled --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(deps, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
