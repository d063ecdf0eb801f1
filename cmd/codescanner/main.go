// Package main provides the entry point for the code scanner daemon.
//
// code-scanner continuously watches a Git worktree and re-audits its
// uncommitted changes against a local LLM backend, maintaining a
// living Markdown report of open and resolved findings.
//
// Usage:
//
//	code-scanner <target-dir> [--config PATH] [--commit HASH]
//	code-scanner --version
//	code-scanner --help
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/nightaudit/codescanner/internal/api"
	"github.com/nightaudit/codescanner/internal/config"
	"github.com/nightaudit/codescanner/internal/logger"
	"github.com/nightaudit/codescanner/internal/mcpserver"
	"github.com/nightaudit/codescanner/internal/supervisor"
	"github.com/nightaudit/codescanner/internal/tools"
)

// version is set via -ldflags at build time.
var version = "dev"

const (
	exitOK       = 0
	exitConfig   = 1
	exitFatalRun = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "-v", "--version", "version":
			fmt.Printf("code-scanner version %s\n", version)
			return exitOK
		case "-h", "--help", "help":
			printUsage()
			return exitOK
		case "mcp":
			return runMCP(args[1:])
		}
	}

	fs := flag.NewFlagSet("code-scanner", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to config.toml (defaults to the per-user data directory)")
	commit := fs.String("commit", "", "base commit to diff against instead of HEAD")
	noServer := fs.Bool("no-server", false, "disable the localhost status server")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: target directory is required")
		printUsage()
		return exitConfig
	}
	targetDir := fs.Arg(0)

	sup := supervisor.New(supervisor.Options{
		TargetDir:  targetDir,
		ConfigPath: *cfgPath,
		CommitHash: *commit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !*noServer {
		go serveStatus(sup)
	}

	if err := sup.Run(ctx); err != nil {
		var cfgErr *supervisor.ConfigError
		var fatalErr *supervisor.FatalError
		switch {
		case errors.As(err, &cfgErr):
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			return exitConfig
		case errors.As(err, &fatalErr):
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return exitFatalRun
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFatalRun
		}
	}

	return exitOK
}

// serveStatus starts the read-only status server on localhost. A
// bind failure (e.g. the port already in use by another instance)
// is logged but never fatal to the scan itself.
func serveStatus(sup *supervisor.Supervisor) {
	srv := api.NewServer(sup)
	addr := fmt.Sprintf("127.0.0.1:%d", config.DefaultStatusPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Str("addr", addr).Msg("status server disabled, address unavailable")
		return
	}
	if err := http.Serve(ln, srv.Handler()); err != nil {
		logger.GetLogger().Warn().Err(err).Msg("status server stopped")
	}
}

// runMCP starts a stdio MCP server exposing the AI Tool Executor for
// the target directory named by the first positional argument
// (defaults to the working directory), so an editor can reuse the
// same search/read/symbol tools the scan loop uses.
func runMCP(args []string) int {
	fs := flag.NewFlagSet("code-scanner mcp", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	targetDir := "."
	if fs.NArg() > 0 {
		targetDir = fs.Arg(0)
	}
	abs, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFatalRun
	}
	if targetDir != "." {
		abs = targetDir
	}

	executor := tools.New(abs, "", "")
	srv := mcpserver.New(executor)
	if err := srv.ServeStdio(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %v\n", err)
		return exitFatalRun
	}
	return exitOK
}

func printUsage() {
	fmt.Println(`code-scanner - continuous local-LLM code audit daemon

Usage:
  code-scanner <target-dir> [flags]

Flags:
  --config PATH   config.toml path (default: per-user data directory)
  --commit HASH   diff against this commit instead of HEAD
  --no-server     disable the localhost status server

Commands:
  version         show version information
  help            show this help
  mcp [dir]       start a stdio MCP server exposing the tool executor

Examples:
  code-scanner .
  code-scanner /path/to/repo --config ./code-scanner.toml
  code-scanner mcp .
  curl localhost:8730/status`)
}
