// Command jsonrel-mcp serves the jsonrel tools over MCP stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"jsonrel/internal/config"
	"jsonrel/internal/fetch"
	"jsonrel/internal/logging"
	"jsonrel/internal/mcpserver"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// stdout carries the protocol; logs go to stderr.
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	s := mcpserver.NewServer("jsonrel", version, &mcpserver.Deps{
		Fetcher:  fetch.New(cfg.Fetch, cfg.Metrics.Job, logger),
		Logger:   logger,
		MaxDepth: cfg.Project.MaxDepth,
	})
	logger.Info("serving MCP over stdio", zap.String("version", version))
	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp server stopped", zap.Error(err))
		os.Exit(1)
	}
}
