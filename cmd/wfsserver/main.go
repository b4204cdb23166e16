package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mvonw/WFSFeatureServer/internal/config"
	"github.com/mvonw/WFSFeatureServer/internal/logger"
	"github.com/mvonw/WFSFeatureServer/internal/observability"
	"github.com/mvonw/WFSFeatureServer/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	dbFlag := flag.String("db", "", "sqlite database path (overrides DB_PATH)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}
	if *dbFlag != "" {
		cfg.DBPath = strings.TrimSpace(*dbFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "wfsserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting wfsserver",
		"addr", cfg.Addr,
		"version", Version,
		"db", cfg.DBPath,
		"metrics", cfg.MetricsEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
