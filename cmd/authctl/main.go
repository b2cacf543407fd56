// Command authctl is the operator tool for the auth service: the account
// kill switch, schema migrations, PIN hashing and audit stream tailing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &App{cfg: cfg, out: os.Stdout, errOut: os.Stderr}
	os.Exit(app.Run(ctx, os.Args[1:]))
}
