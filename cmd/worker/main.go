package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/quill/internal/app"
	"github.com/OFFIS-RIT/quill/internal/queue"
	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	rt, err := app.New(ctx, app.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Failed to initialise runtime", "err", err)
	}
	defer rt.Close()

	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	worker := queue.NewWorker(rt.Registry, rt.AI)
	if err := worker.Run(ctx, conn); err != nil {
		logger.Error("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
