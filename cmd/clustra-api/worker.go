package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Nxdus/clustra-project/internal/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone transcoding worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		teardown := initLogger(cfg)
		defer teardown()

		zap.S().Info("Starting transcoding worker")
		defer zap.S().Info("Transcoding worker stopped")

		p, err := newPipeline(cfg)
		if err != nil {
			zap.S().Fatalw("initializing pipeline", "error", err)
		}
		defer p.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		return p.worker.Run(ctx)
	},
}
