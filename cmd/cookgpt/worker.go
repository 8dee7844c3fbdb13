package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/server"
	"github.com/cookgpt/cookgpt/server/runner/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run completions queued by API servers using the redis queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		if instanceProfile.RedisURL == "" {
			return errors.New("the worker needs --redis-url")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			return errors.Wrap(err, "failed to open store")
		}
		defer storeInstance.Close()

		backend, err := server.NewBackend(ctx, instanceProfile, storeInstance)
		if err != nil {
			return err
		}
		defer backend.Close()

		runner := worker.NewRunner(taskqueue.NewRedis(backend.Redis, instanceProfile.JobRetention), backend.Worker, instanceProfile.WorkerConcurrency)
		if err := runner.Run(ctx); err != nil {
			return err
		}
		slog.Info("worker exited")
		return nil
	},
}
