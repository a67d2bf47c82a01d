package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"OpenMCP-EVM/internal/api"
	"OpenMCP-EVM/internal/task"
	"OpenMCP-EVM/pkg/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 API 服务与消息处理器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := setup(opts.configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := newStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	queue, err := newQueue(ctx, cfg.TaskQueue)
	if err != nil {
		_ = store.Close()
		return err
	}
	svc := task.NewService(store, queue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.L().Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := task.NewProcessor(a.agent, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(newAlerter(cfg.Alerting)),
		task.WithObserver(func(status task.Status, code string) {
			a.metrics.ObserveTask(string(status), code)
		}),
		task.WithProcessorLogger(logger.Named("task")),
	)
	server := api.NewServer(cfg.Server.Address, svc,
		api.WithActions(a.agent),
		api.WithPlugins(a.plugins),
		api.WithMetrics(a.metrics),
	)

	logger.L().Info("openmcp-evm 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Storage.TaskStore.Driver),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Int("workers", cfg.TaskQueue.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if addr := cfg.Server.MetricsAddress; addr != "" {
		g.Go(func() error { return a.metrics.StartServer(gctx, addr) })
	}
	return g.Wait()
}
