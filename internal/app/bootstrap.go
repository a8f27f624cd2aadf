package app

import (
	"errors"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/provider"
	"github.com/affdash/internal/router"
	"github.com/affdash/internal/worker"
)

// BuildRunner 构建服务运行器，容器随运行器一起关闭
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeWorker && !cfg.Queue.Enabled {
		return nil, errors.New("worker mode requires queue.enabled")
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, err
	}
	services, err := buildServices(cfg, mode, container)
	if err != nil {
		_ = container.Close()
		return nil, err
	}
	return NewRunner(services...).Own(container), nil
}

func buildServices(cfg *config.Config, mode string, container *provider.Container) ([]Service, error) {
	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(listenAddr(cfg), engine))
	}

	// 初始化 Worker 服务
	// 队列未启用时抓取任务在 API 进程内执行，无需独立 worker
	if (mode == ModeAll || mode == ModeWorker) && cfg.Queue.Enabled {
		consumer := worker.NewConsumer(container)
		workerService, err := worker.NewService(&cfg.Queue, consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)
	} else if mode == ModeAll {
		logger.Infow("app_worker_in_process", "reason", "queue_disabled")
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}
	return services, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start", "addr", listenAddr(opts.Config), "mode", opts.Mode, "queue_enabled", opts.Config.Queue.Enabled)
	return RunWithOptions(runner, opts)
}
