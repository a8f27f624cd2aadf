package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

// Service API 与抓取 worker 共用的生命周期接口
type Service interface {
	Name() string
	// Start 阻塞运行，ctx 结束后返回 nil
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runner 并行运行 API 与 worker，全部停止后再释放数据库、Redis 等共享资源
type Runner struct {
	services  []Service
	resources []io.Closer
}

// NewRunner 创建服务运行器
func NewRunner(services ...Service) *Runner {
	return &Runner{services: services}
}

// Own 登记在所有服务停止后关闭的资源，按登记的逆序关闭
func (r *Runner) Own(resources ...io.Closer) *Runner {
	r.resources = append(r.resources, resources...)
	return r
}

// RunWithOptions 运行服务并处理系统信号
func RunWithOptions(runner *Runner, opts Options) error {
	if runner == nil {
		return errors.New("runner is nil")
	}
	opts = normalizeOptions(opts)
	ctx := context.Background()
	if len(opts.Signals) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, opts.Signals...)
		defer cancel()
	}
	return runner.Run(ctx, opts.ShutdownTimeout, opts.Logger)
}

// Run 任一服务退出或 ctx 结束即按注册顺序停止全部服务，API 先于 worker
func (r *Runner) Run(ctx context.Context, stopTimeout time.Duration, log *zap.SugaredLogger) error {
	if r == nil || len(r.services) == 0 {
		return errors.New("no services to run")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(r.services))
	for _, svc := range r.services {
		go func(svc Service) {
			errCh <- r.start(ctx, svc, log)
		}(svc)
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}
	cancel()

	if stopTimeout <= 0 {
		stopTimeout = defaultShutdownTimeout
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	for _, svc := range r.services {
		if svc == nil {
			continue
		}
		startedAt := time.Now()
		if err := svc.Stop(stopCtx); err != nil {
			log.Errorw("service_stop_failed", "service", svc.Name(), "error", err)
			continue
		}
		log.Infow("service_stopped", "service", svc.Name(), "elapsed_ms", time.Since(startedAt).Milliseconds())
	}
	for i := len(r.resources) - 1; i >= 0; i-- {
		if r.resources[i] == nil {
			continue
		}
		if err := r.resources[i].Close(); err != nil {
			log.Warnw("resource_close_failed", "error", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (r *Runner) start(ctx context.Context, svc Service, log *zap.SugaredLogger) (err error) {
	if svc == nil {
		return errors.New("service is nil")
	}
	name := svc.Name()
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("service_panic", "service", name, "panic", rec)
			err = fmt.Errorf("service %s panicked: %v", name, rec)
		}
	}()
	log.Infow("service_start", "service", name)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("service %s: %w", name, err)
	}
	log.Infow("service_exit", "service", name)
	return nil
}
