package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/application/sweeper"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	grpchandler "github.com/xiebiao/displayno/internal/interface/grpc/handler"
)

// App 进程内的三个长期运行组件：HTTP服务、gRPC服务、号码清理任务
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	http    *http.Server
	grpc    *grpchandler.Server
	sweeper *sweeper.Sweeper

	cancelSweeper context.CancelFunc
	wg            sync.WaitGroup
}

func newApp(
	cfg *config.Config,
	log *zap.Logger,
	engine *gin.Engine,
	grpcServer *grpchandler.Server,
	sw *sweeper.Sweeper,
) *App {
	return &App{
		cfg: cfg,
		log: log,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		grpc:    grpcServer,
		sweeper: sw,
	}
}

// Start 启动所有组件，任一端口监听失败立即返回
func (a *App) Start() error {
	grpcAddr := fmt.Sprintf(":%d", a.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("监听gRPC端口失败: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("gRPC服务启动", zap.String("addr", grpcAddr))
		if err := a.grpc.Serve(lis); err != nil {
			a.log.Error("gRPC服务异常退出", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("HTTP服务启动", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelSweeper = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweeper.Run(ctx)
	}()

	return nil
}

// Shutdown 优雅关闭
//  1. 停止清理任务（正在执行的一轮跟随ctx取消回滚）
//  2. HTTP停止接收新请求，等待进行中的请求完成
//  3. gRPC先摘流量再等待进行中的请求
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancelSweeper != nil {
		a.cancelSweeper()
	}

	err := a.http.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		a.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpc.Stop()
	}

	a.wg.Wait()
	return err
}
