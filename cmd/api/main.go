package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/xiebiao/displayno/docs"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/pkg/logger"
	"github.com/xiebiao/displayno/pkg/tracing"
)

// @title           取餐号分配服务 API
// @version         1.0
// @description     餐厅内短取餐号（1-9999）的分配、释放、冷却与查询
// @host            localhost:8080
// @BasePath        /

// main 主程序入口
//
// 启动流程：
//  1. 加载配置、初始化日志与链路追踪
//  2. Wire组装依赖（数据库 → 仓储 → 服务 → Handler）
//  3. 启动HTTP、gRPC、号码清理任务
//  4. 收到SIGINT/SIGTERM后优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zapLog, err := logger.New(logger.Options{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		Output:       cfg.Log.Output,
		EnableCaller: cfg.Log.EnableCaller,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()
	// response.Error等包级函数通过zap.L()记录日志
	zap.ReplaceGlobals(zapLog)

	tracingOpts := tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		tracingOpts.Endpoint = cfg.Tracing.Endpoint
	}
	shutdownTracer, err := tracing.InitTracer(tracingOpts)
	if err != nil {
		zapLog.Fatal("初始化链路追踪失败", zap.Error(err))
	}

	zapLog.Info("配置加载成功",
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("mode", cfg.Server.Mode),
		zap.Duration("cooldown_window", cfg.Slot.CooldownWindow),
		zap.Int("max_display_number", cfg.Slot.MaxDisplayNumber),
	)

	app, cleanup, err := InitializeApp(cfg, zapLog)
	if err != nil {
		zapLog.Fatal("初始化应用失败", zap.Error(err))
	}
	defer cleanup()

	if err := app.Start(); err != nil {
		zapLog.Fatal("启动服务失败", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLog.Info("收到关闭信号，开始优雅关闭", zap.String("signal", sig.String()))

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		zapLog.Error("关闭HTTP服务失败", zap.Error(err))
	}
	if err := shutdownTracer(ctx); err != nil {
		zapLog.Warn("关闭链路追踪失败", zap.Error(err))
	}
	zapLog.Info("服务已安全关闭")
}
