//go:build wireinject
// +build wireinject

// Wire依赖注入配置文件
//
// Wire在编译期生成wire_gen.go，零运行时反射。
// 修改Provider后运行 `wire gen ./cmd/api` 重新生成。
//
// 依赖链：
//
//	Config/Logger → DB/Redis/MQ → Repository → Service/UseCase → Handler → App

package main

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/application/lookup"
	apporder "github.com/xiebiao/displayno/internal/application/order"
	"github.com/xiebiao/displayno/internal/application/sweeper"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/events"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/redis"
	grpchandler "github.com/xiebiao/displayno/internal/interface/grpc/handler"
	"github.com/xiebiao/displayno/internal/interface/http/handler"
	"github.com/xiebiao/displayno/internal/interface/http/router"
)

// infrastructureSet 基础设施：数据库、Redis、消息发布
var infrastructureSet = wire.NewSet(
	provideDB,
	redis.NewClient,
	events.NewPublisher,
)

// repositorySet 仓储与事务管理
var repositorySet = wire.NewSet(
	mysql.NewOrderRepository,
	mysql.NewSlotRepository,
	mysql.NewTxManager,
)

// cacheSet Redis适配器（看板缓存、清理主节点锁）
var cacheSet = wire.NewSet(
	redis.NewBoardCache,
	wire.Bind(new(order.BoardCache), new(*redis.BoardCache)),
	redis.NewSweepLock,
	wire.Bind(new(sweeper.Locker), new(*redis.SweepLock)),
)

// applicationSet 应用层服务与用例
var applicationSet = wire.NewSet(
	allocation.NewService,
	lookup.NewService,
	sweeper.NewSweeper,
	apporder.NewCreateOrderUseCase,
	apporder.NewTransitionOrderUseCase,
)

// interfaceSet HTTP与gRPC接口
var interfaceSet = wire.NewSet(
	handler.NewOrderHandler,
	handler.NewAdminHandler,
	router.NewRouter,
	grpchandler.NewDisplayNumberHandler,
	grpchandler.NewServer,
)

// provideDB 创建数据库连接，cleanup时关闭连接池
func provideDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	db, err := mysql.NewDB(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Warn("关闭数据库连接失败", zap.Error(err))
			}
		}
	}
	return db, cleanup, nil
}

// InitializeApp 组装整个应用
// cleanup按创建的逆序释放MQ、Redis、数据库连接
func InitializeApp(cfg *config.Config, log *zap.Logger) (*App, func(), error) {
	wire.Build(
		infrastructureSet,
		repositorySet,
		cacheSet,
		applicationSet,
		interfaceSet,
		newApp,
	)
	return nil, nil, nil
}
