package mysql

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/displayno/internal/infrastructure/config"
)

// NewDB 创建数据库连接
// 设计说明：
// 1. 配置连接池参数（MaxOpenConns、MaxIdleConns、ConnMaxLifetime）
// 2. 开发环境开启SQL日志，生产环境关闭
// 3. 所有时间统一使用UTC，冷却期比较不受服务器时区影响
// 4. 自动迁移表结构（AutoMigrate）
func NewDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}

	// 号码分配的事务很短，连接数按并发请求量配置即可
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}
	log.Info("数据库连接成功", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	// 注意：生产环境应使用版本化的迁移脚本
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return db, nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PoolModel{},
		&SlotModel{},
		&OrderModel{},
	)
}

// PoolModel 餐厅号码池
// 每个餐厅一行，分配号码前先 SELECT ... FOR UPDATE 锁定这一行，
// 同一餐厅的选号因此严格串行；不同餐厅锁的是不同的行，互不阻塞
type PoolModel struct {
	RestaurantID string    `gorm:"primaryKey;autoIncrement:false;size:64;comment:餐厅ID"`
	Provisioned  int       `gorm:"not null;default:0;comment:已创建的号码数"`
	CreatedAt    time.Time `gorm:"comment:创建时间"`
	UpdatedAt    time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (PoolModel) TableName() string {
	return "slot_pools"
}

// SlotModel 号码
// 1. (restaurant_id, display_number) 唯一
// 2. current_order_ref 唯一：同一订单最多占用一个号码（NULL不参与唯一约束）
// 3. idx_slots_pick 覆盖“按状态找最小号码”的查询
type SlotModel struct {
	ID                uint       `gorm:"primaryKey"`
	RestaurantID      string     `gorm:"size:64;not null;uniqueIndex:uk_slots_restaurant_number,priority:1;index:idx_slots_pick,priority:1;comment:餐厅ID"`
	DisplayNumber     int        `gorm:"not null;uniqueIndex:uk_slots_restaurant_number,priority:2;index:idx_slots_pick,priority:3;check:chk_slots_display_number,display_number BETWEEN 1 AND 9999;comment:取餐号"`
	Status            int        `gorm:"type:tinyint;not null;default:1;index:idx_slots_pick,priority:2;comment:状态(1可分配2已分配3冷却中)"`
	CurrentOrderRef   *string    `gorm:"size:36;uniqueIndex:uk_slots_current_order;comment:当前订单内部ID"`
	AllocatedAt       *time.Time `gorm:"index;comment:最近分配时间"`
	CooldownExpiresAt *time.Time `gorm:"comment:冷却结束时间"`
	CreatedAt         time.Time  `gorm:"comment:创建时间"`
	UpdatedAt         time.Time  `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (SlotModel) TableName() string {
	return "slots"
}

// OrderModel 订单（本服务只保存与取餐号相关的字段）
// 1. internal_order_id 全局唯一
// 2. (restaurant_id, display_order_number) 唯一，释放后置NULL
// 3. last_display_number 保留最近一次号码，历史订单仍可按号码搜索
type OrderModel struct {
	ID                 uint       `gorm:"primaryKey"`
	InternalOrderID    string     `gorm:"uniqueIndex;size:36;not null;comment:内部订单ID"`
	RestaurantID       string     `gorm:"size:64;not null;uniqueIndex:uk_orders_restaurant_display,priority:1;index:idx_orders_restaurant_created,priority:1;comment:餐厅ID"`
	DisplayOrderNumber *int       `gorm:"uniqueIndex:uk_orders_restaurant_display,priority:2;comment:当前取餐号"`
	LastDisplayNumber  *int       `gorm:"comment:最近一次取餐号"`
	Status             int        `gorm:"type:tinyint;not null;default:1;index;comment:订单状态(1待制作2制作中3已出餐4挂起5已完成6已取消)"`
	CompletedAt        *time.Time `gorm:"comment:结束时间"`
	CreatedAt          time.Time  `gorm:"index:idx_orders_restaurant_created,priority:2;comment:创建时间"`
	UpdatedAt          time.Time  `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (OrderModel) TableName() string {
	return "orders"
}
