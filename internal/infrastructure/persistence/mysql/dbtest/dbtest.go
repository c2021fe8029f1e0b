// Package dbtest 为测试提供内存数据库
//
// 使用纯Go实现的SQLite（不需要CGO，也不需要启动MySQL），表结构与生产一致。
// 只开一个连接：并发的事务会在连接池上排队，行为等价于串行化的行锁。
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
)

// Open 创建一个独立的内存数据库并完成迁移，测试结束自动关闭
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	// 每个测试使用唯一的库名，互不干扰
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, mysql.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
