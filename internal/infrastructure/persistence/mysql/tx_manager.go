package mysql

import (
	"context"

	"gorm.io/gorm"

	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// txKey context中保存事务状态的键（使用私有类型避免与其他包冲突）
type txKey struct{}

// txState 一次最外层事务的状态
type txState struct {
	tx          *gorm.DB
	afterCommit []func(ctx context.Context)
}

// TxManager 事务管理器
// 1. 通过context传递事务DB，Repository用getDB取出
// 2. 嵌套调用Transaction时加入外层事务，由最外层决定提交或回滚
// 3. AfterCommit注册的回调只在最外层提交成功后执行（刷新缓存、发事件）
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// Transaction 执行事务
// fn返回error时ROLLBACK，返回nil时COMMIT
//
// 使用示例：
//
//	err := txManager.Transaction(ctx, func(ctx context.Context) error {
//	    pool, err := slotRepo.LockPool(ctx, restaurantID)
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	    txManager.AfterCommit(ctx, func(ctx context.Context) { cache.Invalidate(ctx, restaurantID) })
//	    return nil
//	})
func (m *TxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	state := &txState{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state.tx = tx
		return fn(context.WithValue(ctx, txKey{}, state))
	})
	if err != nil {
		// 提交阶段的死锁/锁超时同样属于可重试的锁冲突
		if !apperrors.IsAppError(err) && isLockContention(err) {
			return apperrors.ErrTransientContention.WithCause(err)
		}
		return err
	}

	// 回调不受请求取消影响（事务已提交，缓存必须失效）
	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range state.afterCommit {
		hook(hookCtx)
	}
	return nil
}

// AfterCommit 注册提交后回调；不在事务中时立即执行
func (m *TxManager) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn(ctx)
}

// InTransaction 当前context是否处于事务中
func (m *TxManager) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// dbFromContext 从context获取事务DB，如果没有则使用默认DB
func dbFromContext(ctx context.Context, db *gorm.DB) *gorm.DB {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return db.WithContext(ctx)
}
