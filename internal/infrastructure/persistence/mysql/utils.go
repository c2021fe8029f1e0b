package mysql

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// MySQL锁冲突错误码
const (
	errLockWaitTimeout = 1205 // Lock wait timeout exceeded
	errDeadlock        = 1213 // Deadlock found when trying to get lock
	errLockNowait      = 3572 // Statement aborted because lock(s) could not be acquired (NOWAIT)
	errDuplicateEntry  = 1062 // Duplicate entry 'xxx' for key 'yyy'
)

// isDuplicateError 判断是否为唯一索引冲突
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDuplicateEntry
	}
	// 兼容检查：MySQL与SQLite的错误信息
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// isLockContention 判断是否为锁冲突（死锁、锁等待超时）
// 这类错误重试整个事务通常就能成功
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errDeadlock, errLockNowait:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// translateError 把数据库错误转换为AppError
// 锁冲突 → ErrTransientContention（上层据此重试），其他 → Internal
func translateError(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	if isLockContention(err) {
		return apperrors.ErrTransientContention.WithCause(err)
	}
	return apperrors.Wrap(err, message)
}
