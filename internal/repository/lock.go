package repository

import (
	"fmt"

	"gorm.io/gorm"
)

// WithPairLock 在 (student, scope) 命名锁内执行事务，锁一直持有到提交之后。
// GET_LOCK 绑定会话，这里固定单条连接，保证加锁、事务、释放都在同一会话上。
// 仅在 MySQL 上加锁，其他方言（测试用 sqlite）直接走普通事务。
func WithPairLock(db *gorm.DB, studentID, scopeID uint, fn func(tx *gorm.DB) error) error {
	if db.Dialector.Name() != "mysql" {
		return db.Transaction(fn)
	}
	return db.Connection(func(conn *gorm.DB) error {
		name := lockName(studentID, scopeID)
		var got int
		if err := conn.Raw("SELECT GET_LOCK(?, 5)", name).Scan(&got).Error; err != nil {
			return err
		}
		if got != 1 {
			return fmt.Errorf("failed to acquire lock %s", name)
		}
		defer conn.Exec("SELECT RELEASE_LOCK(?)", name)
		return conn.Transaction(fn)
	})
}

func lockName(studentID, scopeID uint) string {
	return fmt.Sprintf("edulearn:pair:%d:%d", studentID, scopeID)
}
