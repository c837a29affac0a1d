package database

import (
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectSQLite 打开本地 SQLite 数据库 (纯 Go 驱动, 无 CGO)。
// 扩展钱包是单用户进程，历史记录默认落在本地文件。
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法打开 SQLite 数据库: %w", err)
	}

	log.Println("SQLite 打开成功:", path)
	return db, nil
}
