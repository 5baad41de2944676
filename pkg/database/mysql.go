package database

import (
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/internal/model"
	"estate-assist-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移会话相关的表
func InitMySQL(cfg config.MySQLConfig) {
	var err error
	DB, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		// 唯一键冲突翻译成 gorm.ErrDuplicatedKey，消息去重依赖它
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate conversation tables", err)
	}
	log.Info("MySQL database connected successfully")
}

// Migrate 创建或更新会话存储使用的表和索引。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.ConversationRecord{}, &model.MessageRecord{})
}

// CloseMySQL 关闭底层连接池。
func CloseMySQL() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
