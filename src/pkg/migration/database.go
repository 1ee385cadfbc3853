package migration

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenDatabase 打开被管理的 SQLite 数据库并设置优化参数
// busyTimeoutMS 用于容忍备份拷贝等短暂的外部锁竞争，不能替代单写入者假设
func OpenDatabase(dbPath string, busyTimeoutMS int) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 迁移与备份操作全程单连接串行执行
	db.SetMaxOpenConns(1)

	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	_, _ = db.Exec("PRAGMA synchronous=NORMAL")
	if busyTimeoutMS > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS))
	}

	if err := ensureTrackingSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureTrackingSchema 创建迁移跟踪表与元信息表
// migrations 表是“哪些迁移已应用”的持久事实来源，每条已应用迁移一行
func ensureTrackingSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			executed_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER DEFAULT (strftime('%s', 'now'))
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tracking tables: %w", err)
	}
	return nil
}

// 元信息表的预定义键
const (
	// MetaKeyAppVersion 最近一次成功迁移时的应用版本号
	MetaKeyAppVersion = "app_version"
)

// GetMeta 读取元信息键，不存在时返回空字符串
func GetMeta(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta key %s: %w", key, err)
	}
	return value, nil
}

// SetMeta 写入元信息键
func SetMeta(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s', 'now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write meta key %s: %w", key, err)
	}
	return nil
}

// parseExecutedAt 解析跟踪表中的时间戳
func parseExecutedAt(s string) *time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
