package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	uuid "github.com/satori/go.uuid"
)

const (
	// LockFileExtension 锁文件扩展名
	LockFileExtension = ".migration.lock"
)

// LockInfo 锁文件信息
// 锁文件存在意味着一次受保护的迁移正在进行（或异常中断），
// 其中记录的备份路径是中断恢复的依据
type LockInfo struct {
	// DBPath 正在迁移的数据库路径
	DBPath string `json:"db_path"`
	// BackupPath 操作前创建的备份路径
	BackupPath string `json:"backup_path"`
	// Direction 迁移方向
	Direction Direction `json:"direction"`
	// StartTime 操作开始时间
	StartTime string `json:"start_time"`
	// PID 进程 ID
	PID int `json:"pid"`
	// OperationID 本次受保护操作的唯一标识
	OperationID string `json:"operation_id"`
}

// LockManager 锁管理器，用锁文件防止并发迁移并记录中断现场
type LockManager struct {
	dbPath   string
	lockPath string
}

// NewLockManager 创建锁管理器
func NewLockManager(dbPath string) *LockManager {
	return &LockManager{
		dbPath:   dbPath,
		lockPath: dbPath + LockFileExtension,
	}
}

// GetLockPath 获取锁文件路径
func (m *LockManager) GetLockPath() string {
	return m.lockPath
}

// Acquire 获取锁
func (m *LockManager) Acquire(info *LockInfo) error {
	if m.IsLocked() {
		existingInfo, err := m.GetLockInfo()
		if err != nil {
			return fmt.Errorf("%w: lock file exists but cannot be read: %v", ErrLocked, err)
		}
		return fmt.Errorf("%w: started at %s (PID: %d)",
			ErrLocked, existingInfo.StartTime, existingInfo.PID)
	}

	if err := os.MkdirAll(filepath.Dir(m.lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock file directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := os.WriteFile(m.lockPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Release 释放锁
func (m *LockManager) Release() error {
	if !m.IsLocked() {
		return nil
	}
	if err := os.Remove(m.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked 检查是否被锁定
func (m *LockManager) IsLocked() bool {
	_, err := os.Stat(m.lockPath)
	return err == nil
}

// GetLockInfo 获取锁信息
func (m *LockManager) GetLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(m.lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock info: %w", err)
	}
	return &info, nil
}

// NewLockInfo 创建锁信息
func NewLockInfo(dbPath, backupPath string, direction Direction) *LockInfo {
	return &LockInfo{
		DBPath:      dbPath,
		BackupPath:  backupPath,
		Direction:   direction,
		StartTime:   time.Now().Format(time.RFC3339),
		PID:         os.Getpid(),
		OperationID: uuid.Must(uuid.NewV4()).String(),
	}
}
