package migration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subedit.db")

	lm := NewLockManager(dbPath)

	// 初始状态不锁定
	assert.False(t, lm.IsLocked())

	// 获取锁
	lockInfo := NewLockInfo(dbPath, dbPath+".backup", DirectionUp)
	require.NoError(t, lm.Acquire(lockInfo))

	// 验证已锁定
	assert.True(t, lm.IsLocked())

	// 读取锁信息
	info, err := lm.GetLockInfo()
	require.NoError(t, err)
	assert.Equal(t, dbPath, info.DBPath)
	assert.Equal(t, dbPath+".backup", info.BackupPath)
	assert.Equal(t, DirectionUp, info.Direction)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.OperationID)
	assert.NotEmpty(t, info.StartTime)

	// 尝试再次获取锁应失败
	err = lm.Acquire(lockInfo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	// 释放锁
	require.NoError(t, lm.Release())
	assert.False(t, lm.IsLocked())

	// 重复释放是空操作
	require.NoError(t, lm.Release())
}

func TestLockManager_CorruptLockFile(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subedit.db")

	lm := NewLockManager(dbPath)
	require.NoError(t, os.WriteFile(lm.GetLockPath(), []byte("not json"), 0644))

	assert.True(t, lm.IsLocked())
	_, err := lm.GetLockInfo()
	assert.Error(t, err)

	// 损坏的锁文件同样阻止获取新锁
	err = lm.Acquire(NewLockInfo(dbPath, "", DirectionUp))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}
