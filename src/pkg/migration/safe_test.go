package migration

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeFixture struct {
	db      *sql.DB
	dbPath  string
	dir     string
	backups *BackupManager
	lock    *LockManager
	safe    *SafeManager
}

// newSafeFixture 组装一套完整的受保护迁移环境
func newSafeFixture(t *testing.T) *safeFixture {
	t.Helper()
	db, dbPath := openTestDB(t)
	dir := t.TempDir()

	loader := NewLoader()
	runner, err := NewRunner(db, dir, loader)
	require.NoError(t, err)

	backups := NewBackupManager(dbPath, filepath.Join(filepath.Dir(dbPath), "backups"))
	lock := NewLockManager(dbPath)
	safe, err := NewSafeManager(NewValidator(dir, loader), runner, backups, lock)
	require.NoError(t, err)

	return &safeFixture{
		db:      db,
		dbPath:  dbPath,
		dir:     dir,
		backups: backups,
		lock:    lock,
		safe:    safe,
	}
}

func TestNewSafeManager_RequiresAllDeps(t *testing.T) {
	f := newSafeFixture(t)
	runner, err := NewRunner(f.db, f.dir, nil)
	require.NoError(t, err)

	_, err = NewSafeManager(nil, runner, f.backups, f.lock)
	assert.Error(t, err)
	_, err = NewSafeManager(NewValidator(f.dir, nil), nil, f.backups, f.lock)
	assert.Error(t, err)
}

func TestSafeManager_SafeUpgrade(t *testing.T) {
	f := newSafeFixture(t)
	writeSQLMigration(t, f.dir, "20240101000001_create_projects.sql",
		"CREATE TABLE projects (id INTEGER PRIMARY KEY);", "DROP TABLE projects;")

	result := f.safe.SafeUpgrade()
	require.True(t, result.Success, "unexpected error: %s", result.Error)
	require.NotNil(t, result.Result)
	assert.Equal(t, 1, result.Result.Applied())

	// 升级前创建了备份，结束后锁已释放
	assert.NotEmpty(t, result.BackupPath)
	assert.FileExists(t, result.BackupPath)
	assert.False(t, f.lock.IsLocked())
	assert.True(t, tableExists(t, f.db, "projects"))
}

func TestSafeManager_SafeUpgrade_ValidationBlocks(t *testing.T) {
	f := newSafeFixture(t)
	// 命名不合法的文件让校验失败
	require.NoError(t, os.WriteFile(
		filepath.Join(f.dir, "bad_name.sql"), []byte("-- +up\nSELECT 1;\n"), 0644))

	result := f.safe.SafeUpgrade()
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "validation failed")

	// 校验失败时在创建备份之前就中止
	assert.Empty(t, f.backups.ListBackups())
	assert.Equal(t, 0, countRecords(t, f.db))
}

func TestSafeManager_SafeUpgrade_MigrationFailure(t *testing.T) {
	f := newSafeFixture(t)
	writeSQLMigration(t, f.dir, "20240101000001_broken.sql",
		"THIS IS NOT VALID SQL;", "SELECT 1;")

	var alerted bool
	f.safe.SetNotifier(func(subject, body string) { alerted = true })

	result := f.safe.SafeUpgrade()
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	require.NotNil(t, result.Result)
	assert.Equal(t, 0, result.Result.Applied())

	// 失败路径：备份仍然存在可供恢复，锁已释放，告警已触发
	assert.NotEmpty(t, result.BackupPath)
	assert.False(t, f.lock.IsLocked())
	assert.True(t, alerted)
}

func TestSafeManager_SafeDowngrade(t *testing.T) {
	f := newSafeFixture(t)
	writeSQLMigration(t, f.dir, "20240101000001_create_projects.sql",
		"CREATE TABLE projects (id INTEGER PRIMARY KEY);", "DROP TABLE projects;")
	require.True(t, f.safe.SafeUpgrade().Success)

	result := f.safe.SafeDowngrade("")
	require.True(t, result.Success, "unexpected error: %s", result.Error)
	assert.Equal(t, 1, result.Result.Applied())
	assert.Equal(t, 0, countRecords(t, f.db))
	assert.False(t, tableExists(t, f.db, "projects"))
}

func TestSafeManager_LockedByAnotherOperation(t *testing.T) {
	f := newSafeFixture(t)
	writeSQLMigration(t, f.dir, "20240101000001_create_projects.sql",
		"CREATE TABLE projects (id INTEGER PRIMARY KEY);", "DROP TABLE projects;")

	// 模拟另一个进程持有锁
	require.NoError(t, f.lock.Acquire(NewLockInfo(f.dbPath, "", DirectionUp)))

	result := f.safe.SafeUpgrade()
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "locked")
	assert.Equal(t, 0, countRecords(t, f.db))

	// 别人的锁不能被这次失败的操作释放
	assert.True(t, f.lock.IsLocked())
}

func TestSafeManager_EmergencyRollback_NoBackups(t *testing.T) {
	f := newSafeFixture(t)
	before, err := os.ReadFile(f.dbPath)
	require.NoError(t, err)

	result := f.safe.EmergencyRollback()
	assert.False(t, result.Success)
	assert.Equal(t, "no backups available", result.Error)

	// 无备份时不做任何修改
	after, err := os.ReadFile(f.dbPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSafeManager_EmergencyRollback(t *testing.T) {
	f := newSafeFixture(t)
	require.NoError(t, os.MkdirAll(f.backups.backupDir, 0755))
	backupPath := filepath.Join(f.backups.backupDir, "backup_2026-01-01T00-00-01.000Z.db")
	require.NoError(t, os.WriteFile(backupPath, []byte("known good state"), 0644))

	var alerted bool
	f.safe.SetNotifier(func(subject, body string) { alerted = true })

	result := f.safe.EmergencyRollback()
	require.True(t, result.Success, "unexpected error: %s", result.Error)
	assert.Equal(t, backupPath, result.BackupPath)
	assert.True(t, alerted)

	content, err := os.ReadFile(f.dbPath)
	require.NoError(t, err)
	assert.Equal(t, "known good state", string(content))
}

func TestSafeManager_CheckAndRecover(t *testing.T) {
	f := newSafeFixture(t)
	require.NoError(t, os.MkdirAll(f.backups.backupDir, 0755))
	backupPath := filepath.Join(f.backups.backupDir, "backup_2026-01-01T00-00-01.000Z.db")
	require.NoError(t, os.WriteFile(backupPath, []byte("pre-crash state"), 0644))

	// 模拟迁移中途崩溃：锁文件残留，数据库内容可疑
	require.NoError(t, f.lock.Acquire(NewLockInfo(f.dbPath, backupPath, DirectionUp)))
	require.NoError(t, os.WriteFile(f.dbPath, []byte("corrupted"), 0644))

	recovered, err := f.safe.CheckAndRecover()
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.False(t, f.lock.IsLocked())

	content, err := os.ReadFile(f.dbPath)
	require.NoError(t, err)
	assert.Equal(t, "pre-crash state", string(content))
}

func TestSafeManager_CheckAndRecover_NotLocked(t *testing.T) {
	f := newSafeFixture(t)
	recovered, err := f.safe.CheckAndRecover()
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestSafeManager_GetDetailedStatus(t *testing.T) {
	f := newSafeFixture(t)
	writeSQLMigration(t, f.dir, "20240101000001_create_projects.sql",
		"CREATE TABLE projects (id INTEGER PRIMARY KEY);", "DROP TABLE projects;")
	require.True(t, f.safe.SafeUpgrade().Success)

	status, err := f.safe.GetDetailedStatus()
	require.NoError(t, err)
	assert.Len(t, status.Migrations.Executed, 1)
	assert.Empty(t, status.Migrations.Pending)
	assert.Equal(t, 1, status.BackupCount)
	assert.NotEmpty(t, status.LatestBackup)
	require.NotNil(t, status.LatestManifest)
	assert.Equal(t, "pre-upgrade", status.LatestManifest.Label)
	assert.False(t, status.Locked)
}
