package migration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDatabase(t *testing.T) {
	db, dbPath := openTestDB(t)

	// 打开时创建了跟踪表
	assert.FileExists(t, dbPath)
	assert.True(t, tableExists(t, db, "migrations"))
	assert.True(t, tableExists(t, db, "meta"))

	// 重复打开同一文件是安全的
	again, err := OpenDatabase(dbPath, 5000)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenDatabase_CreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "subedit.db")
	db, err := OpenDatabase(dbPath, 5000)
	require.NoError(t, err)
	defer db.Close()
	assert.FileExists(t, dbPath)
}

func TestMeta(t *testing.T) {
	db, _ := openTestDB(t)

	// 不存在的键返回空值而不是错误
	v, err := GetMeta(db, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetMeta(db, "app_version", "1.2.3"))
	v, err = GetMeta(db, "app_version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	// 覆盖写入
	require.NoError(t, SetMeta(db, "app_version", "1.3.0"))
	v, err = GetMeta(db, "app_version")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", v)
}
