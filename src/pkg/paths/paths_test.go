package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subedit-go/subedit-go/src/configs"
)

func TestResolver_GetPaths_Production(t *testing.T) {
	dataDir := t.TempDir()
	cfg := configs.NewConfig()
	cfg.DataDir = dataDir

	p, err := NewResolver(cfg).GetPaths()
	require.NoError(t, err)
	assert.Equal(t, dataDir, p.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "subedit.db"), p.DBFile)
	assert.Equal(t, filepath.Join(dataDir, "backups"), p.BackupDir)
}

func TestResolver_GetPaths_Development(t *testing.T) {
	dataDir := t.TempDir()
	cfg := configs.NewConfig()
	cfg.Env = configs.EnvDevelopment
	cfg.DataDir = dataDir

	// 开发环境使用独立的数据库文件，避免污染生产数据
	p, err := NewResolver(cfg).GetPaths()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "subedit-dev.db"), p.DBFile)
}

func TestResolver_GetPaths_DefaultDataDir(t *testing.T) {
	p, err := NewResolver(configs.NewConfig()).GetPaths()
	require.NoError(t, err)

	// 未配置时落在平台用户数据目录下的应用目录
	assert.Equal(t, "subedit", filepath.Base(p.DataDir))
	assert.Equal(t, p.DataDir, filepath.Dir(p.DBFile))
}

func TestResolver_GetPaths_Deterministic(t *testing.T) {
	cfg := configs.NewConfig()
	cfg.DataDir = t.TempDir()
	r := NewResolver(cfg)

	first, err := r.GetPaths()
	require.NoError(t, err)
	second, err := r.GetPaths()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureDirs(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := configs.NewConfig()
	cfg.DataDir = dataDir

	p, err := NewResolver(cfg).GetPaths()
	require.NoError(t, err)

	// GetPaths 不创建目录，EnsureDirs 才创建
	assert.NoDirExists(t, dataDir)
	require.NoError(t, EnsureDirs(p))
	assert.DirExists(t, p.DataDir)
	assert.DirExists(t, p.BackupDir)

	assert.Error(t, EnsureDirs(nil))
}

func TestDbPaths_DBFileExt(t *testing.T) {
	p := &DbPaths{DBFile: "/data/subedit.db"}
	assert.Equal(t, ".db", p.DBFileExt())

	p = &DbPaths{DBFile: "/data/subedit"}
	assert.Equal(t, ".db", p.DBFileExt())
}
