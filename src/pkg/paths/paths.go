// Package paths 负责计算数据目录、数据库文件与备份目录的位置
// 路径只依赖配置与平台用户数据目录，进程内重复调用结果一致，调用方可以缓存
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subedit-go/subedit-go/src/configs"
)

const (
	// dbFileName 生产环境数据库文件名
	dbFileName = "subedit.db"
	// dbFileNameDev 开发环境数据库文件名，避免污染生产数据
	dbFileNameDev = "subedit-dev.db"
	// backupDirName 备份目录名（位于数据目录下）
	backupDirName = "backups"
	// appDirName 用户数据目录下的应用目录名
	appDirName = "subedit"
)

// DbPaths 数据库相关路径集合，进程内一次计算、各组件共享
type DbPaths struct {
	// DataDir 数据目录
	DataDir string
	// DBFile 数据库文件完整路径
	DBFile string
	// BackupDir 备份目录
	BackupDir string
}

// Resolver 路径解析器
type Resolver struct {
	cfg *configs.Config
}

// NewResolver 创建路径解析器
func NewResolver(cfg *configs.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// GetPaths 计算路径集合
// 纯函数：相同配置下结果确定，不产生任何副作用（目录创建由 EnsureDirs 单独负责）
func (r *Resolver) GetPaths() (*DbPaths, error) {
	dataDir := ""
	if r.cfg != nil && r.cfg.DataDir != "" {
		dataDir = r.cfg.DataDir
	} else {
		root, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine user data root: %w", err)
		}
		dataDir = filepath.Join(root, appDirName)
	}

	fileName := dbFileName
	if r.cfg != nil && r.cfg.IsDevelopment() {
		fileName = dbFileNameDev
	}

	return &DbPaths{
		DataDir:   dataDir,
		DBFile:    filepath.Join(dataDir, fileName),
		BackupDir: filepath.Join(dataDir, backupDirName),
	}, nil
}

// EnsureDirs 创建数据目录与备份目录，首次使用前由调用方显式执行
func EnsureDirs(p *DbPaths) error {
	if p == nil {
		return fmt.Errorf("paths cannot be nil")
	}
	for _, dir := range []string{p.DataDir, p.BackupDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DBFileExt 返回数据库文件的扩展名（含点），备份文件沿用同一扩展名
func (p *DbPaths) DBFileExt() string {
	ext := filepath.Ext(p.DBFile)
	if ext == "" {
		ext = ".db"
	}
	return ext
}

// Describe 返回可读的路径描述，用于日志与诊断输出
func (p *DbPaths) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data_dir=%s db_file=%s backup_dir=%s", p.DataDir, p.DBFile, p.BackupDir)
	return b.String()
}
