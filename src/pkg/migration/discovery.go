package migration

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Discovery 迁移文件目录探测器
//
// 同一个二进制可能从源码目录、打包安装目录或任意工作目录启动，
// 因此按候选目录列表顺序探测，选中第一个存在且包含迁移文件的目录。
// 全部落空时回退到最后一个候选（确保其存在），避免把"还没有迁移文件"
// 当成致命错误。
type Discovery struct {
	candidates []string
	logger     *logrus.Entry
}

// NewDiscovery 创建目录探测器
// candidates 为显式候选目录列表，按优先级排列，不能为空
func NewDiscovery(candidates []string) (*Discovery, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate directories configured", ErrNoMigrationsDir)
	}
	return &Discovery{
		candidates: candidates,
		logger:     logrus.WithField("component", "migration_discovery"),
	}, nil
}

// DefaultCandidates 返回默认候选目录列表：
// 源码树目录 → 可执行文件旁（打包安装）→ 用户数据目录兜底
func DefaultCandidates(dataDir string) []string {
	candidates := []string{
		filepath.Join(".", "migrations"),
	}
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), "migrations"))
	}
	return append(candidates, filepath.Join(dataDir, "migrations"))
}

// ResolveMigrationsDir 解析迁移文件目录
// 返回第一个存在且包含至少一个迁移文件（识别扩展名）的候选目录；
// 若全部不满足，则创建并使用最后一个候选目录
func (d *Discovery) ResolveMigrationsDir() (string, error) {
	for _, dir := range d.candidates {
		if containsMigrationFiles(dir) {
			d.logger.WithField("dir", dir).Debug("resolved migrations directory")
			return dir, nil
		}
	}

	// 兜底：使用最后一个候选并确保其存在
	fallback := d.candidates[len(d.candidates)-1]
	if err := os.MkdirAll(fallback, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create fallback directory %s: %v",
			ErrNoMigrationsDir, fallback, err)
	}
	d.logger.WithField("dir", fallback).Warn("no populated migrations directory found, using fallback")
	return fallback, nil
}

// containsMigrationFiles 检查目录是否存在且包含至少一个迁移扩展名的文件
func containsMigrationFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if migrationExtensions[filepath.Ext(entry.Name())] {
			return true
		}
	}
	return false
}

// listMigrationFiles 列出目录下所有识别扩展名的文件名（未排序）
func listMigrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if migrationExtensions[filepath.Ext(entry.Name())] {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
