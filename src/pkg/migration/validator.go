package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// Validator 迁移文件静态校验器
// 在任何迁移执行前检查命名约定、up/down 导出、可加载性与时间戳唯一有序。
// 警告不阻塞升级/降级，错误阻塞。
type Validator struct {
	dir    string
	loader *Loader
	logger *logrus.Entry
}

// NewValidator 创建校验器
func NewValidator(dir string, loader *Loader) *Validator {
	if loader == nil {
		loader = NewLoader()
	}
	return &Validator{
		dir:    dir,
		loader: loader,
		logger: logrus.WithField("component", "migration_validator"),
	}
}

// Validate 执行完整校验并返回报告，本函数自身不返回错误
func (v *Validator) Validate() *ValidationReport {
	report := &ValidationReport{
		Errors:     []string{},
		Warnings:   []string{},
		Migrations: []*MigrationFile{},
	}

	// 1. 目录必须存在
	if _, err := os.Stat(v.dir); os.IsNotExist(err) {
		report.addError(fmt.Sprintf("Migrations directory does not exist: %s", v.dir))
		report.Valid = false
		return report
	}

	// 2. 列出识别扩展名的文件，按字典序排序（命名约定下等价于时间戳序）
	names, err := listMigrationFiles(v.dir)
	if err != nil {
		report.addError(fmt.Sprintf("Failed to list migrations directory: %v", err))
		report.Valid = false
		return report
	}
	listingOrder := append([]string(nil), names...)
	sort.Strings(names)

	// 3. 零迁移是合法状态
	if len(names) == 0 {
		report.addWarning("No migration files found")
		report.Valid = true
		return report
	}

	// 4-6. 逐文件检查命名、导出与可加载性
	seen := map[string]string{}
	for _, name := range names {
		timestamp, _, ok := ParseFileName(name)
		if !ok {
			report.addError(fmt.Sprintf("Invalid migration file name format: %s", name))
			continue
		}

		// 7. 时间戳必须全局唯一，否则无法安全排序
		if prev, dup := seen[timestamp]; dup {
			report.addError(fmt.Sprintf("Duplicate migration timestamp %s: %s and %s", timestamp, prev, name))
		} else {
			seen[timestamp] = name
		}

		script, err := v.loader.Load(filepath.Join(v.dir, name))
		if script != nil && script.File != nil {
			report.Migrations = append(report.Migrations, script.File)
		}
		if err != nil {
			// 缺失 up 导出与加载/解析失败都是致命错误
			report.addError(err.Error())
			continue
		}
		if !script.File.HasDown {
			report.addWarning(fmt.Sprintf("Migration %s has no down migration (not reversible)", name))
		}
	}

	// 目录枚举顺序与时间戳顺序不一致，通常意味着有文件被改名或倒填时间戳
	for i := range listingOrder {
		if listingOrder[i] != names[i] {
			report.addWarning("Migration listing order does not match timestamp order")
			break
		}
	}

	report.Valid = len(report.Errors) == 0
	if !report.Valid {
		v.logger.WithFields(logrus.Fields{
			"errors":   len(report.Errors),
			"warnings": len(report.Warnings),
		}).Warn("migration validation failed")
	}
	return report
}
