// Package migration 提供内嵌 SQLite 数据库的迁移与备份安全框架
//
// 主要组件：
//
//  1. Discovery：按候选目录列表定位迁移文件目录（源码树 / 打包目录 / 用户数据目录）
//  2. Validator：执行前静态校验迁移文件（命名、up/down 导出、可加载性、时间戳唯一有序）
//  3. Runner：严格按时间戳顺序向前/向后应用迁移，逐条记录结果
//  4. BackupManager：创建/列出/清理/恢复数据库文件级备份
//  5. SafeManager：校验 → 备份 → 迁移 的安全编排，以及紧急回滚
//  6. HealthChecker：聚合只读诊断报告
//
// 迁移文件支持两种格式：
//   - .sql：使用 "-- +up" / "-- +down" 标记分段
//   - .js：通过内置 otto 解释器执行，脚本需定义 up(db) / down(db) 函数
package migration

import (
	"errors"
	"regexp"
	"time"
)

var (
	// ErrMigrationFailed 迁移失败错误
	ErrMigrationFailed = errors.New("migration failed")
	// ErrOutOfOrder 发现比已应用记录更早的待应用迁移，拒绝乱序执行
	ErrOutOfOrder = errors.New("out-of-order migration detected")
	// ErrUnknownTarget 回滚目标不在已应用记录中
	ErrUnknownTarget = errors.New("unknown downgrade target")
	// ErrNoBackups 无备份可用
	ErrNoBackups = errors.New("no backups available")
	// ErrNothingToBackup 数据库文件尚不存在，无内容可备份
	ErrNothingToBackup = errors.New("database file does not exist, nothing to back up")
	// ErrBackupNotFound 指定的备份文件不存在
	ErrBackupNotFound = errors.New("backup file not found")
	// ErrInsufficientSpace 备份目录磁盘空间不足
	ErrInsufficientSpace = errors.New("insufficient disk space for backup")
	// ErrLocked 数据库被另一次迁移锁定
	ErrLocked = errors.New("database is locked by another migration")
	// ErrNoMigrationsDir 未找到可用的迁移文件目录
	ErrNoMigrationsDir = errors.New("no usable migrations directory found")
	// ErrDuplicateTimestamp 迁移时间戳重复
	ErrDuplicateTimestamp = errors.New("duplicate migration timestamp")
)

const (
	// NoMigrationsTarget 回滚到“零迁移”状态的特殊目标名
	NoMigrationsTarget = "NO_MIGRATIONS"
	// TimestampLayout 文件名中 14 位 UTC 时间戳的格式
	TimestampLayout = "20060102150405"
)

// fileNamePattern 迁移文件命名约定：14 位时间戳 + 下划线 + slug + 扩展名
// 文件名承载排序语义，格式不符时无法安全排序，校验视为致命错误
var fileNamePattern = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.(sql|js)$`)

// migrationExtensions 识别的迁移文件扩展名集合
var migrationExtensions = map[string]bool{
	".sql": true,
	".js":  true,
}

// Direction 迁移方向
type Direction string

const (
	// DirectionUp 向前迁移
	DirectionUp Direction = "up"
	// DirectionDown 向后迁移
	DirectionDown Direction = "down"
)

// ResultStatus 单条迁移的执行结果状态
type ResultStatus string

const (
	// StatusSuccess 执行成功
	StatusSuccess ResultStatus = "success"
	// StatusError 执行失败
	StatusError ResultStatus = "error"
	// StatusNotExecuted 因前序失败未执行
	StatusNotExecuted ResultStatus = "not_executed"
)

// MigrationFile 磁盘上的一个迁移文件（按文件名唯一标识，写入后不可变）
type MigrationFile struct {
	// Name 文件名
	Name string `json:"name"`
	// Timestamp 14 位可排序时间戳前缀
	Timestamp string `json:"timestamp"`
	// Slug 清洗过的描述部分
	Slug string `json:"slug"`
	// Path 完整路径
	Path string `json:"path"`
	// HasUp 是否包含向前迁移
	HasUp bool `json:"has_up"`
	// HasDown 是否包含向后迁移
	HasDown bool `json:"has_down"`
	// SyntaxValid 是否可成功加载（SQL 分段解析 / JS 语法与导出检查）
	SyntaxValid bool `json:"syntax_valid"`
}

// MigrationRecord 数据库内迁移跟踪表中的一行，是“哪些迁移已应用”的持久事实来源
type MigrationRecord struct {
	// Name 迁移文件名
	Name string `json:"name"`
	// ExecutedAt 应用时间，nil 表示已知但未应用
	ExecutedAt *time.Time `json:"executed_at"`
}

// MigrationResult 单条迁移在一次运行中的结果（仅本次运行内有效，不持久化）
type MigrationResult struct {
	// MigrationName 迁移文件名
	MigrationName string `json:"migration_name"`
	// Direction 执行方向
	Direction Direction `json:"direction"`
	// Status 执行状态
	Status ResultStatus `json:"status"`
	// Error 失败原因
	Error string `json:"error,omitempty"`
}

// ResultSet 一次迁移运行的全部结果
type ResultSet struct {
	// Direction 本次运行方向
	Direction Direction `json:"direction"`
	// Results 按执行顺序排列的逐条结果
	Results []*MigrationResult `json:"results"`
}

// Applied 返回本次运行中成功应用的迁移数量
func (s *ResultSet) Applied() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Status 迁移整体状态：已应用 / 待应用 / 全部
type Status struct {
	Executed []*MigrationRecord `json:"executed"`
	Pending  []*MigrationFile   `json:"pending"`
	All      []*MigrationFile   `json:"all"`
}

// ValidationReport 一次校验的结果
// 警告不阻塞 upgrade/downgrade，错误阻塞
type ValidationReport struct {
	Valid      bool             `json:"valid"`
	Errors     []string         `json:"errors"`
	Warnings   []string         `json:"warnings"`
	Migrations []*MigrationFile `json:"migrations"`
}

// addError 追加一条致命错误
func (r *ValidationReport) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// addWarning 追加一条警告
func (r *ValidationReport) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
