package migration

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/subedit-go/subedit-go/src/consts"
)

// HealthReport 只读诊断报告
type HealthReport struct {
	Healthy         bool     `json:"healthy"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// HealthChecker 聚合迁移与备份状态的只读健康检查
// 各项检查相互独立、容忍单项失败，本身绝不抛出异常
type HealthChecker struct {
	dbPath        string
	db            *sql.DB
	runner        *Runner
	validator     *Validator
	backups       *BackupManager
	warnThreshold int
	logger        *logrus.Entry
}

// NewHealthChecker 创建健康检查器
// warnThreshold 为触发"清理备份"建议的备份数量阈值，<=0 时使用默认值 10
func NewHealthChecker(dbPath string, db *sql.DB, runner *Runner, validator *Validator, backups *BackupManager, warnThreshold int) *HealthChecker {
	if warnThreshold <= 0 {
		warnThreshold = 10
	}
	return &HealthChecker{
		dbPath:        dbPath,
		db:            db,
		runner:        runner,
		validator:     validator,
		backups:       backups,
		warnThreshold: warnThreshold,
		logger:        logrus.WithField("component", "health_check"),
	}
}

// PerformHealthCheck 执行全部检查并返回聚合报告，本函数保证不会 panic
func (h *HealthChecker) PerformHealthCheck() (report *HealthReport) {
	report = &HealthReport{
		Healthy:         true,
		Issues:          []string{},
		Recommendations: []string{},
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("health check panicked")
			report = &HealthReport{
				Healthy:         false,
				Issues:          []string{fmt.Sprintf("Health check failed: %v", r)},
				Recommendations: []string{"Inspect the application logs for details"},
			}
		}
	}()

	h.checkDatabaseFile(report)
	h.checkPendingMigrations(report)
	h.checkValidation(report)
	h.checkBackups(report)
	h.checkAppVersion(report)

	report.Healthy = len(report.Issues) == 0
	return report
}

// checkDatabaseFile 数据库文件存在性
func (h *HealthChecker) checkDatabaseFile(report *HealthReport) {
	if _, err := os.Stat(h.dbPath); os.IsNotExist(err) {
		report.Issues = append(report.Issues, "Database file does not exist")
		report.Recommendations = append(report.Recommendations, "Run database migrations to initialize")
	}
}

// checkPendingMigrations 待应用迁移数量
func (h *HealthChecker) checkPendingMigrations(report *HealthReport) {
	status, err := h.runner.GetStatus()
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("Failed to read migration status: %v", err))
		report.Recommendations = append(report.Recommendations, "Check database file permissions and integrity")
		return
	}
	if n := len(status.Pending); n > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d pending migrations", n))
		report.Recommendations = append(report.Recommendations, "Run upgrade to apply pending migrations")
	}
}

// checkValidation 迁移文件静态校验
func (h *HealthChecker) checkValidation(report *HealthReport) {
	validation := h.validator.Validate()
	if !validation.Valid {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d invalid migration files", len(validation.Errors)))
		report.Recommendations = append(report.Recommendations, "Fix invalid migration files before migrating")
	}
}

// checkBackups 备份数量卫生
func (h *HealthChecker) checkBackups(report *HealthReport) {
	count := len(h.backups.ListBackups())
	switch {
	case count == 0:
		report.Issues = append(report.Issues, "No backups available")
		report.Recommendations = append(report.Recommendations, "Create a backup")
	case count > h.warnThreshold:
		report.Issues = append(report.Issues, fmt.Sprintf("%d backups on disk", count))
		report.Recommendations = append(report.Recommendations, "Clean up old backups")
	}
}

// checkAppVersion 检测应用降级：
// 数据库记录的"最近一次迁移时的应用版本"比当前运行版本新，说明 schema 可能领先于代码
func (h *HealthChecker) checkAppVersion(report *HealthReport) {
	if h.db == nil {
		return
	}
	recorded, err := GetMeta(h.db, MetaKeyAppVersion)
	if err != nil || recorded == "" {
		return
	}
	recordedVer, err := semver.NewVersion(recorded)
	if err != nil {
		return
	}
	currentVer, err := semver.NewVersion(consts.GetVersion())
	if err != nil {
		return
	}
	if recordedVer.GreaterThan(currentVer) {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Database was last migrated by a newer app version (%s > %s)", recordedVer, currentVer))
		report.Recommendations = append(report.Recommendations,
			"Upgrade the application, or downgrade the schema before running this version")
	}
}
