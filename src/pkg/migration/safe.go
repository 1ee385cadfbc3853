package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/subedit-go/subedit-go/src/metrics"
	appsentry "github.com/subedit-go/subedit-go/src/pkg/sentry"
)

// Notifier 迁移失败/紧急回滚时的告警回调，nil 时不告警
type Notifier func(subject, body string)

// SafeManager 安全迁移编排器
// 负责 校验 → 备份 → 迁移 的受保护流程与紧急回滚。
// 底层组件以显式依赖注入传入，进程内应只构造一个实例并串行使用。
// 所有方法都把底层异常转换为结构化结果返回，绝不向上抛出。
type SafeManager struct {
	validator *Validator
	runner    *Runner
	backups   *BackupManager
	lock      *LockManager
	notifier  Notifier
	logger    *logrus.Entry
}

// SafeResult 一次受保护操作的结构化结果
type SafeResult struct {
	Success    bool       `json:"success"`
	BackupPath string     `json:"backup_path,omitempty"`
	Result     *ResultSet `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// DetailedStatus 合并迁移状态与备份情况的运维视图
type DetailedStatus struct {
	Migrations     *Status         `json:"migrations"`
	BackupCount    int             `json:"backup_count"`
	LatestBackup   string          `json:"latest_backup,omitempty"`
	LatestManifest *BackupManifest `json:"latest_manifest,omitempty"`
	Locked         bool            `json:"locked"`
}

// NewSafeManager 创建安全迁移编排器
func NewSafeManager(validator *Validator, runner *Runner, backups *BackupManager, lock *LockManager) (*SafeManager, error) {
	if validator == nil || runner == nil || backups == nil || lock == nil {
		return nil, fmt.Errorf("all dependencies must be provided")
	}
	return &SafeManager{
		validator: validator,
		runner:    runner,
		backups:   backups,
		lock:      lock,
		logger:    logrus.WithField("component", "safe_migration_manager"),
	}, nil
}

// SetNotifier 设置失败告警回调
func (m *SafeManager) SetNotifier(n Notifier) {
	m.notifier = n
}

// SafeUpgrade 受保护的向前迁移：先校验，后备份，再执行
// 校验不通过时在接触数据库与创建备份之前就中止
func (m *SafeManager) SafeUpgrade() (result *SafeResult) {
	defer m.recoverInto(&result)

	report := m.validator.Validate()
	if !report.Valid {
		err := fmt.Errorf("validation failed: %s", strings.Join(report.Errors, "; "))
		m.logger.WithField("errors", report.Errors).Error("refusing to upgrade with invalid migrations")
		return &SafeResult{Success: false, Error: err.Error()}
	}

	return m.guardedRun(DirectionUp, "pre-upgrade", func() (*ResultSet, error) {
		return m.runner.MigrateUp()
	})
}

// SafeDowngrade 受保护的向后迁移：只备份，不重新校验
// （一个曾经通过校验、之后被手工改动的目录不在防护范围内）
func (m *SafeManager) SafeDowngrade(target string) (result *SafeResult) {
	defer m.recoverInto(&result)

	return m.guardedRun(DirectionDown, "pre-downgrade", func() (*ResultSet, error) {
		return m.runner.MigrateDown(target)
	})
}

// guardedRun 备份 → 加锁 → 执行 → 解锁 的公共流程
func (m *SafeManager) guardedRun(direction Direction, label string, run func() (*ResultSet, error)) *SafeResult {
	backupPath, err := m.backups.CreateBackup(label)
	if err != nil {
		// 全新数据库没有内容可备份，不应阻止首次迁移
		if !errors.Is(err, ErrNothingToBackup) {
			m.fail(fmt.Errorf("failed to create %s backup: %w", label, err))
			return &SafeResult{Success: false, Error: err.Error()}
		}
		backupPath = ""
	}

	if err := m.lock.Acquire(NewLockInfo(m.backups.dbPath, backupPath, direction)); err != nil {
		m.fail(err)
		return &SafeResult{Success: false, BackupPath: backupPath, Error: err.Error()}
	}
	defer func() {
		if err := m.lock.Release(); err != nil {
			m.logger.WithError(err).Warn("failed to release migration lock")
		}
	}()

	set, err := run()
	if err != nil {
		m.fail(err)
		return &SafeResult{Success: false, BackupPath: backupPath, Result: set, Error: err.Error()}
	}

	return &SafeResult{Success: true, BackupPath: backupPath, Result: set}
}

// EmergencyRollback 无条件恢复最新备份，是最后一道防线，有意绕过校验
// 没有任何备份时返回明确错误且不做任何文件系统修改
func (m *SafeManager) EmergencyRollback() (result *SafeResult) {
	defer m.recoverInto(&result)

	latest := m.backups.LatestBackup()
	if latest == "" {
		return &SafeResult{Success: false, Error: ErrNoBackups.Error()}
	}

	if err := m.backups.RestoreBackup(latest); err != nil {
		m.fail(err)
		return &SafeResult{Success: false, BackupPath: latest, Error: err.Error()}
	}

	metrics.EmergencyRollbacks.Inc()
	m.logger.WithField("backup_path", latest).Warn("emergency rollback completed")
	m.notify("emergency rollback performed",
		fmt.Sprintf("The database was restored from backup %s.", latest))
	return &SafeResult{Success: true, BackupPath: latest}
}

// CheckAndRecover 检查并恢复未完成的迁移
// 锁文件存在说明上次受保护操作异常中断，用锁中记录的备份恢复数据库
func (m *SafeManager) CheckAndRecover() (bool, error) {
	if !m.lock.IsLocked() {
		return false, nil
	}

	info, err := m.lock.GetLockInfo()
	if err != nil {
		return false, fmt.Errorf("failed to read lock info: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"start_time":   info.StartTime,
		"pid":          info.PID,
		"operation_id": info.OperationID,
		"backup_path":  info.BackupPath,
	}).Warn("detected incomplete migration, attempting recovery")

	if info.BackupPath != "" {
		if err := m.backups.RestoreBackup(info.BackupPath); err != nil {
			return true, fmt.Errorf("recovery failed: %w", err)
		}
		m.logger.Info("database recovered from backup")
	}

	if err := m.lock.Release(); err != nil {
		return true, err
	}
	return true, nil
}

// GetDetailedStatus 合并 Runner 状态与备份情况
func (m *SafeManager) GetDetailedStatus() (*DetailedStatus, error) {
	status, err := m.runner.GetStatus()
	if err != nil {
		return nil, err
	}
	metrics.PendingMigrations.Set(float64(len(status.Pending)))

	backups := m.backups.ListBackups()
	detailed := &DetailedStatus{
		Migrations:  status,
		BackupCount: len(backups),
		Locked:      m.lock.IsLocked(),
	}
	if len(backups) > 0 {
		detailed.LatestBackup = backups[0]
		detailed.LatestManifest = m.backups.ReadManifest(backups[0])
	}
	return detailed, nil
}

// fail 统一的失败处理：日志、Sentry 上报、告警
func (m *SafeManager) fail(err error) {
	m.logger.WithError(err).Error("safe migration operation failed")
	appsentry.CaptureException(err)
	m.notify("database migration failed", err.Error())
}

// notify 触发告警回调
func (m *SafeManager) notify(subject, body string) {
	if m.notifier != nil {
		m.notifier(subject, body)
	}
}

// recoverInto 把 panic 转换为结构化失败结果
func (m *SafeManager) recoverInto(result **SafeResult) {
	if r := recover(); r != nil {
		err := fmt.Errorf("unexpected panic: %v", r)
		m.fail(err)
		*result = &SafeResult{Success: false, Error: err.Error()}
	}
}
