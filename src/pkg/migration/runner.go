package migration

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subedit-go/subedit-go/src/consts"
	"github.com/subedit-go/subedit-go/src/metrics"
)

// Runner 迁移执行器
// 严格按时间戳顺序向前扩展或向后收缩"已应用迁移"前缀，每条迁移在独立事务中
// 与其跟踪记录一起提交。Runner 自身不做备份，安全编排由 SafeManager 负责。
//
// 同一数据库文件上的 Runner 操作不能并发调用，进程内应持有唯一实例并串行使用。
type Runner struct {
	db     *sql.DB
	dir    string
	loader *Loader
	logger *logrus.Entry
}

// NewRunner 创建迁移执行器
// db 为已打开的被管理数据库连接，dir 为已解析的迁移文件目录
func NewRunner(db *sql.DB, dir string, loader *Loader) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("migrations directory cannot be empty")
	}
	if loader == nil {
		loader = NewLoader()
	}
	return &Runner{
		db:     db,
		dir:    dir,
		loader: loader,
		logger: logrus.WithField("component", "migration_runner"),
	}, nil
}

// sortedFileNames 返回按时间戳（字典序）排序的迁移文件名
// 不符合命名约定的文件无法安全排序，跳过并记录警告
func (r *Runner) sortedFileNames() ([]string, error) {
	names, err := listMigrationFiles(r.dir)
	if err != nil {
		return nil, err
	}
	valid := names[:0]
	for _, name := range names {
		if _, _, ok := ParseFileName(name); !ok {
			r.logger.WithField("file", name).Warn("skipping migration file with invalid name")
			continue
		}
		valid = append(valid, name)
	}
	sort.Strings(valid)
	return valid, nil
}

// executedRecords 读取已应用迁移记录，按名称（时间戳）升序
func (r *Runner) executedRecords() ([]*MigrationRecord, error) {
	rows, err := r.db.Query("SELECT name, executed_at FROM migrations ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration records: %w", err)
	}
	defer rows.Close()

	var records []*MigrationRecord
	for rows.Next() {
		var name, executedAt string
		if err := rows.Scan(&name, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, &MigrationRecord{
			Name:       name,
			ExecutedAt: parseExecutedAt(executedAt),
		})
	}
	return records, rows.Err()
}

// checkDuplicateTimestamps 应用前的最后防线：待应用文件之间或与已应用记录之间
// 时间戳重复时拒绝执行（正常情况下 Validator 已拦截）
func checkDuplicateTimestamps(names []string) error {
	seen := map[string]string{}
	for _, name := range names {
		ts, _, _ := ParseFileName(name)
		if prev, ok := seen[ts]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateTimestamp, prev, name)
		}
		seen[ts] = name
	}
	return nil
}

// MigrateUp 按时间戳升序应用所有待应用迁移
// 任何一条失败即停止（后续迁移可能依赖失败的那条），已应用的保持应用状态；
// 无待应用迁移时返回空结果集而非错误
func (r *Runner) MigrateUp() (*ResultSet, error) {
	set := &ResultSet{Direction: DirectionUp, Results: []*MigrationResult{}}

	files, err := r.sortedFileNames()
	if err != nil {
		return set, err
	}
	if err := checkDuplicateTimestamps(files); err != nil {
		return set, err
	}

	records, err := r.executedRecords()
	if err != nil {
		return set, err
	}
	executed := make(map[string]bool, len(records))
	latest := ""
	for _, rec := range records {
		executed[rec.Name] = true
		if rec.Name > latest {
			latest = rec.Name
		}
	}

	var pending []string
	for _, name := range files {
		if !executed[name] {
			pending = append(pending, name)
		}
	}

	// 拒绝乱序：待应用迁移不得早于最新已应用记录
	for _, name := range pending {
		if latest != "" && name < latest {
			return set, fmt.Errorf("%w: %s is older than latest applied migration %s", ErrOutOfOrder, name, latest)
		}
	}

	for i, name := range pending {
		if err := r.applyOne(name, DirectionUp); err != nil {
			set.Results = append(set.Results, &MigrationResult{
				MigrationName: name,
				Direction:     DirectionUp,
				Status:        StatusError,
				Error:         err.Error(),
			})
			for _, rest := range pending[i+1:] {
				set.Results = append(set.Results, &MigrationResult{
					MigrationName: rest,
					Direction:     DirectionUp,
					Status:        StatusNotExecuted,
				})
			}
			metrics.MigrationsFailed.Inc()
			return set, fmt.Errorf("%w: %s: %v", ErrMigrationFailed, name, err)
		}
		set.Results = append(set.Results, &MigrationResult{
			MigrationName: name,
			Direction:     DirectionUp,
			Status:        StatusSuccess,
		})
		metrics.MigrationsApplied.Inc()
		r.logger.WithField("migration", name).Info("migration applied")
	}

	if set.Applied() > 0 {
		if err := SetMeta(r.db, MetaKeyAppVersion, consts.GetVersion()); err != nil {
			r.logger.WithError(err).Warn("failed to record app version")
		}
	}
	return set, nil
}

// MigrateDown 向后迁移
// target 为空时恰好回退一步；target 为 NoMigrationsTarget 时回退全部；
// 否则回退到指定迁移（它保持应用状态，其后的全部回退）。
// 零已应用迁移时回退是记录警告的空操作，不是错误。
func (r *Runner) MigrateDown(target string) (*ResultSet, error) {
	set := &ResultSet{Direction: DirectionDown, Results: []*MigrationResult{}}

	records, err := r.executedRecords()
	if err != nil {
		return set, err
	}
	if len(records) == 0 {
		r.logger.Warn("no migrations to roll back")
		return set, nil
	}

	// records 已按名称升序，即时间戳顺序
	var toRollback []string
	switch target {
	case "":
		toRollback = []string{records[len(records)-1].Name}
	case NoMigrationsTarget:
		for _, rec := range records {
			toRollback = append(toRollback, rec.Name)
		}
	default:
		found := false
		for _, rec := range records {
			if rec.Name == target {
				found = true
			} else if rec.Name > target {
				toRollback = append(toRollback, rec.Name)
			}
		}
		if !found {
			return set, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
		}
	}

	// 从最新的开始回退
	sort.Sort(sort.Reverse(sort.StringSlice(toRollback)))

	for i, name := range toRollback {
		if err := r.applyOne(name, DirectionDown); err != nil {
			set.Results = append(set.Results, &MigrationResult{
				MigrationName: name,
				Direction:     DirectionDown,
				Status:        StatusError,
				Error:         err.Error(),
			})
			for _, rest := range toRollback[i+1:] {
				set.Results = append(set.Results, &MigrationResult{
					MigrationName: rest,
					Direction:     DirectionDown,
					Status:        StatusNotExecuted,
				})
			}
			metrics.MigrationsFailed.Inc()
			return set, fmt.Errorf("%w: %s: %v", ErrMigrationFailed, name, err)
		}
		set.Results = append(set.Results, &MigrationResult{
			MigrationName: name,
			Direction:     DirectionDown,
			Status:        StatusSuccess,
		})
		r.logger.WithField("migration", name).Info("migration rolled back")
	}
	return set, nil
}

// applyOne 在独立事务中执行一条迁移并维护其跟踪记录
func (r *Runner) applyOne(name string, direction Direction) error {
	script, err := r.loader.Load(filepath.Join(r.dir, name))
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if direction == DirectionUp {
		err = script.RunUp(tx)
		if err == nil {
			_, err = tx.Exec("INSERT INTO migrations (name, executed_at) VALUES (?, ?)",
				name, time.Now().UTC().Format(time.RFC3339))
		}
	} else {
		err = script.RunDown(tx)
		if err == nil {
			_, err = tx.Exec("DELETE FROM migrations WHERE name = ?", name)
		}
	}

	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetStatus 把磁盘上的迁移文件按是否存在对应记录划分为已应用/待应用
func (r *Runner) GetStatus() (*Status, error) {
	files, err := r.sortedFileNames()
	if err != nil {
		return nil, err
	}
	records, err := r.executedRecords()
	if err != nil {
		return nil, err
	}

	executedByName := make(map[string]*MigrationRecord, len(records))
	for _, rec := range records {
		executedByName[rec.Name] = rec
	}

	status := &Status{
		Executed: records,
		Pending:  []*MigrationFile{},
		All:      []*MigrationFile{},
	}
	for _, name := range files {
		file := r.describeFile(name)
		status.All = append(status.All, file)
		if _, ok := executedByName[name]; !ok {
			status.Pending = append(status.Pending, file)
		}
	}
	return status, nil
}

// describeFile 构造文件描述，加载失败时只保留文件名信息
func (r *Runner) describeFile(name string) *MigrationFile {
	script, err := r.loader.Load(filepath.Join(r.dir, name))
	if err == nil {
		return script.File
	}
	if script != nil && script.File != nil {
		return script.File
	}
	ts, slug, _ := ParseFileName(name)
	return &MigrationFile{Name: name, Timestamp: ts, Slug: slug, Path: filepath.Join(r.dir, name)}
}
