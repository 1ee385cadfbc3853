package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/subedit-go/subedit-go/src/consts"
	"github.com/subedit-go/subedit-go/src/metrics"
)

const (
	// backupPrefix 备份文件名前缀
	backupPrefix = "backup"
	// backupTimestampLayout 备份文件名中的时间戳格式（字典序即时间序）
	backupTimestampLayout = "2006-01-02T15-04-05.000Z"
	// manifestSuffix 备份清单边车文件后缀
	manifestSuffix = ".json"
)

// labelSanitizePattern 备份标签只保留小写字母、数字与连字符
var labelSanitizePattern = regexp.MustCompile(`[^a-z0-9-]+`)

// BackupManager 备份管理器
// 备份是数据库文件的逐字节拷贝，文件名为 backup[_<label>]_<时间戳><扩展名>，
// 每个备份附带一个 .json 清单边车（尽力而为，缺失不影响恢复/清理）
type BackupManager struct {
	dbPath    string
	backupDir string
	logger    *logrus.Entry
}

// BackupManifest 备份清单
type BackupManifest struct {
	Label       string `json:"label,omitempty"`
	CreatedAt   string `json:"created_at"`
	SizeBytes   int64  `json:"size_bytes"`
	AppVersion  string `json:"app_version"`
	OperationID string `json:"operation_id"`
}

// NewBackupManager 创建备份管理器
func NewBackupManager(dbPath, backupDir string) *BackupManager {
	return &BackupManager{
		dbPath:    dbPath,
		backupDir: backupDir,
		logger:    logrus.WithField("component", "backup_manager"),
	}
}

// sanitizeLabel 清洗备份标签
func sanitizeLabel(label string) string {
	return labelSanitizePattern.ReplaceAllString(strings.ToLower(label), "-")
}

// CreateBackup 创建数据库备份并返回备份文件完整路径
// 源文件不存在与拷贝失败分别返回可区分的错误；
// 拷贝前检查备份目录所在磁盘的剩余空间
func (m *BackupManager) CreateBackup(label string) (string, error) {
	info, err := os.Stat(m.dbPath)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNothingToBackup, m.dbPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat database file: %w", err)
	}

	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if usage, err := disk.Usage(m.backupDir); err == nil {
		if usage.Free < uint64(info.Size()) {
			return "", fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientSpace, info.Size(), usage.Free)
		}
	}

	name := backupPrefix
	if label != "" {
		name += "_" + sanitizeLabel(label)
	}
	timestamp := time.Now().UTC().Format(backupTimestampLayout)
	name += "_" + timestamp + filepath.Ext(m.dbPath)
	backupPath := filepath.Join(m.backupDir, name)

	if err := copyFile(m.dbPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	m.writeManifest(backupPath, &BackupManifest{
		Label:       sanitizeLabel(label),
		CreatedAt:   timestamp,
		SizeBytes:   info.Size(),
		AppVersion:  consts.GetVersion(),
		OperationID: uuid.Must(uuid.NewV4()).String(),
	})

	metrics.BackupsCreated.Inc()
	m.logger.WithFields(logrus.Fields{
		"backup_path": backupPath,
		"label":       label,
		"size_bytes":  info.Size(),
	}).Info("backup created")
	return backupPath, nil
}

// writeManifest 写入清单边车，失败只记录日志
func (m *BackupManager) writeManifest(backupPath string, manifest *BackupManifest) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(backupPath+manifestSuffix, data, 0644)
	}
	if err != nil {
		m.logger.WithError(err).Warn("failed to write backup manifest")
	}
}

// ReadManifest 读取备份清单，缺失或损坏时返回 nil
func (m *BackupManager) ReadManifest(backupPath string) *BackupManifest {
	b, err := os.ReadFile(backupPath + manifestSuffix)
	if err != nil {
		return nil
	}
	data := gjson.ParseBytes(b)
	return &BackupManifest{
		Label:       data.Get("label").String(),
		CreatedAt:   data.Get("created_at").String(),
		SizeBytes:   data.Get("size_bytes").Int(),
		AppVersion:  data.Get("app_version").String(),
		OperationID: data.Get("operation_id").String(),
	}
}

// ListBackups 列出所有备份文件完整路径，最新的在前
// 目录不可读时记录日志并返回空列表，调用方在降级文件系统下也能拿到尽力而为的结果
func (m *BackupManager) ListBackups() []string {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.WithError(err).Error("failed to read backup directory")
		}
		return []string{}
	}

	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix+"_") || strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		backups = append(backups, filepath.Join(m.backupDir, name))
	}

	// 文件名末段是创建时间戳，按其倒序即最新在前
	sort.Slice(backups, func(i, j int) bool {
		return backupSortKey(backups[i]) > backupSortKey(backups[j])
	})
	return backups
}

// backupSortKey 提取文件名中最后一个下划线后的时间戳段作为排序键
func backupSortKey(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.LastIndex(base, "_"); i >= 0 {
		return base[i+1:]
	}
	return base
}

// LatestBackup 返回最新备份的完整路径，无备份时返回空字符串
func (m *BackupManager) LatestBackup() string {
	backups := m.ListBackups()
	if len(backups) == 0 {
		return ""
	}
	return backups[0]
}

// RestoreBackup 用指定备份覆盖当前数据库文件
// 恢复前先为当前文件创建 "pre-restore" 备份，坏的恢复本身也可再恢复
func (m *BackupManager) RestoreBackup(name string) error {
	backupPath := name
	if !strings.ContainsRune(name, os.PathSeparator) {
		backupPath = filepath.Join(m.backupDir, name)
	}
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, backupPath)
	}

	// 当前文件不存在时无需安全备份，其余失败中止恢复
	if _, err := m.CreateBackup("pre-restore"); err != nil && !errors.Is(err, ErrNothingToBackup) {
		return fmt.Errorf("failed to create pre-restore backup: %w", err)
	}

	if err := copyFile(backupPath, m.dbPath); err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}

	m.logger.WithField("backup_path", backupPath).Info("backup restored")
	return nil
}

// CleanupOldBackups 删除最近 keep 个之外的所有备份
// 单个文件删除失败记录日志并继续，不中止整个清理
func (m *BackupManager) CleanupOldBackups(keep int) error {
	if keep <= 0 {
		return fmt.Errorf("keep must be positive: %d", keep)
	}

	backups := m.ListBackups()
	if len(backups) <= keep {
		return nil
	}

	for _, backup := range backups[keep:] {
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			m.logger.WithError(err).WithField("backup_path", backup).Warn("failed to remove old backup")
			continue
		}
		if err := os.Remove(backup + manifestSuffix); err != nil && !os.IsNotExist(err) {
			m.logger.WithError(err).WithField("backup_path", backup).Debug("failed to remove backup manifest")
		}
	}
	return nil
}

// copyFile 复制文件并落盘
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		os.Remove(dst)
		return err
	}

	return dstFile.Sync()
}
