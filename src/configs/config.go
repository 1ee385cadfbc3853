package configs

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 运行环境标识
type Environment string

const (
	// EnvDevelopment 开发环境，数据库文件使用 -dev 后缀
	EnvDevelopment Environment = "development"
	// EnvProduction 生产环境
	EnvProduction Environment = "production"
)

// IsValid 检查环境标识是否合法
func (e Environment) IsValid() bool {
	return e == EnvDevelopment || e == EnvProduction
}

// Database 数据库连接配置
type Database struct {
	// BusyTimeoutMS SQLite busy_timeout，容忍备份拷贝等短暂的外部锁竞争
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

var defaultDatabase = Database{
	BusyTimeoutMS: 5000,
}

func (d *Database) verify() error {
	if d == nil {
		return nil
	}
	if d.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms 不能为负数: %d", d.BusyTimeoutMS)
	}
	return nil
}

// Backup 备份策略配置
type Backup struct {
	// MaxKeep 清理时保留的备份数量
	MaxKeep int `yaml:"max_keep" json:"max_keep"`
	// WarnThreshold 健康检查中触发“清理备份”建议的数量阈值
	WarnThreshold int `yaml:"warn_threshold" json:"warn_threshold"`
}

var defaultBackup = Backup{
	MaxKeep:       10,
	WarnThreshold: 10,
}

func (b *Backup) verify() error {
	if b == nil {
		return nil
	}
	if b.MaxKeep <= 0 {
		return fmt.Errorf("backup.max_keep 必须大于 0: %d", b.MaxKeep)
	}
	if b.WarnThreshold < 0 {
		return fmt.Errorf("backup.warn_threshold 不能为负数: %d", b.WarnThreshold)
	}
	return nil
}

// Log 日志配置
type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
}

// Email 邮件告警配置
type Email struct {
	Enable         bool     `yaml:"enable" json:"enable"`
	SMTPHost       string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort       int      `yaml:"smtp_port" json:"smtp_port"`
	SenderAddress  string   `yaml:"sender_address" json:"sender_address"`
	SenderPassword string   `yaml:"sender_password" json:"sender_password"`
	Recipients     []string `yaml:"recipients" json:"recipients"`
}

func (e *Email) verify() error {
	if e == nil || !e.Enable {
		return nil
	}
	if e.SMTPHost == "" {
		return fmt.Errorf("notify.email.smtp_host 不能为空")
	}
	if e.SMTPPort <= 0 || e.SMTPPort > 65535 {
		return fmt.Errorf("无效的 SMTP 端口: %d", e.SMTPPort)
	}
	if e.SenderAddress == "" {
		return fmt.Errorf("notify.email.sender_address 不能为空")
	}
	if len(e.Recipients) == 0 {
		return fmt.Errorf("notify.email.recipients 不能为空")
	}
	return nil
}

// Notify 通知配置
type Notify struct {
	Email Email `yaml:"email" json:"email"`
}

// Server 诊断 HTTP 服务配置
type Server struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultServer = Server{
	Enable: false,
	Bind:   "127.0.0.1:8866",
}

func (s *Server) verify() error {
	if s == nil || !s.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", s.Bind); err != nil {
		return fmt.Errorf("无效的服务绑定地址: %w", err)
	}
	return nil
}

// Sentry 错误上报配置
type Sentry struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// Config 全局配置
type Config struct {
	Env   Environment `yaml:"env" json:"env"`
	Debug bool        `yaml:"debug" json:"debug"`
	// DataDir 数据目录覆盖项，留空时使用平台默认的用户数据目录
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// MigrationsDir 迁移文件目录覆盖项，留空时按候选目录列表探测
	MigrationsDir string   `yaml:"migrations_dir" json:"migrations_dir"`
	Database      Database `yaml:"database" json:"database"`
	Backup        Backup   `yaml:"backup" json:"backup"`
	Log           Log      `yaml:"log" json:"log"`
	Notify        Notify   `yaml:"notify" json:"notify"`
	Server        Server   `yaml:"server" json:"server"`
	Sentry        Sentry   `yaml:"sentry" json:"sentry"`

	file string
}

// NewConfig 返回带默认值的配置
func NewConfig() *Config {
	return &Config{
		Env:      EnvProduction,
		Database: defaultDatabase,
		Backup:   defaultBackup,
		Server:   defaultServer,
	}
}

// NewConfigWithBytes 从 YAML 字节解析配置
func NewConfigWithBytes(b []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	config.applyEnvOverrides()
	return config, nil
}

// NewConfigWithFile 从文件加载配置
func NewConfigWithFile(configFile string) (*Config, error) {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.file = configFile
	return config, nil
}

// NewConfigFromEnv 不使用配置文件时，从环境变量构建配置
func NewConfigFromEnv() *Config {
	config := NewConfig()
	config.applyEnvOverrides()
	return config
}

// LoadDotEnv 加载工作目录下的 .env 文件（不存在时静默忽略）
// 必须在读取环境变量覆盖项之前调用
func LoadDotEnv() {
	_ = godotenv.Load()
}

// applyEnvOverrides 应用环境变量覆盖
// SUBEDIT_ENV / SUBEDIT_DATA_DIR / SUBEDIT_MIGRATIONS_DIR / SUBEDIT_SENTRY_DSN
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SUBEDIT_ENV"); v != "" {
		c.Env = Environment(strings.ToLower(v))
	}
	if v := os.Getenv("SUBEDIT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SUBEDIT_MIGRATIONS_DIR"); v != "" {
		c.MigrationsDir = v
	}
	if v := os.Getenv("SUBEDIT_SENTRY_DSN"); v != "" {
		c.Sentry.DSN = v
	}
}

// GetFilePath 返回配置文件路径
func (c *Config) GetFilePath() (string, error) {
	if c.file == "" {
		return "", fmt.Errorf("config path not set")
	}
	return c.file, nil
}

// Verify 校验配置
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if !c.Env.IsValid() {
		return fmt.Errorf("无效的环境标识: %q (可选值: development/production)", c.Env)
	}
	if err := c.Database.verify(); err != nil {
		return err
	}
	if err := c.Backup.verify(); err != nil {
		return err
	}
	if err := c.Notify.Email.verify(); err != nil {
		return err
	}
	return c.Server.verify()
}

// IsDevelopment 是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

var currentConfig atomic.Pointer[Config]

// SetCurrentConfig 设置进程级当前配置
func SetCurrentConfig(c *Config) {
	currentConfig.Store(c)
}

// GetCurrentConfig 获取进程级当前配置，未设置时返回 nil
func GetCurrentConfig() *Config {
	return currentConfig.Load()
}
