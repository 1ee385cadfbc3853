// Package metrics 暴露迁移与备份相关的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MigrationsApplied 成功应用的迁移条数
	MigrationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subedit",
		Subsystem: "db",
		Name:      "migrations_applied_total",
		Help:      "Total number of successfully applied migrations.",
	})
	// MigrationsFailed 失败的迁移运行数
	MigrationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subedit",
		Subsystem: "db",
		Name:      "migrations_failed_total",
		Help:      "Total number of failed migration runs.",
	})
	// BackupsCreated 创建的备份数
	BackupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subedit",
		Subsystem: "db",
		Name:      "backups_created_total",
		Help:      "Total number of database backups created.",
	})
	// EmergencyRollbacks 执行的紧急回滚数
	EmergencyRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subedit",
		Subsystem: "db",
		Name:      "emergency_rollbacks_total",
		Help:      "Total number of emergency rollbacks performed.",
	})
	// PendingMigrations 最近一次状态检查时的待应用迁移数
	PendingMigrations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subedit",
		Subsystem: "db",
		Name:      "pending_migrations",
		Help:      "Number of pending migrations at last status check.",
	})
)

// Handler 返回 /metrics 的 HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
