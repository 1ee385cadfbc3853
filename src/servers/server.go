// Package servers 提供只读的诊断 HTTP 服务
// 暴露健康检查、迁移状态与 Prometheus 指标，供运维观察，不提供任何修改入口
package servers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/subedit-go/subedit-go/src/consts"
	applog "github.com/subedit-go/subedit-go/src/log"
	"github.com/subedit-go/subedit-go/src/metrics"
	"github.com/subedit-go/subedit-go/src/pkg/migration"
)

// Server 诊断 HTTP 服务
type Server struct {
	server  *http.Server
	safe    *migration.SafeManager
	checker *migration.HealthChecker
}

type commonResp struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
}

// NewServer 创建诊断服务
func NewServer(bind string, safe *migration.SafeManager, checker *migration.HealthChecker) *Server {
	s := &Server{
		safe:    safe,
		checker: checker,
	}

	router := mux.NewRouter()
	router.Use(logMiddleware)
	router.HandleFunc("/api/info", s.getInfo).Methods(http.MethodGet)
	router.HandleFunc("/api/health", s.getHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.getStatus).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    bind,
		Handler: router,
	}
	return s
}

// Start 启动服务（阻塞直到 Shutdown 或出错）
func (s *Server) Start() error {
	applog.WithFields(map[string]any{"bind": s.server.Addr}).Info("diagnostics server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close 优雅关闭服务
func (s *Server) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func (s *Server) getHealth(writer http.ResponseWriter, r *http.Request) {
	report := s.checker.PerformHealthCheck()
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONWithStatusCode(writer, code, report)
}

func (s *Server) getStatus(writer http.ResponseWriter, r *http.Request) {
	status, err := s.safe.GetDetailedStatus()
	if err != nil {
		writeJSONWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo:  http.StatusInternalServerError,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, status)
}

func logMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applog.GetLogger().WithFields(map[string]any{
			"Method":     r.Method,
			"Path":       r.RequestURI,
			"RemoteAddr": r.RemoteAddr,
		}).Debug("Http Request")
		handler.ServeHTTP(w, r)
	})
}

func writeJSON(writer http.ResponseWriter, data interface{}) {
	writeJSONWithStatusCode(writer, http.StatusOK, data)
}

func writeJSONWithStatusCode(writer http.ResponseWriter, code int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_, _ = writer.Write(b)
}
