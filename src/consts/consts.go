package consts

import (
	"fmt"
	"os"
	"runtime"
)

const (
	AppName = "SubEdit-go"
)

// Info 应用信息，用于 health/serve 输出
type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
}

var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo 返回应用信息
// 注意：必须使用函数而非变量，因为 AppVersion 等字段是通过 -ldflags 在链接阶段注入的，
// 如果使用变量初始化，会在编译阶段求值，此时这些字段还是空字符串
func GetAppInfo() *Info {
	return &Info{
		AppName:    AppName,
		AppVersion: GetVersion(),
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
	}
}

// GetVersion 返回应用版本号，未注入时回退到开发版本号
func GetVersion() string {
	if AppVersion == "" {
		return "0.0.0-dev"
	}
	return AppVersion
}
