// Package notify 在迁移失败或紧急回滚时向运维人员发送邮件告警
package notify

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/subedit-go/subedit-go/src/configs"
	"github.com/subedit-go/subedit-go/src/consts"
	applog "github.com/subedit-go/subedit-go/src/log"
)

// SendAlert 发送一封告警邮件
// 未启用邮件通知时为空操作；发送失败只记录日志，不影响主流程
func SendAlert(cfg *configs.Config, subject, body string) error {
	if cfg == nil || !cfg.Notify.Email.Enable {
		return nil
	}
	email := cfg.Notify.Email

	m := gomail.NewMessage()
	m.SetHeader("From", email.SenderAddress)
	m.SetHeader("To", email.Recipients...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", consts.AppName, subject))
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(email.SMTPHost, email.SMTPPort, email.SenderAddress, email.SenderPassword)
	if err := d.DialAndSend(m); err != nil {
		applog.GetLogger().WithError(err).Error("failed to send alert email")
		return err
	}
	return nil
}

// Notifier 返回绑定了配置的告警回调，供 SafeManager 注入
func Notifier(cfg *configs.Config) func(subject, body string) {
	return func(subject, body string) {
		_ = SendAlert(cfg, subject, body)
	}
}
