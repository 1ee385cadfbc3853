package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// slugPattern 迁移描述清洗：小写字母数字下划线之外的字符折叠为下划线
var slugPattern = regexp.MustCompile(`[^a-z0-9_]+`)

const sqlStubTemplate = `-- +up
-- TODO: forward schema changes

-- +down
-- TODO: reverse the changes above
`

const jsStubTemplate = `function up(db) {
    // forward schema changes, e.g. db.exec("CREATE TABLE ...");
}

function down(db) {
    // reverse the changes above
}
`

// SanitizeName 把迁移描述清洗为文件名 slug
func SanitizeName(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(slug, "_")
}

// CreateMigration 在 dir 下按命名约定生成一个新迁移文件并返回其路径
// js 为 true 时生成 .js 脚本桩，否则生成 .sql 分段桩；
// 同名文件已存在时返回错误
func CreateMigration(dir, name string, js bool) (string, error) {
	slug := SanitizeName(name)
	if slug == "" {
		return "", fmt.Errorf("migration name must contain at least one alphanumeric character")
	}

	ext := ".sql"
	stub := sqlStubTemplate
	if js {
		ext = ".js"
		stub = jsStubTemplate
	}

	timestamp := time.Now().UTC().Format(TimestampLayout)
	fileName := fmt.Sprintf("%s_%s%s", timestamp, slug, ext)
	path := filepath.Join(dir, fileName)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("migration file already exists: %s", fileName)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(stub), 0644); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	return path, nil
}
