package migration

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluele/gcache"
	"github.com/robertkrimen/otto"
)

// Script 一个已加载的迁移文件
// 对 .sql 文件保存分段后的 up/down SQL；对 .js 文件保存脚本源码，执行时在独立 VM 中求值
type Script struct {
	File *MigrationFile
	// UpSQL/DownSQL 仅 .sql 文件有效
	UpSQL   string
	DownSQL string
	// JSSource 仅 .js 文件有效
	JSSource string
	IsJS     bool
}

// Loader 迁移文件加载器
// 同一文件在一次进程内会被 Validator 与 Runner 反复读取，
// 用 LRU 缓存按 路径+修改时间+大小 复用解析结果
type Loader struct {
	cache gcache.Cache
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		cache: gcache.New(128).LRU().Build(),
	}
}

// ParseFileName 解析迁移文件名
// 命名约定：14 位时间戳 + 下划线 + slug + 扩展名，不符合约定时 ok 为 false
func ParseFileName(name string) (timestamp, slug string, ok bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Load 加载并解析一个迁移文件
// 返回的 Script.File 带有 HasUp/HasDown/SyntaxValid 标记；
// 文件不可读或无法解析时返回错误
func (l *Loader) Load(path string) (*Script, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migration file: %w", err)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if cached, err := l.cache.Get(key); err == nil {
		return cached.(*Script), nil
	}

	// 解析失败时仍返回带标记的文件描述，供校验报告呈现
	script, err := l.load(path)
	if err != nil {
		return script, err
	}
	_ = l.cache.Set(key, script)
	return script, nil
}

func (l *Loader) load(path string) (*Script, error) {
	name := filepath.Base(path)
	timestamp, slug, _ := ParseFileName(name)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
	}

	file := &MigrationFile{
		Name:      name,
		Timestamp: timestamp,
		Slug:      slug,
		Path:      path,
	}
	script := &Script{File: file}

	switch filepath.Ext(name) {
	case ".js":
		script.IsJS = true
		script.JSSource = string(content)
		if err := inspectJS(script); err != nil {
			return script, err
		}
	case ".sql":
		if err := splitSQLSections(script, string(content)); err != nil {
			return script, err
		}
	default:
		return nil, fmt.Errorf("unsupported migration file extension: %s", name)
	}

	return script, nil
}

const (
	sqlUpMarker   = "-- +up"
	sqlDownMarker = "-- +down"
)

// splitSQLSections 按 "-- +up" / "-- +down" 标记行切分 SQL 文件
// up 段缺失视为解析失败（不可信任的文件不能参与排序执行）
func splitSQLSections(script *Script, content string) error {
	var upLines, downLines []string
	section := ""

	for _, line := range strings.Split(content, "\n") {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case sqlUpMarker:
			section = "up"
			continue
		case sqlDownMarker:
			section = "down"
			continue
		}
		switch section {
		case "up":
			upLines = append(upLines, line)
		case "down":
			downLines = append(downLines, line)
		}
	}

	script.UpSQL = strings.TrimSpace(strings.Join(upLines, "\n"))
	script.DownSQL = strings.TrimSpace(strings.Join(downLines, "\n"))
	script.File.HasUp = script.UpSQL != ""
	script.File.HasDown = script.DownSQL != ""
	script.File.SyntaxValid = true

	if !script.File.HasUp {
		script.File.SyntaxValid = false
		return fmt.Errorf("migration %s has no '-- +up' section", script.File.Name)
	}
	return nil
}

// inspectJS 在一次性 VM 中加载 JS 脚本并确认导出的 up/down 确实可调用
func inspectJS(script *Script) error {
	vm := otto.New()
	if _, err := vm.Run(script.JSSource); err != nil {
		script.File.SyntaxValid = false
		return fmt.Errorf("failed to load migration %s: %v", script.File.Name, err)
	}
	script.File.SyntaxValid = true

	up, err := vm.Get("up")
	script.File.HasUp = err == nil && up.IsFunction()
	down, err := vm.Get("down")
	script.File.HasDown = err == nil && down.IsFunction()

	if !script.File.HasUp {
		return fmt.Errorf("migration %s does not export a callable up function", script.File.Name)
	}
	return nil
}

// RunUp 在指定事务中执行向前迁移
func (s *Script) RunUp(tx *sql.Tx) error {
	if s.IsJS {
		return runJS(s, tx, "up")
	}
	if s.UpSQL == "" {
		return fmt.Errorf("migration %s has no up migration", s.File.Name)
	}
	_, err := tx.Exec(s.UpSQL)
	return err
}

// RunDown 在指定事务中执行向后迁移
func (s *Script) RunDown(tx *sql.Tx) error {
	if s.IsJS {
		if !s.File.HasDown {
			return fmt.Errorf("migration %s has no down migration", s.File.Name)
		}
		return runJS(s, tx, "down")
	}
	if s.DownSQL == "" {
		return fmt.Errorf("migration %s has no down migration", s.File.Name)
	}
	_, err := tx.Exec(s.DownSQL)
	return err
}

// runJS 在独立 VM 中执行脚本的 up/down 函数
// 暴露给脚本的 db 对象提供 exec(sql) 与 query(sql)，错误以 JS 异常形式抛出
func runJS(s *Script, tx *sql.Tx, fn string) error {
	vm := otto.New()
	if _, err := vm.Run(s.JSSource); err != nil {
		return fmt.Errorf("failed to load migration %s: %v", s.File.Name, err)
	}

	dbObj, err := vm.Object(`({})`)
	if err != nil {
		return fmt.Errorf("failed to build db binding: %v", err)
	}

	_ = dbObj.Set("exec", func(call otto.FunctionCall) otto.Value {
		query, _ := call.Argument(0).ToString()
		if _, err := tx.Exec(query); err != nil {
			panic(vm.MakeCustomError("DBError", err.Error()))
		}
		return otto.UndefinedValue()
	})
	_ = dbObj.Set("query", func(call otto.FunctionCall) otto.Value {
		query, _ := call.Argument(0).ToString()
		rows, err := queryRows(tx, query)
		if err != nil {
			panic(vm.MakeCustomError("DBError", err.Error()))
		}
		v, err := vm.ToValue(rows)
		if err != nil {
			panic(vm.MakeCustomError("DBError", err.Error()))
		}
		return v
	})

	if _, err := vm.Call(fn, nil, dbObj); err != nil {
		return fmt.Errorf("migration %s %s() failed: %v", s.File.Name, fn, err)
	}
	return nil
}

// queryRows 执行查询并把结果转换为可供 JS 消费的 map 列表
func queryRows(tx *sql.Tx, query string) ([]map[string]interface{}, error) {
	rows, err := tx.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
