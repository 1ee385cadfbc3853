package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSQLMigration(t, dir, "20240101000001_create_projects.sql",
		"CREATE TABLE projects (id INTEGER PRIMARY KEY);", "DROP TABLE projects;")
	writeSQLMigration(t, dir, "20240101000002_create_subtitles.sql",
		"CREATE TABLE subtitles (id INTEGER PRIMARY KEY);", "DROP TABLE subtitles;")

	report := NewValidator(dir, nil).Validate()
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	require.Len(t, report.Migrations, 2)
	assert.True(t, report.Migrations[0].HasUp)
	assert.True(t, report.Migrations[0].HasDown)
	assert.True(t, report.Migrations[0].SyntaxValid)
}

func TestValidator_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Migrations directory does not exist")
}

func TestValidator_EmptyDirectory(t *testing.T) {
	// 零迁移是合法状态，仅产生警告
	report := NewValidator(t.TempDir(), nil).Validate()
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Contains(t, report.Warnings, "No migration files found")
}

func TestValidator_InvalidFileName(t *testing.T) {
	dir := t.TempDir()
	// 时间戳位数不足
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "001_bad_name.sql"), []byte("-- +up\nSELECT 1;\n"), 0644))

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Invalid migration file name format: 001_bad_name.sql", report.Errors[0])
}

func TestValidator_DuplicateTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeSQLMigration(t, dir, "20240101000001_one.sql", "SELECT 1;", "")
	writeSQLMigration(t, dir, "20240101000001_other.sql", "SELECT 1;", "")

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "Duplicate migration timestamp 20240101000001") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidator_MissingUpSection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "20240101000001_no_up.sql"),
		[]byte("-- +down\nDROP TABLE projects;\n"), 0644))

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "has no '-- +up' section")
}

func TestValidator_MissingDownWarns(t *testing.T) {
	dir := t.TempDir()
	writeSQLMigration(t, dir, "20240101000001_one_way.sql",
		"CREATE TABLE projects (id INTEGER);", "")

	// 缺少 down 不可逆，但只是警告，不阻塞升级
	report := NewValidator(dir, nil).Validate()
	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "has no down migration")
}

func TestValidator_JSWithoutUpExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "20240101000001_no_up.js"),
		[]byte("var up = 42;\nfunction down(db) {}\n"), 0644))

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "does not export a callable up function")
}

func TestValidator_JSSyntaxError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "20240101000001_broken.js"),
		[]byte("function up(db) {\n"), 0644))

	report := NewValidator(dir, nil).Validate()
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "failed to load migration")
}
