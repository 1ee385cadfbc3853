package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"

	"github.com/subedit-go/subedit-go/src/configs"
	"github.com/subedit-go/subedit-go/src/consts"
	applog "github.com/subedit-go/subedit-go/src/log"
	"github.com/subedit-go/subedit-go/src/notify"
	"github.com/subedit-go/subedit-go/src/pkg/migration"
	"github.com/subedit-go/subedit-go/src/pkg/paths"
	appsentry "github.com/subedit-go/subedit-go/src/pkg/sentry"
	"github.com/subedit-go/subedit-go/src/servers"
)

var (
	app        = kingpin.New("subedit-db", "SubEdit-go database migration and backup safety tool.")
	configFlag = app.Flag("config", "Config file path.").Short('c').String()
	debugFlag  = app.Flag("debug", "Enable debug logging.").Bool()

	migrateCmd  = app.Command("migrate", "Schema migration operations.")
	upCmd       = migrateCmd.Command("up", "Apply all pending migrations.")
	upgradeCmd  = migrateCmd.Command("upgrade", "Apply all pending migrations (alias of up).")
	downCmd     = migrateCmd.Command("down", "Roll back one step, or to the named migration.")
	downTarget  = downCmd.Arg("name", "Target migration name (optional).").String()
	dgradeCmd   = migrateCmd.Command("downgrade", "Roll back one step, or to the named migration (alias of down).")
	dgradeArg   = dgradeCmd.Arg("name", "Target migration name (optional).").String()
	statusCmd   = migrateCmd.Command("status", "Show executed and pending migrations.")
	createCmd   = migrateCmd.Command("create", "Create a new migration file.")
	createName  = createCmd.Arg("name", "Migration description.").Required().String()
	createJS    = createCmd.Flag("js", "Create a JavaScript migration instead of SQL.").Bool()
	validateCmd = migrateCmd.Command("validate", "Validate migration files without running them.")

	backupCmd      = app.Command("backup", "Database backup operations.")
	backupCreate   = backupCmd.Command("create", "Create a backup of the live database file.")
	backupLabel    = backupCreate.Flag("label", "Optional backup label.").String()
	backupList     = backupCmd.Command("list", "List backups, newest first.")
	backupRestore  = backupCmd.Command("restore", "Restore the named backup over the live file.")
	backupRestName = backupRestore.Arg("name", "Backup file name.").Required().String()
	backupCleanup  = backupCmd.Command("cleanup", "Delete all but the most recent backups.")
	backupKeep     = backupCleanup.Flag("keep", "Number of backups to keep (default from config).").Int()

	rollbackCmd = app.Command("rollback", "Emergency rollback: restore the most recent backup unconditionally.")
	healthCmd   = app.Command("health", "Run a read-only health check.")
	serveCmd    = app.Command("serve", "Serve read-only diagnostics over HTTP.")
)

// toolkit 为一次 CLI 调用组装好的全部组件
// 显式构造、显式传递，不依赖任何包级单例
type toolkit struct {
	cfg       *configs.Config
	paths     *paths.DbPaths
	dir       string
	db        *sql.DB
	runner    *migration.Runner
	validator *migration.Validator
	backups   *migration.BackupManager
	safe      *migration.SafeManager
	checker   *migration.HealthChecker
}

func loadConfig() (*configs.Config, error) {
	configs.LoadDotEnv()

	var cfg *configs.Config
	var err error
	if *configFlag != "" {
		cfg, err = configs.NewConfigWithFile(*configFlag)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = configs.NewConfigFromEnv()
	}
	if *debugFlag {
		cfg.Debug = true
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	configs.SetCurrentConfig(cfg)
	applog.New(cfg)

	if err := appsentry.Init(cfg.Sentry.DSN, string(cfg.Env), consts.GetVersion()); err != nil {
		applog.GetLogger().WithError(err).Warn("failed to initialize sentry")
	}
	return cfg, nil
}

// newToolkit 组装组件
// needDB 为 false 时（create/validate 等纯文件操作）不打开数据库
func newToolkit(needDB bool) (*toolkit, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	dbPaths, err := paths.NewResolver(cfg).GetPaths()
	if err != nil {
		return nil, nil, err
	}

	candidates := []string{cfg.MigrationsDir}
	if cfg.MigrationsDir == "" {
		candidates = migration.DefaultCandidates(dbPaths.DataDir)
	}
	discovery, err := migration.NewDiscovery(candidates)
	if err != nil {
		return nil, nil, err
	}
	dir, err := discovery.ResolveMigrationsDir()
	if err != nil {
		return nil, nil, err
	}

	loader := migration.NewLoader()
	tk := &toolkit{
		cfg:       cfg,
		paths:     dbPaths,
		dir:       dir,
		validator: migration.NewValidator(dir, loader),
		backups:   migration.NewBackupManager(dbPaths.DBFile, dbPaths.BackupDir),
	}
	cleanup := func() { appsentry.Flush(2 * time.Second) }

	if !needDB {
		return tk, cleanup, nil
	}

	if err := paths.EnsureDirs(dbPaths); err != nil {
		return nil, nil, err
	}
	db, err := migration.OpenDatabase(dbPaths.DBFile, cfg.Database.BusyTimeoutMS)
	if err != nil {
		return nil, nil, err
	}
	tk.db = db
	cleanup = func() {
		db.Close()
		appsentry.Flush(2 * time.Second)
	}

	tk.runner, err = migration.NewRunner(db, dir, loader)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	tk.safe, err = migration.NewSafeManager(tk.validator, tk.runner, tk.backups, migration.NewLockManager(dbPaths.DBFile))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	tk.safe.SetNotifier(notify.Notifier(cfg))
	tk.checker = migration.NewHealthChecker(dbPaths.DBFile, db, tk.runner, tk.validator, tk.backups, cfg.Backup.WarnThreshold)

	// 上次受保护操作若异常中断，先从锁文件记录的备份恢复
	if recovered, err := tk.safe.CheckAndRecover(); err != nil {
		applog.GetLogger().WithError(err).Warn("recovery check failed")
	} else if recovered {
		applog.GetLogger().Info("recovered from incomplete migration")
	}

	return tk, cleanup, nil
}

func printResults(set *migration.ResultSet) {
	if set == nil {
		return
	}
	for _, r := range set.Results {
		switch r.Status {
		case migration.StatusSuccess:
			fmt.Printf("applied: %s\n", r.MigrationName)
		case migration.StatusError:
			fmt.Printf("failed:  %s (%s)\n", r.MigrationName, r.Error)
		case migration.StatusNotExecuted:
			fmt.Printf("skipped: %s\n", r.MigrationName)
		}
	}
}

func runUpgrade(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	result := tk.safe.SafeUpgrade()
	printResults(result.Result)
	if !result.Success {
		return fmt.Errorf("upgrade failed: %s", result.Error)
	}
	if result.Result.Applied() == 0 {
		fmt.Println("database is up to date")
	}
	return nil
}

func runDowngrade(target string) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	result := tk.safe.SafeDowngrade(target)
	printResults(result.Result)
	if !result.Success {
		return fmt.Errorf("downgrade failed: %s", result.Error)
	}
	return nil
}

func runStatus(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := tk.safe.GetDetailedStatus()
	if err != nil {
		return err
	}

	fmt.Printf("executed (%d):\n", len(status.Migrations.Executed))
	for _, rec := range status.Migrations.Executed {
		when := "unknown"
		if rec.ExecutedAt != nil {
			when = rec.ExecutedAt.Format(time.RFC3339)
		}
		fmt.Printf("  %s  %s\n", rec.Name, when)
	}
	fmt.Printf("pending (%d):\n", len(status.Migrations.Pending))
	for _, file := range status.Migrations.Pending {
		fmt.Printf("  %s\n", file.Name)
	}
	fmt.Printf("backups: %d", status.BackupCount)
	if status.LatestBackup != "" {
		fmt.Printf(" (latest: %s)", status.LatestBackup)
	}
	fmt.Println()
	return nil
}

func runCreate(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	path, err := migration.CreateMigration(tk.dir, *createName, *createJS)
	if err != nil {
		return err
	}
	fmt.Printf("created: %s\n", path)
	return nil
}

func runValidate(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	report := tk.validator.Validate()
	for _, warning := range report.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	for _, e := range report.Errors {
		fmt.Printf("error:   %s\n", e)
	}
	if !report.Valid {
		return fmt.Errorf("validation failed with %d error(s)", len(report.Errors))
	}
	fmt.Printf("%d migration file(s) valid\n", len(report.Migrations))
	return nil
}

func runBackupCreate(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	path, err := tk.backups.CreateBackup(*backupLabel)
	if err != nil {
		return err
	}
	fmt.Printf("backup created: %s\n", path)
	return nil
}

func runBackupList(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	backups := tk.backups.ListBackups()
	if len(backups) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, b := range backups {
		line := b
		if manifest := tk.backups.ReadManifest(b); manifest != nil {
			line += fmt.Sprintf("  (%d bytes, app %s)", manifest.SizeBytes, manifest.AppVersion)
		}
		fmt.Println(line)
	}
	return nil
}

func runBackupRestore(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := tk.backups.RestoreBackup(*backupRestName); err != nil {
		return err
	}
	fmt.Printf("restored: %s\n", *backupRestName)
	return nil
}

func runBackupCleanup(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(false)
	if err != nil {
		return err
	}
	defer cleanup()

	keep := *backupKeep
	if keep == 0 {
		keep = tk.cfg.Backup.MaxKeep
	}
	if err := tk.backups.CleanupOldBackups(keep); err != nil {
		return err
	}
	fmt.Printf("kept the %d most recent backup(s)\n", keep)
	return nil
}

func runRollback(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	result := tk.safe.EmergencyRollback()
	if !result.Success {
		return fmt.Errorf("emergency rollback failed: %s", result.Error)
	}
	fmt.Printf("restored from %s\n", result.BackupPath)
	return nil
}

func runHealth(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	report := tk.checker.PerformHealthCheck()
	if report.Healthy {
		fmt.Println("healthy")
		return nil
	}
	for i, issue := range report.Issues {
		fmt.Printf("issue: %s\n", issue)
		if i < len(report.Recommendations) {
			fmt.Printf("  -> %s\n", report.Recommendations[i])
		}
	}
	return fmt.Errorf("database is unhealthy (%d issue(s))", len(report.Issues))
}

func runServe(*kingpin.ParseContext) error {
	tk, cleanup, err := newToolkit(true)
	if err != nil {
		return err
	}
	defer cleanup()

	bind := tk.cfg.Server.Bind
	srv := servers.NewServer(bind, tk.safe, tk.checker)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	appsentry.Go(func() {
		<-c
		_ = srv.Close(context.Background())
	})

	return srv.Start()
}

func main() {
	upCmd.Action(runUpgrade)
	upgradeCmd.Action(runUpgrade)
	downCmd.Action(func(*kingpin.ParseContext) error { return runDowngrade(*downTarget) })
	dgradeCmd.Action(func(*kingpin.ParseContext) error { return runDowngrade(*dgradeArg) })
	statusCmd.Action(runStatus)
	createCmd.Action(runCreate)
	validateCmd.Action(runValidate)
	backupCreate.Action(runBackupCreate)
	backupList.Action(runBackupList)
	backupRestore.Action(runBackupRestore)
	backupCleanup.Action(runBackupCleanup)
	rollbackCmd.Action(runRollback)
	healthCmd.Action(runHealth)
	serveCmd.Action(runServe)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
