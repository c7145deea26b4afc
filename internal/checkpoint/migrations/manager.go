package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
)

// MigrationConfig определяет конфигурацию для системы миграций
type MigrationConfig struct {
	// Database configuration
	Driver  string `env:"MIGRATION_DRIVER" default:"postgres"`
	DSN     string `env:"MIGRATION_DSN" default:""`
	Dialect string `env:"MIGRATION_DIALECT" default:"postgres"`

	// Migration settings
	Dir    string `env:"MIGRATION_DIR" default:"migrations"`
	Table  string `env:"MIGRATION_TABLE" default:"goose_db_version"`
	Schema string `env:"MIGRATION_SCHEMA" default:"public"`

	// Safety settings
	Timeout    time.Duration `env:"MIGRATION_TIMEOUT" default:"5m"`
	MaxRetries int           `env:"MIGRATION_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `env:"MIGRATION_RETRY_DELAY" default:"5s"`

	// Development settings
	Verbose         bool `env:"MIGRATION_VERBOSE" default:"false"`
	DryRun          bool `env:"MIGRATION_DRY_RUN" default:"false"`
	AllowOutOfOrder bool `env:"MIGRATION_ALLOW_OUT_OF_ORDER" default:"false"`

	// Safety settings
	NoVersioning bool          `env:"MIGRATION_NO_VERSIONING" default:"false"`
	LockTimeout  time.Duration `env:"MIGRATION_LOCK_TIMEOUT" default:"10s"`

	// Monitoring
	EnableMetrics bool `env:"MIGRATION_METRICS" default:"true"`
	EnableTracing bool `env:"MIGRATION_TRACING" default:"false"`

	// Logger (not from env)
	Logger *slog.Logger
}

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	VersionID   int64     `json:"version_id"`
	IsApplied   bool      `json:"is_applied"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
}

// MigrationFile представляет файл миграции
type MigrationFile struct {
	Path        string    `json:"path"`
	Version     int64     `json:"version"`
	Filename    string    `json:"filename"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// MigrationManager управляет миграциями базы данных
type MigrationManager struct {
	config    *MigrationConfig
	db        *sql.DB
	logger    *slog.Logger
	isRunning bool
	errors    *ErrorHandler
	breaker   *CircuitBreaker
}

// NewMigrationManager создает новый экземпляр MigrationManager
func NewMigrationManager(config *MigrationConfig) (*MigrationManager, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Создаем соединение с БД для дополнительных операций
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	manager := &MigrationManager{
		config:  config,
		db:      db,
		logger:  logger,
		errors:  NewErrorHandler(logger, config.MaxRetries, config.RetryDelay),
		breaker: NewCircuitBreaker(3, config.Timeout, config.RetryDelay*4),
	}

	return manager, nil
}

// Connect устанавливает соединение с базой данных
func (mm *MigrationManager) Connect(ctx context.Context) error {
	if err := mm.breaker.Call(func() error {
		return mm.db.PingContext(ctx)
	}); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	mm.logger.Info("Connected to database for migrations",
		"driver", mm.config.Driver,
		"dialect", mm.config.Dialect)

	return nil
}

// Disconnect закрывает соединение с базой данных
func (mm *MigrationManager) Disconnect(ctx context.Context) error {
	if mm.db != nil {
		if err := mm.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		mm.logger.Info("Disconnected from database")
	}
	return nil
}

// Up применяет все доступные миграции
func (mm *MigrationManager) Up(ctx context.Context) error {
	mm.logger.Info("Starting migration up process")

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration up completed",
			"duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Lock contention and connection blips on the checkpoint store's own
	// schema migration are retried the same way bamclient retries a
	// transient remote failure, rather than failing the whole run.
	if err := mm.errors.ExecuteWithRetry(ctx, func() error {
		return goose.Up(mm.db, mm.config.Dir)
	}); err != nil {
		mm.logger.Error("Migration up failed", "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	mm.logger.Info("All migrations applied successfully")
	return nil
}

// UpTo применяет миграции до указанной версии
func (mm *MigrationManager) UpTo(ctx context.Context, version int64) error {
	mm.logger.Info("Starting migration up to version", "version", version)

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration up to version completed",
			"version", version,
			"duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Выполняем миграции до версии
	if err := goose.UpTo(mm.db, mm.config.Dir, version); err != nil {
		mm.logger.Error("Migration up to version failed",
			"version", version,
			"error", err)
		return fmt.Errorf("failed to apply migrations up to version %d: %w", version, err)
	}

	mm.logger.Info("Migrations applied up to version", "version", version)
	return nil
}

// UpByOne применяет одну следующую миграцию
func (mm *MigrationManager) UpByOne(ctx context.Context) error {
	mm.logger.Info("Starting migration up by one")

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration up by one completed", "duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Применяем одну миграцию (используем Up с флагом)
	if err := goose.UpByOne(mm.db, mm.config.Dir); err != nil {
		mm.logger.Error("Migration up by one failed", "error", err)
		return fmt.Errorf("failed to apply next migration: %w", err)
	}

	mm.logger.Info("Next migration applied successfully")
	return nil
}

// Down откатывает все миграции
func (mm *MigrationManager) Down(ctx context.Context) error {
	mm.logger.Info("Starting migration down process")

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration down completed", "duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Откатываем все миграции
	if err := goose.Reset(mm.db, mm.config.Dir); err != nil {
		mm.logger.Error("Migration down failed", "error", err)
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	mm.logger.Info("All migrations rolled back successfully")
	return nil
}

// DownTo откатывает миграции до указанной версии
func (mm *MigrationManager) DownTo(ctx context.Context, version int64) error {
	mm.logger.Info("Starting migration down to version", "version", version)

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration down to version completed",
			"version", version,
			"duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Откатываем до версии
	if err := goose.DownTo(mm.db, mm.config.Dir, version); err != nil {
		mm.logger.Error("Migration down to version failed",
			"version", version,
			"error", err)
		return fmt.Errorf("failed to rollback migrations to version %d: %w", version, err)
	}

	mm.logger.Info("Migrations rolled back to version", "version", version)
	return nil
}

// DownByOne откатывает одну миграцию
func (mm *MigrationManager) DownByOne(ctx context.Context) error {
	mm.logger.Info("Starting migration down by one")

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		mm.logger.Info("Migration down by one completed", "duration", duration)
	}()

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Откатываем одну миграцию
	if err := goose.Down(mm.db, mm.config.Dir); err != nil {
		mm.logger.Error("Migration down by one failed", "error", err)
		return fmt.Errorf("failed to rollback next migration: %w", err)
	}

	mm.logger.Info("Previous migration rolled back successfully")
	return nil
}

// Status возвращает статус всех миграций
func (mm *MigrationManager) Status(ctx context.Context) ([]*MigrationStatus, error) {
	mm.logger.Info("Getting migration status")

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Получаем статус миграций
	if err := goose.Status(mm.db, mm.config.Dir); err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	// Для простоты возвращаем пустой статус
	// В реальном приложении нужно парсить вывод goose.Status
	statuses := []*MigrationStatus{}
	mm.logger.Info("Migration status retrieved",
		"total_migrations", len(statuses))

	return statuses, nil
}

// Version возвращает текущую версию миграций
func (mm *MigrationManager) Version(ctx context.Context) (int64, error) {
	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Получаем версию миграций
	version, err := goose.GetDBVersion(mm.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	mm.logger.Info("Current migration version", "version", version)
	return version, nil
}

// List возвращает список всех миграционных файлов
func (mm *MigrationManager) List(ctx context.Context) ([]*MigrationFile, error) {
	mm.logger.Info("Listing migration files")

	// Читаем файлы из директории миграций
	files, err := filepath.Glob(filepath.Join(mm.config.Dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migration files: %w", err)
	}

	migrations := make([]*MigrationFile, 0, len(files))
	for _, file := range files {
		migrations = append(migrations, &MigrationFile{
			Path:        file,
			Version:     0, // Можно извлечь из имени файла
			Filename:    filepath.Base(file),
			Description: "", // Можно извлечь из комментариев
			CreatedAt:   time.Now(),
		})
	}

	mm.logger.Info("Migration files listed", "count", len(migrations))
	return migrations, nil
}

// Create создает новый миграционный файл
func (mm *MigrationManager) Create(ctx context.Context, name string) (string, error) {
	mm.logger.Info("Creating new migration", "name", name)

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return "", fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Создаем миграцию
	filename := fmt.Sprintf("%s/%d_%s.sql", mm.config.Dir, time.Now().Unix(), name)

	// Для простоты создаем файл вручную
	content := `-- +goose Up
-- Migration: ` + name + `
-- Created: ` + time.Now().Format("2006-01-02 15:04:05") + `

-- Add your migration SQL here

-- +goose Down
-- Rollback migration: ` + name + `

-- Add your rollback SQL here
`

	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}

	mm.logger.Info("Migration created", "filename", filename)
	return filename, nil
}

// Validate проверяет корректность миграций
func (mm *MigrationManager) Validate(ctx context.Context) error {
	mm.logger.Info("Starting migration validation")

	// Проверяем, что все миграционные файлы существуют
	migrations, err := mm.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	for _, migration := range migrations {
		if _, err := filepath.Glob(filepath.Join(mm.config.Dir, "*.sql")); err != nil {
			return fmt.Errorf("migration file not accessible: %s", migration.Path)
		}
	}

	// Проверяем статус миграций
	statuses, err := mm.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	// Проверяем на пропущенные миграции
	var appliedVersions []int64
	for _, status := range statuses {
		if status.IsApplied {
			appliedVersions = append(appliedVersions, status.VersionID)
		}
	}

	// Проверяем последовательность
	for i := 1; i < len(appliedVersions); i++ {
		if appliedVersions[i] < appliedVersions[i-1] {
			mm.logger.Warn("Out of order migration detected",
				"current", appliedVersions[i],
				"previous", appliedVersions[i-1])
		}
	}

	mm.logger.Info("Migration validation completed successfully")
	return nil
}

// Fix logs the start and end of a fix pass and returns nil; it changes
// neither the database nor the migration files.
func (mm *MigrationManager) Fix(ctx context.Context) error {
	mm.logger.Info("Starting migration fix process")

	// No repair is performed: missing version-table entries and
	// file/database mismatches are left as they are.

	mm.logger.Info("Migration fix completed")
	return nil
}

// Redo переприменяет последнюю миграцию
func (mm *MigrationManager) Redo(ctx context.Context) error {
	mm.logger.Info("Starting migration redo")

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Сначала откатываем последнюю миграцию
	if err := goose.Down(mm.db, mm.config.Dir); err != nil {
		return fmt.Errorf("failed to rollback last migration: %w", err)
	}

	// Затем применяем её снова
	if err := goose.UpByOne(mm.db, mm.config.Dir); err != nil {
		return fmt.Errorf("failed to reapply last migration: %w", err)
	}

	mm.logger.Info("Migration redo completed successfully")
	return nil
}

// Reset сбрасывает все миграции
func (mm *MigrationManager) Reset(ctx context.Context) error {
	mm.logger.Warn("Starting migration reset - this will drop all data!")

	// Устанавливаем диалект
	if err := goose.SetDialect(mm.config.Dialect); err != nil {
		mm.logger.Error("Failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Сначала откатываем все миграции
	if err := goose.Reset(mm.db, mm.config.Dir); err != nil {
		return fmt.Errorf("failed to rollback all migrations: %w", err)
	}

	mm.logger.Info("Migration reset completed - all migrations rolled back")
	return nil
}

// HealthCheck выполняет проверку здоровья миграционной системы
func (mm *MigrationManager) HealthCheck(ctx context.Context) error {
	// Проверяем соединение с БД
	if err := mm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	// Проверяем, что таблица версий существует
	if mm.config.Driver == "postgres" {
		var exists bool
		query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = '%s')", mm.config.Table)
		if err := mm.db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check migration table: %w", err)
		}

		if !exists {
			mm.logger.Warn("Migration table does not exist", "table", mm.config.Table)
		}
	}

	return nil
}

// GetConfig возвращает текущую конфигурацию
func (mm *MigrationManager) GetConfig() *MigrationConfig {
	return mm.config
}

// DB exposes the manager's connection for building a BackupManager or
// HealthChecker against the same database.
func (mm *MigrationManager) DB() *sql.DB {
	return mm.db
}

// IsRunning возвращает статус выполнения миграций
func (mm *MigrationManager) IsRunning() bool {
	return mm.isRunning
}
