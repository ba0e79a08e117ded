package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrate applies all pending up migrations found in dir to the datasource.
// It opens a dedicated connection so the shared engine is left untouched.
func Migrate(ctx context.Context, datasource, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	engine, err := Open(datasource, Options{Logger: logger})
	if err != nil {
		return err
	}

	driver, err := migrationDriver(engine)
	if err != nil {
		_ = engine.Dispose(ctx)
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(absDir), engine.Driver(), driver)
	if err != nil {
		_ = engine.Dispose(ctx)
		return fmt.Errorf("init migrations: %w", err)
	}
	m.Log = migrateLogger{logger: logger}
	defer func() {
		// closes the database driver, and with it the dedicated pool
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("closing migrations failed", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func migrationDriver(engine *Engine) (migratedb.Driver, error) {
	db := engine.DB().DB
	switch engine.Driver() {
	case "postgres":
		driver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("init postgres migration driver: %w", err)
		}
		return driver, nil
	case "sqlite":
		driver, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("init sqlite migration driver: %w", err)
		}
		return driver, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, engine.Driver())
	}
}

type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
