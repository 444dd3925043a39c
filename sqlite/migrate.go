package sqlite

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/benjamonnguyen/focuslog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to date. Running it on a current schema is a
// no-op.
func (p *Pool) Migrate(ctx context.Context) error {
	release, err := p.holdSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return &focuslog.StorageError{Op: "load migrations", Err: err}
	}
	drv, err := migratesqlite.WithInstance(p.db, &migratesqlite.Config{})
	if err != nil {
		return &focuslog.StorageError{Op: "migration driver", Err: err}
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return &focuslog.StorageError{Op: "migration setup", Err: err}
	}
	// m.Close would close p.db along with the driver

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return &focuslog.StorageError{Op: "run migrations", Err: err}
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return &focuslog.StorageError{Op: "migration version", Err: err}
	}
	p.l.Info("storage initialized", "version", version, "dirty", dirty)
	return nil
}
