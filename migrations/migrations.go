package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed *.sql
var FS embed.FS

// New builds a migrator for the embedded SQL files against dsn.
func New(dsn string) (*migrate.Migrate, func() error, error) {
	const op = "migrations.New"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	source, err := iofs.New(FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return m, db.Close, nil
}
