package app

import (
	"errors"
	"fmt"

	"trading-monitor/internal/storage"
)

// Migrate applies or rolls back the PostgreSQL schema. SQLite databases
// carry their schema and need no migration.
func (a *App) Migrate(direction string) error {
	db := a.Config.Database
	switch db.Driver {
	case "sqlite":
		return errors.New("sqlite applies its schema on open; migrate is for postgres")
	case "", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", db.Driver)
	}
	if db.DSN == "" {
		return errors.New("database.dsn not configured; cannot migrate")
	}
	return storage.Migrate(db.DSN, direction, a.Logger)
}
