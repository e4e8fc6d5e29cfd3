package commands

import (
	"database/sql"

	"github.com/teranos/recap/am"
	"github.com/teranos/recap/db"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/logger"
)

// openDatabase opens and migrates a database. An empty dbPath uses the configured path.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run 'recap am show' to inspect the effective config")
	}
	return cfg, nil
}
