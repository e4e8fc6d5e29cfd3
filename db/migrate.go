package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/recap/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one NNN_name.sql file
type migration struct {
	version string
	name    string
}

// Migrate applies every embedded migration not yet recorded in schema_migrations.
// A nil logger runs silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	return migrateFS(db, migrations, migrationsDir, logger)
}

func migrateFS(db *sql.DB, fsys fs.FS, dir string, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	pending, err := listMigrations(fsys, dir)
	if err != nil {
		return err
	}

	// 000 creates the bookkeeping table; until it exists nothing is applied
	applied, err := AppliedVersions(db)
	if err != nil && !isMissingTable(err) {
		return err
	}
	if len(pending) > 0 && pending[0].version != "000" && len(applied) == 0 {
		return errors.Newf("first migration must be 000, got %s", pending[0].name)
	}

	ran := 0
	for _, m := range pending {
		if applied[m.version] {
			logger.Debugw("Migration already applied", "migration", m.name)
			continue
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, m.name))
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", m.name)
		}
		if err := applyMigration(db, m, string(body)); err != nil {
			return err
		}
		logger.Infow("Applied migration", "migration", m.name)
		ran++
	}

	logger.Debugw("Schema up to date", "applied", ran, "total", len(pending))
	return nil
}

func applyMigration(db *sql.DB, m migration, body string) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", m.name)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return errors.Wrapf(err, "migration %s failed", m.name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", m.name)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit migration %s", m.name)
}

// listMigrations returns the .sql files in dir sorted by version
func listMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migrations")
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", e.Name())
		}
		out = append(out, migration{version: version, name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// AppliedVersions returns the set of recorded migration versions
func AppliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read schema_migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "failed to read schema_migrations")
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
