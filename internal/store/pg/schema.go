package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migrations/ version this binary reads and
// writes. Bump it together with every new migration.
const RequiredSchemaVersion uint = 1

var (
	ErrSchemaMissing  = errors.New("database schema is not initialized")
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema compares golang-migrate's schema_migrations row with
// RequiredSchemaVersion. A nil error means the stores can be used.
func CheckSchema(ctx context.Context, db *sql.DB) error {
	var (
		version uint
		dirty   bool
	)
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		// No row, or no table on a fresh database.
		return fmt.Errorf("%w: run `tami migrate up`", ErrSchemaMissing)
	}
	return compareSchema(version, dirty)
}

func compareSchema(version uint, dirty bool) error {
	switch {
	case dirty:
		return fmt.Errorf("%w at v%d: fix it, then `tami migrate force %d`", ErrSchemaDirty, version, version-1)
	case version < RequiredSchemaVersion:
		return fmt.Errorf("%w: v%d, need v%d: run `tami migrate up`", ErrSchemaOutdated, version, RequiredSchemaVersion)
	case version > RequiredSchemaVersion:
		return fmt.Errorf("%w: v%d, binary knows v%d", ErrSchemaAhead, version, RequiredSchemaVersion)
	}
	return nil
}
