package migration

import (
	"fmt"
	"strings"

	"github.com/BaSui01/askflow/config"
)

// NewMigratorFromStoreConfig builds a migrator for the configured session
// store. Only the SQL backends carry schema; memory, redis and mongo
// stores reject with an error.
func NewMigratorFromStoreConfig(cfg config.StoreConfig) (*SchemaMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("store type %q does not use schema migrations", cfg.Type)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  storeURL(dbType, cfg.DSN),
	})
}

// NewMigratorFromURL builds a migrator from an explicit dialect name and
// connection URL.
func NewMigratorFromURL(dbType, dbURL string) (*SchemaMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
	})
}

// storeURL converts the session store DSN into a database/sql connection
// string. The SQLite DSN is a bare file path in the store configuration
// and gains the file: scheme here; the mysql and postgres DSNs pass
// through unchanged.
func storeURL(dbType DatabaseType, dsn string) string {
	if dbType == DatabaseTypeSQLite && !strings.HasPrefix(dsn, "file:") {
		return "file:" + dsn + "?mode=rwc"
	}
	return dsn
}
