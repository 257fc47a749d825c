package migration

import (
	"fmt"
	"strings"

	appconfig "github.com/BaSui01/llmflow/config"
	"github.com/BaSui01/llmflow/journal"
)

// NewMigratorFromConfig creates a new migrator from application configuration
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromJournalConfig(cfg.Journal)
}

// NewMigratorFromJournalConfig creates a new migrator from the call journal
// configuration. The DSN is the same one the journal store dials, so the
// schema always lands in the database the store writes to.
func NewMigratorFromJournalConfig(jc appconfig.JournalConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(jc.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	dsn := jc.EffectiveDSN()
	if dsn == "" {
		dsn = journal.DefaultOptions().DSN
	}
	if dbType == DatabaseTypeMySQL {
		dsn = ensureMultiStatements(dsn)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dsn,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	if dt == DatabaseTypeMySQL {
		dbURL = ensureMultiStatements(dbURL)
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}

// ensureMultiStatements appends multiStatements=true to a MySQL DSN when
// missing. golang-migrate needs it to run multi-statement migration files.
func ensureMultiStatements(dsn string) string {
	if strings.Contains(dsn, "multiStatements=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "multiStatements=true"
}
