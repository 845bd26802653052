package commands

import (
	"database/sql"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/db"
	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

// openDatabase opens and migrates the scheduler database. If dbPath is
// empty the configured path is used.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "gapsched.db"
		} else {
			dbPath = path
		}
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
