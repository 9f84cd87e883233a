package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: history lookups by performer for the per-technician audit view.
	`CREATE INDEX IF NOT EXISTS idx_history_performer ON history(performed_by, performed_at)`,
	// Migration 2: open transfers per recipient are listed on every technician login.
	`CREATE INDEX IF NOT EXISTS idx_pending_transfers_to
	     ON pending_transfers(to_user_id) WHERE status = 'requested'`,
}

// Migrate ensures the schema and runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
