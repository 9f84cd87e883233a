package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'technician'
                  CHECK (role IN ('admin', 'coordinator', 'warehouseman', 'technician')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS locations (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS user_locations (
    user_id     INTEGER NOT NULL REFERENCES users(id),
    location_id INTEGER NOT NULL REFERENCES locations(id),
    PRIMARY KEY (user_id, location_id)
);

CREATE TABLE IF NOT EXISTS material_definitions (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    category   TEXT NOT NULL DEFAULT '',
    index_code TEXT NOT NULL DEFAULT '',
    unit       TEXT NOT NULL DEFAULT 'pcs',
    unit_price TEXT NOT NULL DEFAULT '0',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS items (
    id                     INTEGER PRIMARY KEY,
    kind                   TEXT NOT NULL CHECK (kind IN ('device', 'material')),
    name                   TEXT NOT NULL,
    category               TEXT NOT NULL DEFAULT '',
    serial_number          TEXT,
    material_definition_id INTEGER REFERENCES material_definitions(id),
    quantity               INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
    unit                   TEXT NOT NULL DEFAULT '',
    unit_price             TEXT NOT NULL DEFAULT '0',
    status                 TEXT NOT NULL CHECK (status IN (
                               'available', 'assigned', 'assigned_to_order',
                               'collected_from_client', 'returned',
                               'returned_to_operator', 'transfer')),
    assigned_to_id         INTEGER REFERENCES users(id),
    location_id            INTEGER REFERENCES locations(id),
    photo                  BLOB,
    photo_mime             TEXT,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (
        (kind = 'device' AND material_definition_id IS NULL AND quantity = 1)
        OR (kind = 'material' AND serial_number IS NULL AND material_definition_id IS NOT NULL)
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_serial
    ON items(serial_number) WHERE serial_number IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_items_owner
    ON items(assigned_to_id, kind, status);

CREATE INDEX IF NOT EXISTS idx_items_location
    ON items(location_id, kind, status);

CREATE TABLE IF NOT EXISTS orders (
    id             INTEGER PRIMARY KEY,
    number         TEXT NOT NULL UNIQUE,
    type           TEXT NOT NULL CHECK (type IN ('installation', 'service', 'outage')),
    status         TEXT NOT NULL DEFAULT 'pending'
                   CHECK (status IN ('pending', 'assigned', 'completed', 'not_completed', 'canceled')),
    client         TEXT NOT NULL DEFAULT '',
    address        TEXT NOT NULL DEFAULT '',
    assigned_to_id INTEGER REFERENCES users(id),
    notes          TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    completed_at   DATETIME,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS order_settlements (
    id       INTEGER PRIMARY KEY,
    order_id INTEGER NOT NULL REFERENCES orders(id),
    code     TEXT NOT NULL,
    quantity INTEGER NOT NULL CHECK (quantity > 0)
);

CREATE TABLE IF NOT EXISTS order_materials (
    id                     INTEGER PRIMARY KEY,
    order_id               INTEGER NOT NULL REFERENCES orders(id),
    material_definition_id INTEGER NOT NULL REFERENCES material_definitions(id),
    name                   TEXT NOT NULL,
    unit                   TEXT NOT NULL,
    unit_price             TEXT NOT NULL DEFAULT '0',
    quantity               INTEGER NOT NULL CHECK (quantity > 0)
);

CREATE TABLE IF NOT EXISTS order_equipment (
    order_id INTEGER NOT NULL REFERENCES orders(id),
    item_id  INTEGER NOT NULL REFERENCES items(id),
    role     TEXT NOT NULL CHECK (role IN ('installed', 'issued', 'collected')),
    PRIMARY KEY (order_id, item_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_order_equipment_consumed
    ON order_equipment(item_id) WHERE role != 'collected';

CREATE TABLE IF NOT EXISTS order_services (
    id              INTEGER PRIMARY KEY,
    order_id        INTEGER NOT NULL REFERENCES orders(id),
    type            TEXT NOT NULL,
    device_id       INTEGER REFERENCES items(id),
    device_serial   TEXT NOT NULL DEFAULT '',
    device_category TEXT NOT NULL DEFAULT '',
    client_declared INTEGER NOT NULL DEFAULT 0,
    download_mbps   REAL,
    upload_mbps     REAL,
    signal_dbm      REAL,
    notes           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS order_service_extra_devices (
    id         INTEGER PRIMARY KEY,
    service_id INTEGER NOT NULL REFERENCES order_services(id) ON DELETE CASCADE,
    item_id    INTEGER REFERENCES items(id),
    name       TEXT NOT NULL DEFAULT '',
    category   TEXT NOT NULL DEFAULT '',
    serial     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS order_history (
    id              INTEGER PRIMARY KEY,
    order_id        INTEGER NOT NULL REFERENCES orders(id),
    changed_by      INTEGER REFERENCES users(id),
    changed_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    previous_status TEXT NOT NULL,
    new_status      TEXT NOT NULL,
    notes           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS history (
    id               INTEGER PRIMARY KEY,
    item_id          INTEGER NOT NULL REFERENCES items(id),
    action           TEXT NOT NULL CHECK (action IN (
                         'received', 'issued', 'assigned_to_order', 'collected_from_client',
                         'returned', 'returned_to_operator', 'returned_to_technician', 'transfer')),
    performed_by     INTEGER REFERENCES users(id),
    performed_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    quantity         INTEGER,
    order_id         INTEGER REFERENCES orders(id),
    assigned_to_id   INTEGER REFERENCES users(id),
    from_location_id INTEGER REFERENCES locations(id),
    to_location_id   INTEGER REFERENCES locations(id),
    notes            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_history_item ON history(item_id, performed_at);
CREATE INDEX IF NOT EXISTS idx_history_order ON history(order_id);

CREATE TABLE IF NOT EXISTS pending_transfers (
    id           INTEGER PRIMARY KEY,
    kind         TEXT NOT NULL CHECK (kind IN ('device', 'material')),
    item_id      INTEGER NOT NULL REFERENCES items(id),
    from_user_id INTEGER NOT NULL REFERENCES users(id),
    to_user_id   INTEGER NOT NULL REFERENCES users(id),
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    status       TEXT NOT NULL DEFAULT 'requested'
                 CHECK (status IN ('requested', 'confirmed', 'rejected', 'canceled')),
    requested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    resolved_at  DATETIME,
    resolved_by  INTEGER REFERENCES users(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_transfers_device_open
    ON pending_transfers(item_id) WHERE kind = 'device' AND status = 'requested';

CREATE TABLE IF NOT EXISTS transfer_batches (
    id               INTEGER PRIMARY KEY,
    number           TEXT NOT NULL UNIQUE,
    from_location_id INTEGER NOT NULL REFERENCES locations(id),
    to_location_id   INTEGER NOT NULL REFERENCES locations(id),
    status           TEXT NOT NULL DEFAULT 'requested'
                     CHECK (status IN ('requested', 'received', 'rejected', 'canceled')),
    notes            TEXT NOT NULL DEFAULT '',
    requested_by     INTEGER REFERENCES users(id),
    requested_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    resolved_by      INTEGER REFERENCES users(id),
    resolved_at      DATETIME
);

CREATE TABLE IF NOT EXISTS transfer_lines (
    id                     INTEGER PRIMARY KEY,
    batch_id               INTEGER NOT NULL REFERENCES transfer_batches(id),
    kind                   TEXT NOT NULL CHECK (kind IN ('device', 'material')),
    item_id                INTEGER REFERENCES items(id),
    material_definition_id INTEGER REFERENCES material_definitions(id),
    name                   TEXT NOT NULL,
    category               TEXT NOT NULL DEFAULT '',
    index_code             TEXT NOT NULL DEFAULT '',
    unit                   TEXT NOT NULL DEFAULT '',
    quantity               INTEGER NOT NULL CHECK (quantity > 0)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
