package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/fieldstock/internal/model"
)

const userColumns = `id, username, password_hash, role, created_at, deleted_at`

// CreateUser creates a new user.
func CreateUser(ctx context.Context, db *sql.DB, username, passwordHash, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, badRequest("invalid role %q", role)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)`,
		username, passwordHash, role,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID, with its location assignments.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil || u == nil {
		return u, err
	}

	u.LocationIDs, err = userLocationIDs(ctx, db, u.ID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername returns a user by username (including soft-deleted for auth checks).
func GetUserByUsername(ctx context.Context, db *sql.DB, username string) (*model.User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?
		 ORDER BY deleted_at IS NULL DESC, id DESC LIMIT 1`, username,
	))
}

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users, optionally filtered by role.
func ListUsers(ctx context.Context, db *sql.DB, role string) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	var args []any
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserRole changes a user's role.
func UpdateUserRole(ctx context.Context, db *sql.DB, id int64, role string) error {
	if !model.ValidRole(role) {
		return badRequest("invalid role %q", role)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE users SET role = ? WHERE id = ? AND deleted_at IS NULL`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// DeleteUser soft-deletes a user. Fails while the user still holds stock.
func DeleteUser(ctx context.Context, db *sql.DB, id int64) error {
	var held int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE assigned_to_id = ? AND quantity > 0`, id,
	).Scan(&held)
	if err != nil {
		return fmt.Errorf("checking user stock: %w", err)
	}
	if held > 0 {
		return conflict("cannot delete user: still holds %d stock rows", held)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// SetUserLocations replaces the set of locations a user is assigned to.
func SetUserLocations(ctx context.Context, db *sql.DB, userID int64, locationIDs []int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_locations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing user locations: %w", err)
	}
	for _, locationID := range locationIDs {
		if _, err := requireLocation(ctx, tx, locationID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_locations (user_id, location_id) VALUES (?, ?)`,
			userID, locationID,
		); err != nil {
			return fmt.Errorf("assigning location: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user locations: %w", err)
	}
	return nil
}

// GetActor resolves an active user into the actor used by ledger operations.
func GetActor(ctx context.Context, db *sql.DB, userID int64) (*model.Actor, error) {
	u, err := GetUser(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.DeletedAt != nil {
		return nil, notFound("user %d not found", userID)
	}
	return &model.Actor{UserID: u.ID, Role: u.Role, LocationIDs: u.LocationIDs}, nil
}

func userLocationIDs(ctx context.Context, db *sql.DB, userID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT location_id FROM user_locations WHERE user_id = ? ORDER BY location_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing user locations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user location: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// requireTechnician loads an active technician inside a transaction.
func requireTechnician(ctx context.Context, tx *sql.Tx, userID int64) (*model.User, error) {
	u := &model.User{}
	err := tx.QueryRowContext(ctx,
		`SELECT id, username, role FROM users WHERE id = ? AND deleted_at IS NULL`, userID,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err == sql.ErrNoRows {
		return nil, notFound("technician %d not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting technician: %w", err)
	}
	if u.Role != model.RoleTechnician {
		return nil, badRequest("user %s is not a technician", u.Username)
	}
	return u, nil
}
