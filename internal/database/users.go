package database

import (
	"context"
	"fmt"
	"time"

	"studyroom/internal/models"
)

func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	return upsertUser(ctx, db.DB, user)
}

func upsertUser(ctx context.Context, q querier, user *models.User) error {
	query := `INSERT INTO users (id, username, real_name, role, created_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                username = excluded.username,
                real_name = excluded.real_name,
                role = excluded.role`
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := q.ExecContext(ctx, query, user.ID, user.Username, user.RealName, role, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", user.ID, err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, username, real_name, role, created_at FROM users WHERE id = ?`
	var user models.User
	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.RealName, &user.Role, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

func (db *DB) IsUserBlacklisted(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE user_id = ?)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (db *DB) AddToBlacklist(ctx context.Context, userID int64, reason string) error {
	return addToBlacklist(ctx, db.DB, userID, reason)
}

func addToBlacklist(ctx context.Context, q querier, userID int64, reason string) error {
	query := `INSERT INTO blacklist (user_id, reason, created_at) VALUES (?, ?, ?)
              ON CONFLICT(user_id) DO UPDATE SET reason = excluded.reason`
	if _, err := q.ExecContext(ctx, query, userID, reason, time.Now()); err != nil {
		return fmt.Errorf("failed to blacklist user %d: %w", userID, err)
	}
	return nil
}

func (db *DB) RemoveFromBlacklist(ctx context.Context, userID int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM blacklist WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to remove user %d from blacklist: %w", userID, err)
	}
	return nil
}

func (db *DB) GetBlacklist(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id, reason, created_at FROM blacklist ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get blacklist: %w", err)
	}
	defer rows.Close()

	var entries []models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.UserID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

