package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyroom/internal/models"
)

const occupancyColumns = `o.id, o.classroom_id, o.occupancy_date, o.start_time, o.end_time, o.type, o.reason,
                 o.occupied_by, o.remarks, o.status, o.created_at, o.updated_at, o.version`

func scanOccupancy(row rowScanner) (*models.ClassroomOccupancy, error) {
	var o models.ClassroomOccupancy
	err := row.Scan(&o.ID, &o.ClassroomID, &o.Date, &o.StartTime, &o.EndTime, &o.Type, &o.Reason,
		&o.OccupiedBy, &o.Remarks, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (db *DB) GetOccupancy(ctx context.Context, id int64) (*models.ClassroomOccupancy, error) {
	o, err := scanOccupancy(db.QueryRowContext(ctx, `SELECT `+occupancyColumns+` FROM classroom_occupancies o WHERE o.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "occupancy", id)
	}
	return o, nil
}

// IsClassroomOccupied reports whether a SCHEDULED or ONGOING occupancy of the
// classroom intersects [start, end) on date.
func (db *DB) IsClassroomOccupied(
	ctx context.Context, classroomID int64, date models.Date, start, end models.TimeOfDay,
) (bool, error) {
	return isClassroomOccupied(ctx, db.DB, classroomID, date, start, end, 0)
}

// isClassroomOccupied ignores the occupancy with id excludeID when non-zero.
func isClassroomOccupied(
	ctx context.Context, q querier, classroomID int64, date models.Date, start, end models.TimeOfDay, excludeID int64,
) (bool, error) {
	query := `SELECT EXISTS(
                SELECT 1 FROM classroom_occupancies
                WHERE classroom_id = ? AND occupancy_date = ? AND status IN (?, ?)
                  AND NOT (end_time <= ? OR start_time >= ?)
                  AND id <> ?)`
	var exists bool
	err := q.QueryRowContext(ctx, query, classroomID, date, models.OccupancyScheduled, models.OccupancyOngoing,
		start, end, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check classroom occupancy: %w", err)
	}
	return exists, nil
}

// CreateOccupancyChecked inserts a SCHEDULED occupancy unless an active one
// already overlaps it.
func (db *DB) CreateOccupancyChecked(ctx context.Context, o *models.ClassroomOccupancy) error {
	now := nowOr(o.CreatedAt)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		occupied, err := isClassroomOccupied(ctx, tx, o.ClassroomID, o.Date, o.StartTime, o.EndTime, 0)
		if err != nil {
			return err
		}
		if occupied {
			return ErrClassroomOccupied
		}

		query := `INSERT INTO classroom_occupancies (
                    classroom_id, occupancy_date, start_time, end_time, type, reason,
                    occupied_by, remarks, status, created_at, updated_at, version
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
		result, err := tx.ExecContext(ctx, query,
			o.ClassroomID, o.Date, o.StartTime, o.EndTime, o.Type, o.Reason,
			o.OccupiedBy, o.Remarks, models.OccupancyScheduled, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert occupancy: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		o.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	o.Status = models.OccupancyScheduled
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 1
	return nil
}

// UpdateOccupancyChecked writes o over the stored row carrying o.Version.
// With recheck the conflict check runs first, ignoring o itself.
func (db *DB) UpdateOccupancyChecked(ctx context.Context, o *models.ClassroomOccupancy, recheck bool) error {
	now := nowOr(o.UpdatedAt)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if recheck && models.IsActiveOccupancyStatus(o.Status) {
			occupied, err := isClassroomOccupied(ctx, tx, o.ClassroomID, o.Date, o.StartTime, o.EndTime, o.ID)
			if err != nil {
				return err
			}
			if occupied {
				return ErrClassroomOccupied
			}
		}

		query := `UPDATE classroom_occupancies SET
                    classroom_id = ?, occupancy_date = ?, start_time = ?, end_time = ?,
                    type = ?, reason = ?, occupied_by = ?, remarks = ?,
                    updated_at = ?, version = version + 1
                  WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query,
			o.ClassroomID, o.Date, o.StartTime, o.EndTime,
			o.Type, o.Reason, o.OccupiedBy, o.Remarks,
			now, o.ID, o.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update occupancy %d: %w", o.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows == 0 {
			return ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.UpdatedAt = now
	o.Version++
	return nil
}

// CancelOccupancy soft-cancels an occupancy; cancelling twice is a no-op.
func (db *DB) CancelOccupancy(ctx context.Context, id int64) error {
	query := `UPDATE classroom_occupancies
              SET status = ?, updated_at = ?, version = version + 1
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query, models.OccupancyCancelled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel occupancy %d: %w", id, err)
	}
	return requireRow(result, "occupancy", id)
}

func (db *DB) DeleteOccupancy(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM classroom_occupancies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete occupancy %d: %w", id, err)
	}
	return requireRow(result, "occupancy", id)
}

func requireRow(result sql.Result, entity string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return notFound(sql.ErrNoRows, entity, id)
	}
	return nil
}

// ListOccupanciesByClassroom returns every occupancy of the classroom on
// date, cancelled ones included.
func (db *DB) ListOccupanciesByClassroom(
	ctx context.Context, classroomID int64, date models.Date,
) ([]*models.ClassroomOccupancy, error) {
	query := `SELECT ` + occupancyColumns + ` FROM classroom_occupancies o
              WHERE o.classroom_id = ? AND o.occupancy_date = ?
              ORDER BY o.start_time, o.id`
	return db.queryOccupancies(ctx, query, classroomID, date)
}

// ListOccupanciesByBuilding returns the active occupancies of a building on date.
func (db *DB) ListOccupanciesByBuilding(
	ctx context.Context, buildingID int64, date models.Date,
) ([]*models.ClassroomOccupancy, error) {
	query := `SELECT ` + occupancyColumns + ` FROM classroom_occupancies o
              JOIN classrooms c ON c.id = o.classroom_id
              WHERE c.building_id = ? AND o.occupancy_date = ? AND o.status IN (?, ?)
              ORDER BY c.room_number, o.start_time, o.id`
	return db.queryOccupancies(ctx, query, buildingID, date, models.OccupancyScheduled, models.OccupancyOngoing)
}

// ListOccupanciesByDateRange returns active occupancies with from <= date <= to.
func (db *DB) ListOccupanciesByDateRange(ctx context.Context, from, to models.Date) ([]*models.ClassroomOccupancy, error) {
	query := `SELECT ` + occupancyColumns + ` FROM classroom_occupancies o
              WHERE o.occupancy_date >= ? AND o.occupancy_date <= ? AND o.status IN (?, ?)
              ORDER BY o.occupancy_date, o.start_time, o.id`
	return db.queryOccupancies(ctx, query, from, to, models.OccupancyScheduled, models.OccupancyOngoing)
}

func (db *DB) queryOccupancies(ctx context.Context, query string, args ...interface{}) ([]*models.ClassroomOccupancy, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list occupancies: %w", err)
	}
	defer rows.Close()

	occupancies := make([]*models.ClassroomOccupancy, 0)
	for rows.Next() {
		o, err := scanOccupancy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occupancy: %w", err)
		}
		occupancies = append(occupancies, o)
	}
	return occupancies, rows.Err()
}
