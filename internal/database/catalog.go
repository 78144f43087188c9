package database

import (
	"context"
	"database/sql"
	"fmt"

	"studyroom/internal/models"
)

const seatColumns = `s.id, s.classroom_id, s.seat_number, s.seat_row, s.seat_col`

func (db *DB) GetBuildingByID(ctx context.Context, id int64) (*models.Building, error) {
	var b models.Building
	err := db.QueryRowContext(ctx, `SELECT id, name, code, floors FROM buildings WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Code, &b.Floors)
	if err != nil {
		return nil, notFound(err, "building", id)
	}
	return &b, nil
}

func (db *DB) GetClassroomByID(ctx context.Context, id int64) (*models.Classroom, error) {
	var c models.Classroom
	query := `SELECT id, building_id, room_number, floor, capacity, status FROM classrooms WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.BuildingID, &c.RoomNumber, &c.Floor, &c.Capacity, &c.Status)
	if err != nil {
		return nil, notFound(err, "classroom", id)
	}
	return &c, nil
}

func (db *DB) GetSeatByID(ctx context.Context, id int64) (*models.Seat, error) {
	var s models.Seat
	err := db.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats s WHERE s.id = ?`, id).
		Scan(&s.ID, &s.ClassroomID, &s.SeatNumber, &s.Row, &s.Col)
	if err != nil {
		return nil, notFound(err, "seat", id)
	}
	return &s, nil
}

// ListSeatsByClassroom returns the seats of a classroom ordered by seat number.
func (db *DB) ListSeatsByClassroom(ctx context.Context, classroomID int64) ([]*models.Seat, error) {
	query := `SELECT ` + seatColumns + ` FROM seats s WHERE s.classroom_id = ? ORDER BY s.seat_number, s.id`
	return db.querySeats(ctx, query, classroomID)
}

// ListSeatsByBuilding returns the seats of every classroom in a building.
func (db *DB) ListSeatsByBuilding(ctx context.Context, buildingID int64) ([]*models.Seat, error) {
	query := `SELECT ` + seatColumns + `
              FROM seats s JOIN classrooms c ON c.id = s.classroom_id
              WHERE c.building_id = ?
              ORDER BY c.room_number, s.seat_number, s.id`
	return db.querySeats(ctx, query, buildingID)
}

func (db *DB) querySeats(ctx context.Context, query string, args ...interface{}) ([]*models.Seat, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	defer rows.Close()

	var seats []*models.Seat
	for rows.Next() {
		s := &models.Seat{}
		if err := rows.Scan(&s.ID, &s.ClassroomID, &s.SeatNumber, &s.Row, &s.Col); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// SeedCatalog upserts the reference data in one transaction.
// Rows absent from the catalog are left untouched.
func (db *DB) SeedCatalog(ctx context.Context, catalog *models.Catalog) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range catalog.Buildings {
			b := &catalog.Buildings[i]
			_, err := tx.ExecContext(ctx, `INSERT INTO buildings (id, name, code, floors) VALUES (?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET name = excluded.name, code = excluded.code, floors = excluded.floors`,
				b.ID, b.Name, b.Code, b.Floors)
			if err != nil {
				return fmt.Errorf("seed building %d: %w", b.ID, err)
			}
		}
		for i := range catalog.Classrooms {
			c := &catalog.Classrooms[i]
			status := c.Status
			if status == "" {
				status = models.ClassroomOpen
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO classrooms (id, building_id, room_number, floor, capacity, status)
                VALUES (?, ?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET building_id = excluded.building_id, room_number = excluded.room_number,
                    floor = excluded.floor, capacity = excluded.capacity, status = excluded.status`,
				c.ID, c.BuildingID, c.RoomNumber, c.Floor, c.Capacity, status)
			if err != nil {
				return fmt.Errorf("seed classroom %d: %w", c.ID, err)
			}
		}
		for i := range catalog.Seats {
			s := &catalog.Seats[i]
			_, err := tx.ExecContext(ctx, `INSERT INTO seats (id, classroom_id, seat_number, seat_row, seat_col)
                VALUES (?, ?, ?, ?, ?)
                ON CONFLICT(id) DO UPDATE SET classroom_id = excluded.classroom_id, seat_number = excluded.seat_number,
                    seat_row = excluded.seat_row, seat_col = excluded.seat_col`,
				s.ID, s.ClassroomID, s.SeatNumber, s.Row, s.Col)
			if err != nil {
				return fmt.Errorf("seed seat %d: %w", s.ID, err)
			}
		}
		for i := range catalog.Users {
			if err := upsertUser(ctx, tx, &catalog.Users[i]); err != nil {
				return err
			}
		}
		for _, e := range catalog.Blacklist {
			if err := addToBlacklist(ctx, tx, e.UserID, e.Reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Info().
		Int("buildings", len(catalog.Buildings)).
		Int("classrooms", len(catalog.Classrooms)).
		Int("seats", len(catalog.Seats)).
		Int("users", len(catalog.Users)).
		Msg("catalog seeded")
	return nil
}
