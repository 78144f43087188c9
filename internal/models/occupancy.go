package models

import "time"

// ClassroomOccupancy blocks a whole classroom for a window on a date.
type ClassroomOccupancy struct {
	ID          int64     `json:"id"`
	ClassroomID int64     `json:"classroom_id"`
	Date        Date      `json:"date"`
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	OccupiedBy  string    `json:"occupied_by,omitempty"`
	Remarks     string    `json:"remarks,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// OccupancyRequest carries the caller supplied fields of an occupancy.
type OccupancyRequest struct {
	ClassroomID int64     `json:"classroom_id"`
	Date        Date      `json:"date"`
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	OccupiedBy  string    `json:"occupied_by"`
	Remarks     string    `json:"remarks"`
}

// PlacementChanged reports whether r moves o to another classroom, date or window.
func (r OccupancyRequest) PlacementChanged(o *ClassroomOccupancy) bool {
	return r.ClassroomID != o.ClassroomID ||
		r.Date != o.Date ||
		r.StartTime != o.StartTime ||
		r.EndTime != o.EndTime
}
