package models

import "fmt"

type Building struct {
	ID     int64  `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Code   string `json:"code" yaml:"code"`
	Floors int    `json:"floors" yaml:"floors"`
}

type Classroom struct {
	ID         int64  `json:"id" yaml:"id"`
	BuildingID int64  `json:"building_id" yaml:"building_id"`
	RoomNumber string `json:"room_number" yaml:"room_number"`
	Floor      int    `json:"floor" yaml:"floor"`
	Capacity   int    `json:"capacity" yaml:"capacity"`
	Status     string `json:"status" yaml:"status"`
}

type Seat struct {
	ID          int64  `json:"id" yaml:"id"`
	ClassroomID int64  `json:"classroom_id" yaml:"classroom_id"`
	SeatNumber  string `json:"seat_number" yaml:"seat_number"`
	Row         int    `json:"row" yaml:"row"`
	Col         int    `json:"col" yaml:"col"`
}

// SeatStatus is a seat labelled for a classroom view.
type SeatStatus struct {
	Seat
	Status string `json:"status"` // AVAILABLE, OCCUPIED
}

// Catalog is the reference data seeded at start-up.
type Catalog struct {
	Buildings  []Building       `yaml:"buildings"`
	Classrooms []Classroom      `yaml:"classrooms"`
	Seats      []Seat           `yaml:"seats"`
	Users      []User           `yaml:"users"`
	Blacklist  []BlacklistEntry `yaml:"blacklist"`
}

// Validate checks ids are positive and unique and that every reference
// points at an entry of the same catalog.
func (c *Catalog) Validate() error {
	buildings := make(map[int64]bool, len(c.Buildings))
	for _, b := range c.Buildings {
		if b.ID <= 0 || buildings[b.ID] {
			return fmt.Errorf("building %d: missing or duplicate id", b.ID)
		}
		buildings[b.ID] = true
	}

	classrooms := make(map[int64]bool, len(c.Classrooms))
	for _, cl := range c.Classrooms {
		if cl.ID <= 0 || classrooms[cl.ID] {
			return fmt.Errorf("classroom %d: missing or duplicate id", cl.ID)
		}
		if !buildings[cl.BuildingID] {
			return fmt.Errorf("classroom %d: unknown building %d", cl.ID, cl.BuildingID)
		}
		classrooms[cl.ID] = true
	}

	seats := make(map[int64]bool, len(c.Seats))
	for _, s := range c.Seats {
		if s.ID <= 0 || seats[s.ID] {
			return fmt.Errorf("seat %d: missing or duplicate id", s.ID)
		}
		if !classrooms[s.ClassroomID] {
			return fmt.Errorf("seat %d: unknown classroom %d", s.ID, s.ClassroomID)
		}
		seats[s.ID] = true
	}

	users := make(map[int64]bool, len(c.Users))
	for _, u := range c.Users {
		if u.ID <= 0 || users[u.ID] {
			return fmt.Errorf("user %d: missing or duplicate id", u.ID)
		}
		users[u.ID] = true
	}
	for _, e := range c.Blacklist {
		if !users[e.UserID] {
			return fmt.Errorf("blacklist: unknown user %d", e.UserID)
		}
	}
	return nil
}
