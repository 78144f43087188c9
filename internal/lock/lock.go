// Package lock provides per-key mutual exclusion for booking and occupancy
// writes, in-process or shared through Redis.
package lock

import (
	"errors"
	"fmt"
	"sort"

	"studyroom/internal/models"
)

// ErrLockTimeout is returned when a key could not be acquired within the wait budget.
var ErrLockTimeout = errors.New("lock wait exceeded")

func SeatKey(seatID int64, date models.Date) string {
	return fmt.Sprintf("booking:seat:%d:%s", seatID, date)
}

func UserKey(userID int64, date models.Date) string {
	return fmt.Sprintf("booking:user:%d:%s", userID, date)
}

func ClassroomKey(classroomID int64, date models.Date) string {
	return fmt.Sprintf("occupancy:classroom:%d:%s", classroomID, date)
}

// normalize sorts and de-duplicates keys so every caller acquires in the
// same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
