package models

import "time"

type User struct {
	ID        int64     `json:"id" yaml:"id"`
	Username  string    `json:"username" yaml:"username"`
	RealName  string    `json:"real_name" yaml:"real_name"`
	Role      string    `json:"role" yaml:"role"` // member, admin
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

type BlacklistEntry struct {
	UserID    int64     `json:"user_id" yaml:"user_id"`
	Reason    string    `json:"reason" yaml:"reason"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}
