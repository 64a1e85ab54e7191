package auth

import "time"

// User is a staff account. Sign-in uses a numeric PIN, stored bcrypt-hashed.
type User struct {
	ID        int64
	Username  string
	Name      string
	PINHash   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
