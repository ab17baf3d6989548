package domain

import "time"

// User is an account holding a BASE balance.
// Corresponds to users table in PostgreSQL.
type User struct {
	ID           int64      // BIGSERIAL primary key
	PublicID     string     // 21-char opaque identifier
	Username     string     // unique
	Email        string     // unique
	Balance      float64    // BASE balance, never negative
	CreatedAt    time.Time  // registration time
	LastLogin    *time.Time // nil until first login
	LastAdWatch  time.Time  // last engagement claim (or reset)
	AdCountToday int        // claims made on LastAdWatch's date
	Version      int64      // optimistic concurrency version
}

// IsSystem reports whether u is the commission-collecting system account.
func (u *User) IsSystem() bool {
	return u.PublicID == SystemPublicID
}
