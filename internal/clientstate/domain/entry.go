package domain

import "time"

// Entry is one durable client record (the session, the cached user location, ...).
// Value is opaque to storage; owners encode and optionally seal it.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
