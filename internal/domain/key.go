package domain

import "time"

// Key is one distributable access key from the pool.
type Key struct {
	ID        string     `json:"id"`
	Value     string     `json:"key"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created"`
}

// PoolStats summarises the pool for operators.
type PoolStats struct {
	Total     int `json:"total"`
	Claimed   int `json:"claimed"`
	Available int `json:"available"`
}
