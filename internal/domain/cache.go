package domain

import (
	"encoding/json"
	"time"
)

// CacheEntry is a cached API response, keyed by request path.
type CacheEntry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Backup is a point-in-time copy of the admin-domain keys.
type Backup struct {
	ID        string                     `json:"id"`
	Timestamp time.Time                  `json:"timestamp"`
	Data      map[string]json.RawMessage `json:"data"`
	Size      int                        `json:"size"`
}
