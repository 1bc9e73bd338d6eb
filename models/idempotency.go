package models

import (
	"time"
)

type IdempotencyStatus string

const (
	// IdempotencyStatusLocked marks a key whose first request is still
	// executing. A second request under the same key sees the lock and is
	// rejected as in-progress rather than executed twice.
	IdempotencyStatusLocked IdempotencyStatus = "locked"
	// IdempotencyStatusCompleted marks a key holding a cached successful
	// response ready for verbatim replay.
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord is the stored state for one (route, user, key) triple.
// The fingerprint is the only field compared on a key collision; the cached
// body is replayed, never inspected.
type IdempotencyRecord struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       IdempotencyStatus `json:"status"`
	UserID       string            `json:"userId"`
	ResponseCode int               `json:"responseCode,omitempty"`
	ResponseBody []byte            `json:"responseBody,omitempty"`
	ContentType  string            `json:"contentType,omitempty"`
	LockedAt     time.Time         `json:"lockedAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// LockStale reports whether an unfinished lock is old enough to take over.
// A crashed handler leaves its lock behind; once the window passes a retry
// may proceed instead of seeing in-progress rejections until the record TTL.
func (r *IdempotencyRecord) LockStale(now time.Time, window time.Duration) bool {
	return r.Status == IdempotencyStatusLocked && now.Sub(r.LockedAt) > window
}

// IdempotencyResult is the outcome of claiming a key: either this request
// owns the key and should execute, or a completed record exists whose
// response must be replayed verbatim.
type IdempotencyResult struct {
	IsNew  bool
	Record *IdempotencyRecord
}

// Replay reports whether the caller must serve the cached response instead
// of executing the handler.
func (r *IdempotencyResult) Replay() bool {
	return !r.IsNew && r.Record != nil && r.Record.Status == IdempotencyStatusCompleted
}
