package core

import "time"

// WorkerBinding associates an authenticated user's session with the client
// worker process currently representing them. One binding per user.
//
// A missing binding is a valid state meaning "no worker available".
type WorkerBinding struct {
	UserID    string    `gorm:"primaryKey;size:255" json:"user_id"`
	ClientID  string    `gorm:"size:255;not null;index" json:"client_id"`
	LastSeen  time.Time `gorm:"not null;index" json:"last_seen"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for WorkerBinding.
func (WorkerBinding) TableName() string { return "worker_bindings" }

// Online reports whether the worker heartbeated within the timeout window.
func (b *WorkerBinding) Online(timeout time.Duration) bool {
	if b == nil {
		return false
	}
	return time.Since(b.LastSeen) < timeout
}
