package gate

import "time"

// Snapshot is the immutable capture of one inbound request that every stage
// inspects. Body holds at most MaxBodyBytes+1 bytes.
type Snapshot struct {
	ClientID string
	Method   string
	Path     string
	Body     []byte
	Arrived  time.Time
}
