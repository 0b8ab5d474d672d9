package domain

import "time"

type ExpireReason string

const (
	ExpireReasonTimeout  ExpireReason = "timeout"
	ExpireReasonEvicted  ExpireReason = "evicted"
	ExpireReasonShutdown ExpireReason = "shutdown"
	ExpireReasonFailed   ExpireReason = "failed"
)

// SessionState is a point-in-time copy of an interactive session.
type SessionState struct {
	Key        ItemKey
	Ref        MessageRef
	Liked      bool
	Reposted   bool
	Translated bool
	Alive      bool
	Deadline   time.Time
}

// RelayStatus is the observable state of the ingestion loop.
type RelayStatus struct {
	Running      bool
	Watermark    time.Time
	ErrorCount   int
	MaxErrors    int
	LastCycleAt  time.Time
	LastError    string
	Dispatched   int64
	LiveSessions []SessionState
	UpdatedAt    time.Time
}
