package stubserver

import (
	"sync"
	"time"
)

// Log levels used by audit entries.
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

// LogEntry is one audit event.
type LogEntry struct {
	ID        int64     `json:"id"`
	EventTime time.Time `json:"eventTime"`
	Level     string    `json:"level"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Metadata  string    `json:"metadata,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// AuditLog is an append-only event list.
type AuditLog struct {
	mutex      sync.RWMutex
	clock      Clock
	sequenceID int64
	entries    []LogEntry
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog(clock Clock) *AuditLog {
	if clock == nil {
		clock = systemClock{}
	}
	return &AuditLog{clock: clock}
}

// Record appends an entry stamped with the current time.
func (log *AuditLog) Record(entry LogEntry) LogEntry {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	log.sequenceID++
	entry.ID = log.sequenceID
	entry.EventTime = log.clock.Now()
	if entry.Level == "" {
		entry.Level = LogLevelInfo
	}
	log.entries = append(log.entries, entry)
	return entry
}

// Page returns entries newest first.
func (log *AuditLog) Page(page int, size int) PageResponse[LogEntry] {
	log.mutex.RLock()
	newestFirst := make([]LogEntry, len(log.entries))
	for index, entry := range log.entries {
		newestFirst[len(log.entries)-1-index] = entry
	}
	log.mutex.RUnlock()
	return paginate(newestFirst, page, size)
}
