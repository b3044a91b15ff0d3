package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionLoad      AuditAction = "load"
	ActionCreate    AuditAction = "create"
	ActionCellEdit  AuditAction = "cell_edit"
	ActionRowAdd    AuditAction = "row_add"
	ActionRowDelete AuditAction = "row_delete"
	ActionExport    AuditAction = "export"
	ActionClose     AuditAction = "close"
	ActionExpire    AuditAction = "expire"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// DefaultHistoryLimit caps history queries that do not set a limit.
const DefaultHistoryLimit = 50

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string        `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	SessionID    string        `json:"sessionId"`
	FileName     string        `json:"fileName,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	Row          *int          `json:"row,omitempty"`
	ColumnName   string        `json:"columnName,omitempty"`
	OldValue     string        `json:"oldValue,omitempty"`
	NewValue     string        `json:"newValue,omitempty"`
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditFilter narrows a history query. Zero fields match everything.
type AuditFilter struct {
	SessionID string
	Action    AuditAction
	Limit     int
}

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}

func (f AuditFilter) matches(e AuditEntry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// AuditStore persists audit entries.
// Implementations must be safe for concurrent use.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
	Recent(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// auditSeverity returns the appropriate severity for an action.
func auditSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionRowDelete, ActionExpire:
		return SeverityHigh
	case ActionCellEdit, ActionRowAdd:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// newAuditEntry stamps an entry with an ID, severity, time and the request
// metadata carried by ctx.
func newAuditEntry(ctx context.Context, action AuditAction, sess *Session, now time.Time) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Severity:  auditSeverity(action),
		SessionID: sess.ID,
		FileName:  sess.FileName,
		IPAddress: IPAddressFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		CreatedAt: now,
	}
}

// MemoryAuditStore keeps the most recent entries in a ring buffer.
// It is the default store when no database is configured.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
	next    int
	full    bool
}

// NewMemoryAuditStore creates a store holding up to capacity entries.
func NewMemoryAuditStore(capacity int) *MemoryAuditStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAuditStore{entries: make([]AuditEntry, capacity)}
}

// Record appends an entry, overwriting the oldest once full.
func (m *MemoryAuditStore) Record(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns matching entries, newest first.
func (m *MemoryAuditStore) Recent(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.next
	if m.full {
		count = len(m.entries)
	}

	limit := filter.limit()
	result := make([]AuditEntry, 0, min(limit, count))
	for i := 0; i < count && len(result) < limit; i++ {
		idx := (m.next - 1 - i + len(m.entries)) % len(m.entries)
		if e := m.entries[idx]; filter.matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}
