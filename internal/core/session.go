package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
	"github.com/JonMunkholm/CsvEditor/internal/logging"
)

// ErrSessionClosed is returned by operations on a session that has been
// closed or expired while a request still held it.
var ErrSessionClosed = errors.New("session closed")

// ExportContentType is the media type of exported files.
const ExportContentType = "text/csv;charset=utf-8"

// EventType identifies what changed in a session.
type EventType string

const (
	EventCellUpdated EventType = "cell_updated"
	EventRowAdded    EventType = "row_added"
	EventRowDeleted  EventType = "row_deleted"
	EventClosed      EventType = "closed"
)

// Event is broadcast to subscribers after every successful mutation.
// Seq increases by one per change, in the order changes were applied.
// Rows is the row count after the change.
type Event struct {
	Seq    uint64    `json:"seq"`
	Type   EventType `json:"type"`
	Row    int       `json:"row"`
	Col    int       `json:"col"`
	Value  string    `json:"value,omitempty"`
	Values []string  `json:"values,omitempty"`
	Rows   int       `json:"rows"`
}

// Snapshot is a copy of a session's table, safe to hand to encoders.
// Seq is the sequence number of the last change it includes.
type Snapshot struct {
	ID        string     `json:"id"`
	Seq       uint64     `json:"seq"`
	FileName  string     `json:"fileName"`
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Download is a serialized table ready to be delivered as a named file.
type Download struct {
	FileName    string
	ContentType string
	Body        []byte
}

// Session is one open table being edited.
// The engine table is not safe for concurrent use, so every access goes
// through mu.
type Session struct {
	ID        string
	FileName  string
	CreatedAt time.Time

	svc *Service

	mu        sync.Mutex
	table     *csvtable.Table
	updatedAt time.Time
	lastUsed  time.Time
	closed    bool
	seq       uint64

	listenerMu   sync.Mutex
	listeners    map[int]chan Event
	nextListener int
}

func newSession(svc *Service, id, fileName string, table *csvtable.Table) *Session {
	now := svc.now()
	return &Session{
		ID:        id,
		FileName:  fileName,
		CreatedAt: now,
		svc:       svc,
		table:     table,
		updatedAt: now,
		lastUsed:  now,
		listeners: make(map[int]chan Event),
	}
}

// Snapshot returns a deep copy of the headers and rows.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.svc.now()

	return Snapshot{
		ID:        s.ID,
		Seq:       s.seq,
		FileName:  s.FileName,
		Headers:   s.table.Headers(),
		Rows:      s.table.Rows(),
		UpdatedAt: s.updatedAt,
	}
}

// Row returns a copy of one row.
func (s *Session) Row(i int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Row(i)
}

// Len returns the current row count.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Len()
}

// Width returns the column count.
func (s *Session) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Width()
}

// LastUsed reports when the session was last read or changed.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SetCell replaces one cell. Out-of-range indices fail with
// csvtable.ErrOutOfRange and leave the table unchanged.
func (s *Session) SetCell(ctx context.Context, row, col int, value string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	old, _ := s.table.Cell(row, col)
	if err := s.table.SetCell(row, col, value); err != nil {
		s.mu.Unlock()
		return err
	}
	column := s.table.Headers()[col]
	rows := s.touch()
	s.notify(Event{Type: EventCellUpdated, Row: row, Col: col, Value: value, Rows: rows})
	s.mu.Unlock()

	entry := newAuditEntry(ctx, ActionCellEdit, s, s.svc.now())
	entry.Row = &row
	entry.ColumnName = column
	entry.OldValue = old
	entry.NewValue = value
	entry.RowsAffected = 1
	s.svc.recordAudit(ctx, entry)
	return nil
}

// AddRow appends a row built from values, padded with empty cells or
// truncated to the table width. The returned event describes the row as
// stored: its index, its cells and the new row count.
func (s *Session) AddRow(ctx context.Context, values ...string) (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	idx := s.table.AddRow(values...)
	added, _ := s.table.Row(idx)
	rows := s.touch()
	ev := s.notify(Event{Type: EventRowAdded, Row: idx, Values: added, Rows: rows})
	s.mu.Unlock()

	entry := newAuditEntry(ctx, ActionRowAdd, s, s.svc.now())
	entry.Row = &idx
	entry.RowsAffected = 1
	s.svc.recordAudit(ctx, entry)
	return ev, nil
}

// DeleteRow removes a row, keeping the order of the others.
func (s *Session) DeleteRow(ctx context.Context, row int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	removed, _ := s.table.Row(row)
	if err := s.table.DeleteRow(row); err != nil {
		s.mu.Unlock()
		return err
	}
	rows := s.touch()
	s.notify(Event{Type: EventRowDeleted, Row: row, Values: removed, Rows: rows})
	s.mu.Unlock()

	entry := newAuditEntry(ctx, ActionRowDelete, s, s.svc.now())
	entry.Row = &row
	entry.OldValue = strings.Join(removed, " | ")
	entry.RowsAffected = 1
	s.svc.recordAudit(ctx, entry)
	return nil
}

// Export serializes the table with the service dialect.
func (s *Session) Export(ctx context.Context) (Download, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Download{}, fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	var buf bytes.Buffer
	err := csvtable.Write(&buf, s.table, s.svc.opts)
	rows := s.table.Len()
	s.lastUsed = s.svc.now()
	s.mu.Unlock()

	if err != nil {
		return Download{}, fmt.Errorf("export %s: %w", s.ID, err)
	}

	entry := newAuditEntry(ctx, ActionExport, s, s.svc.now())
	entry.RowsAffected = rows
	s.svc.recordAudit(ctx, entry)

	logging.WithFields(logging.WithSession(ctx, s.ID), "rows", rows, "bytes", buf.Len()).
		Info("table exported")

	return Download{
		FileName:    s.svc.exportName,
		ContentType: ExportContentType,
		Body:        buf.Bytes(),
	}, nil
}

// Subscribe registers for change events. The returned function
// unsubscribes; the channel is closed when it runs, when the session
// closes, or when the subscriber falls a full buffer behind. A channel
// closed without an EventClosed means events were missed and the
// subscriber should resync from a fresh Snapshot.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.svc.eventBuffer)

	s.listenerMu.Lock()
	if s.listeners == nil {
		s.listenerMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = ch
	s.listenerMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.listenerMu.Lock()
			defer s.listenerMu.Unlock()
			if c, ok := s.listeners[id]; ok {
				delete(s.listeners, id)
				close(c)
			}
		})
	}
}

// touch must be called with mu held after a mutation.
func (s *Session) touch() int {
	now := s.svc.now()
	s.updatedAt = now
	s.lastUsed = now
	return s.table.Len()
}

// notify stamps ev with the next sequence number and sends it to every
// subscriber without blocking. It must be called with mu held so events
// go out in the order changes were applied.
func (s *Session) notify(ev Event) Event {
	s.seq++
	ev.Seq = s.seq

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for id, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
			// Slow listener: drop it so it resyncs instead of drifting
			delete(s.listeners, id)
			close(ch)
		}
	}
	return ev
}

// close marks the session closed and ends every subscription.
// It reports false if the session was already closed.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.seq++
	closed := Event{Seq: s.seq, Type: EventClosed, Row: -1, Rows: s.table.Len()}
	s.mu.Unlock()

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- closed:
		default:
		}
		close(ch)
	}
	s.listeners = nil
	return true
}
