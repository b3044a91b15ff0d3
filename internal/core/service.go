package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/CsvEditor/internal/config"
	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
	"github.com/JonMunkholm/CsvEditor/internal/logging"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions tables are open.
	ErrTooManySessions = errors.New("too many open sessions")

	// ErrNoColumns is returned when an empty table is requested without headers.
	ErrNoColumns = fmt.Errorf("%w: at least one column is required", csvtable.ErrInvalidInput)
)

// untitledFileName names tables created from scratch rather than loaded.
const untitledFileName = "untitled.csv"

// Service owns the open editing sessions.
type Service struct {
	cfg         config.SessionConfig
	opts        csvtable.Options
	exportName  string
	eventBuffer int

	limiter *LoadLimiter
	audit   AuditStore
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service. A nil store selects an in-memory audit log.
func NewService(cfg *config.Config, store AuditStore) (*Service, error) {
	opts, err := cfg.CSV.Options()
	if err != nil {
		return nil, fmt.Errorf("csv dialect: %w", err)
	}
	if store == nil {
		store = NewMemoryAuditStore(cfg.Audit.MemoryCapacity)
	}

	buffer := cfg.Session.EventBuffer
	if buffer <= 0 {
		buffer = 32
	}

	return &Service{
		cfg:         cfg.Session,
		opts:        opts,
		exportName:  cfg.CSV.ExportFileName,
		eventBuffer: buffer,
		limiter:     NewLoadLimiter(cfg.Session.MaxConcurrentLoads, cfg.Session.LoadWaitTime),
		audit:       store,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}, nil
}

// Options returns the dialect used for parsing and export.
func (s *Service) Options() csvtable.Options {
	return s.opts
}

// LoadFile reads a dropped file, parses it and opens a session on it.
// The report describes rows that were dropped, padded or truncated.
func (s *Service) LoadFile(ctx context.Context, fileName string, r io.Reader) (*Session, csvtable.Report, error) {
	var report csvtable.Report

	if err := CheckFileName(fileName); err != nil {
		return nil, report, err
	}
	if err := s.checkCapacity(); err != nil {
		return nil, report, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, report, err
	}
	defer s.limiter.Release()

	start := s.now()

	text, err := DecodeText(r, s.cfg.MaxFileSize)
	if err != nil {
		return nil, report, fmt.Errorf("load %s: %w", fileName, err)
	}

	table, report, err := csvtable.ParseWithReport(text, s.opts)
	if err != nil {
		return nil, report, fmt.Errorf("parse %s: %w", fileName, err)
	}

	sess, err := s.register(fileName, table)
	if err != nil {
		return nil, report, err
	}

	entry := newAuditEntry(ctx, ActionLoad, sess, s.now())
	entry.RowsAffected = table.Len()
	entry.Reason = fmt.Sprintf("Loaded %s: %d rows, %d blank dropped, %d padded, %d truncated",
		fileName, table.Len(), report.DroppedBlank, report.Padded, report.Truncated)
	s.recordAudit(ctx, entry)

	logging.WithFields(logging.WithSession(ctx, sess.ID),
		"file", fileName,
		"rows", table.Len(),
		"columns", table.Width(),
		"dropped_blank", report.DroppedBlank,
		"unterminated_quote", report.UnterminatedQuote,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	).Info("file loaded")

	return sess, report, nil
}

// NewSession opens an empty table with the given column names.
func (s *Service) NewSession(ctx context.Context, headers []string) (*Session, error) {
	if len(headers) == 0 {
		return nil, ErrNoColumns
	}

	sess, err := s.register(untitledFileName, csvtable.NewTable(headers))
	if err != nil {
		return nil, err
	}

	entry := newAuditEntry(ctx, ActionCreate, sess, s.now())
	entry.Reason = fmt.Sprintf("Created table with %d columns", len(headers))
	s.recordAudit(ctx, entry)

	logging.WithFields(logging.WithSession(ctx, sess.ID), "columns", len(headers)).
		Info("table created")

	return sess, nil
}

// Session looks up an open session.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// CloseSession discards a session and ends its subscriptions.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	sess, err := s.remove(id)
	if err != nil {
		return err
	}
	if !sess.close() {
		return nil
	}

	s.recordAudit(ctx, newAuditEntry(ctx, ActionClose, sess, s.now()))
	logging.FromContext(logging.WithSession(ctx, id)).Info("session closed")
	return nil
}

// SessionInfo summarises an open session.
type SessionInfo struct {
	ID       string    `json:"id"`
	FileName string    `json:"fileName"`
	Rows     int       `json:"rows"`
	Columns  int       `json:"columns"`
	LastUsed time.Time `json:"lastUsed"`
}

// Sessions lists open sessions, most recently used first.
func (s *Service) Sessions() []SessionInfo {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:       sess.ID,
			FileName: sess.FileName,
			Rows:     sess.table.Len(),
			Columns:  sess.table.Width(),
			LastUsed: sess.lastUsed,
		})
		sess.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastUsed.After(infos[j].LastUsed)
	})
	return infos
}

// History returns recent audit entries for one session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	entries, err := s.audit.Recent(ctx, AuditFilter{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	return entries, nil
}

// LimiterStatus reports load slot usage.
func (s *Service) LimiterStatus() LoadLimiterStatus {
	return s.limiter.Status()
}

// Shutdown waits for in-flight loads, then closes every session so that
// event streams end.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
	}
	return err
}

func (s *Service) checkCapacity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		return fmt.Errorf("%w (limit %d)", ErrTooManySessions, s.cfg.MaxSessions)
	}
	return nil
}

func (s *Service) register(fileName string, table *csvtable.Table) (*Session, error) {
	sess := newSession(s, uuid.NewString(), fileName, table)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, s.cfg.MaxSessions)
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Service) remove(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return sess, nil
}

// recordAudit writes an entry, logging rather than returning failures so a
// database outage never blocks editing.
func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		logging.FromContext(logging.WithSession(ctx, entry.SessionID)).Warn("audit record failed",
			"action", entry.Action,
			"error", err,
		)
	}
}
