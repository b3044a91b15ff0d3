package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

func TestMemoryAuditStore_RingBuffer(t *testing.T) {
	store := NewMemoryAuditStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Record(ctx, AuditEntry{ID: fmt.Sprint(i), SessionID: "s", Action: ActionCellEdit})
	}

	got, err := store.Recent(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}

	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if strings.Join(ids, ",") != "4,3,2" {
		t.Errorf("Recent() ids = %v, want newest three [4 3 2]", ids)
	}
}

func TestMemoryAuditStore_Filter(t *testing.T) {
	store := NewMemoryAuditStore(10)
	ctx := context.Background()

	entries := []AuditEntry{
		{ID: "1", SessionID: "a", Action: ActionLoad},
		{ID: "2", SessionID: "b", Action: ActionLoad},
		{ID: "3", SessionID: "a", Action: ActionCellEdit},
		{ID: "4", SessionID: "a", Action: ActionCellEdit},
	}
	for _, e := range entries {
		_ = store.Record(ctx, e)
	}

	tests := []struct {
		name   string
		filter AuditFilter
		want   string
	}{
		{"all", AuditFilter{}, "4,3,2,1"},
		{"by session", AuditFilter{SessionID: "a"}, "4,3,1"},
		{"by action", AuditFilter{Action: ActionLoad}, "2,1"},
		{"both", AuditFilter{SessionID: "a", Action: ActionCellEdit}, "4,3"},
		{"limit", AuditFilter{SessionID: "a", Limit: 2}, "4,3"},
		{"no match", AuditFilter{SessionID: "zzz"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := store.Recent(ctx, tt.filter)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if strings.Join(ids, ",") != tt.want {
				t.Errorf("Recent() = %v, want %s", ids, tt.want)
			}
		})
	}
}

func TestAuditSeverity(t *testing.T) {
	tests := []struct {
		action AuditAction
		want   AuditSeverity
	}{
		{ActionLoad, SeverityLow},
		{ActionExport, SeverityLow},
		{ActionCellEdit, SeverityMedium},
		{ActionRowAdd, SeverityMedium},
		{ActionRowDelete, SeverityHigh},
		{ActionExpire, SeverityHigh},
	}
	for _, tt := range tests {
		if got := auditSeverity(tt.action); got != tt.want {
			t.Errorf("auditSeverity(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

// fakeDB records statements instead of talking to PostgreSQL.
type fakeDB struct {
	mu    sync.Mutex
	execs []fakeExec
	err   error
}

type fakeExec struct {
	sql  string
	args []interface{}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, fakeExec{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, f.err
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return nil
}

func TestPostgresAuditStore_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	store := NewPostgresAuditStore(db)

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS edit_audit_log") {
		t.Errorf("EnsureSchema() executed %+v", db.execs)
	}

	db.err = errors.New("permission denied")
	if err := store.EnsureSchema(context.Background()); err == nil {
		t.Error("EnsureSchema() should surface exec errors")
	}
}

func TestPostgresAuditStore_Record(t *testing.T) {
	db := &fakeDB{}
	store := NewPostgresAuditStore(db)

	row := 3
	entry := AuditEntry{
		ID:         uuid.NewString(),
		Action:     ActionCellEdit,
		Severity:   SeverityMedium,
		SessionID:  uuid.NewString(),
		FileName:   "data.csv",
		IPAddress:  "203.0.113.9:51234",
		Row:        &row,
		ColumnName: "name",
		OldValue:   "Ada",
		NewValue:   "Grace",
		CreatedAt:  time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}

	if err := store.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("Record() executed %d statements, want 1", len(db.execs))
	}

	exec := db.execs[0]
	if !strings.HasPrefix(strings.TrimSpace(exec.sql), "INSERT INTO edit_audit_log") {
		t.Errorf("sql = %q", exec.sql)
	}
	if len(exec.args) != 14 {
		t.Fatalf("args = %d, want 14", len(exec.args))
	}
	if got := exec.args[1]; got != "cell_edit" {
		t.Errorf("action arg = %v, want cell_edit", got)
	}
	if ip, ok := exec.args[5].(*netip.Addr); !ok || ip == nil || ip.String() != "203.0.113.9" {
		t.Errorf("ip arg = %v, want 203.0.113.9 without port", exec.args[5])
	}
	if r, ok := exec.args[7].(pgtype.Int4); !ok || !r.Valid || r.Int32 != 3 {
		t.Errorf("row arg = %v, want 3", exec.args[7])
	}
	if ua, ok := exec.args[6].(pgtype.Text); !ok || ua.Valid {
		t.Errorf("empty user agent should be NULL, got %v", exec.args[6])
	}
}

func TestPostgresAuditStore_RecordRejectsBadIDs(t *testing.T) {
	store := NewPostgresAuditStore(&fakeDB{})
	err := store.Record(context.Background(), AuditEntry{ID: "not-a-uuid", SessionID: uuid.NewString()})
	if err == nil {
		t.Error("Record() should reject a malformed id")
	}
}

func TestPostgresAuditStore_RecentQueryError(t *testing.T) {
	store := NewPostgresAuditStore(&fakeDB{err: errors.New("connection refused")})
	if _, err := store.Recent(context.Background(), AuditFilter{}); err == nil {
		t.Error("Recent() should surface query errors")
	}
}

func TestRecentQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    AuditFilter
		wantWhere string
		wantArgs  int
	}{
		{"no filter", AuditFilter{}, "", 1},
		{"session", AuditFilter{SessionID: "s"}, "WHERE session_id = $1", 2},
		{"session and action", AuditFilter{SessionID: "s", Action: ActionExport}, "WHERE session_id = $1 AND action = $2", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := recentQuery(tt.filter)
			if tt.wantWhere != "" && !strings.Contains(query, tt.wantWhere) {
				t.Errorf("query %q missing %q", query, tt.wantWhere)
			}
			if tt.wantWhere == "" && strings.Contains(query, "WHERE") {
				t.Errorf("query %q should not filter", query)
			}
			if len(args) != tt.wantArgs {
				t.Fatalf("args = %v, want %d", args, tt.wantArgs)
			}
			if !strings.HasSuffix(query, fmt.Sprintf("LIMIT $%d", tt.wantArgs)) {
				t.Errorf("query %q should end with LIMIT $%d", query, tt.wantArgs)
			}
			if args[len(args)-1] != DefaultHistoryLimit {
				t.Errorf("limit arg = %v, want %d", args[len(args)-1], DefaultHistoryLimit)
			}
		})
	}
}

func TestParseIPAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.9", "203.0.113.9"},
		{"203.0.113.9:8080", "203.0.113.9"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"2001:db8::1", "2001:db8::1"},
		{"not an ip", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := parseIPAddress(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("parseIPAddress(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || got.String() != tt.want {
			t.Errorf("parseIPAddress(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}
