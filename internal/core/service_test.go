package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/CsvEditor/internal/config"
	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
)

func noEnv(string) (string, bool) { return "", false }

// newTestService builds a Service over default config with an in-memory
// audit store and a controllable clock.
func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *MemoryAuditStore, *fakeClock) {
	t.Helper()

	cfg, err := config.LoadFrom(noEnv)
	if err != nil {
		t.Fatalf("config.LoadFrom() error = %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := NewMemoryAuditStore(100)
	svc, err := NewService(cfg, store)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	clock := &fakeClock{t: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, store, clock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustLoad(t *testing.T, svc *Service, text string) *Session {
	t.Helper()
	sess, _, err := svc.LoadFile(context.Background(), "data.csv", strings.NewReader(text))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	return sess
}

func TestLoadFile(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	text := "\xEF\xBB\xBFname,age\nAda,36\n\n   \nBob\nEve,29,extra\n"
	sess, report, err := svc.LoadFile(context.Background(), "People.CSV", strings.NewReader(text))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	snap := sess.Snapshot()
	wantHeaders := []string{"name", "age"}
	if strings.Join(snap.Headers, "|") != strings.Join(wantHeaders, "|") {
		t.Errorf("Headers = %q, want %q", snap.Headers, wantHeaders)
	}

	wantRows := [][]string{{"Ada", "36"}, {"Bob", ""}, {"Eve", "29"}}
	if len(snap.Rows) != len(wantRows) {
		t.Fatalf("Rows = %q, want %q", snap.Rows, wantRows)
	}
	for i := range wantRows {
		if strings.Join(snap.Rows[i], "|") != strings.Join(wantRows[i], "|") {
			t.Errorf("Rows[%d] = %q, want %q", i, snap.Rows[i], wantRows[i])
		}
	}

	if report.DroppedBlank != 2 || report.Padded != 1 || report.Truncated != 1 {
		t.Errorf("report = %+v, want 2 dropped, 1 padded, 1 truncated", report)
	}
	if snap.FileName != "People.CSV" {
		t.Errorf("FileName = %q, want People.CSV", snap.FileName)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		body   string
		mutate func(*config.Config)
		want   error
	}{
		{
			name: "wrong extension",
			file: "book.xlsx",
			body: "a,b",
			want: ErrUnsupportedFile,
		},
		{
			name:   "too large",
			file:   "big.csv",
			body:   strings.Repeat("x", 64),
			mutate: func(c *config.Config) { c.Session.MaxFileSize = 16 },
			want:   ErrFileTooLarge,
		},
		{
			name: "binary content",
			file: "blob.csv",
			body: "a,b\x00c",
			want: csvtable.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, tt.mutate)
			_, _, err := svc.LoadFile(context.Background(), tt.file, strings.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("LoadFile() error = %v, want %v", err, tt.want)
			}
			if n := len(svc.Sessions()); n != 0 {
				t.Errorf("failed load left %d sessions open", n)
			}
		})
	}
}

func TestLoadFile_EmptyFile(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	sess := mustLoad(t, svc, "")

	snap := sess.Snapshot()
	if len(snap.Headers) != 0 || len(snap.Rows) != 0 {
		t.Errorf("empty file snapshot = %+v, want no headers and no rows", snap)
	}
}

func TestLoadFile_MaxSessions(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *config.Config) { c.Session.MaxSessions = 1 })

	mustLoad(t, svc, "a\n1")
	_, _, err := svc.LoadFile(context.Background(), "b.csv", strings.NewReader("b\n2"))
	if !errors.Is(err, ErrTooManySessions) {
		t.Errorf("second LoadFile() error = %v, want ErrTooManySessions", err)
	}
	if _, err := svc.NewSession(context.Background(), []string{"x"}); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("NewSession() error = %v, want ErrTooManySessions", err)
	}
}

func TestNewSession(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.NewSession(ctx, nil); !errors.Is(err, csvtable.ErrInvalidInput) {
		t.Errorf("NewSession(nil) error = %v, want ErrInvalidInput", err)
	}

	sess, err := svc.NewSession(ctx, []string{"x", "y"})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if _, err := sess.AddRow(ctx, "1", "2"); err != nil {
		t.Fatalf("AddRow() error = %v", err)
	}

	dl, err := sess.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if got := string(dl.Body); got != "x,y\n1,2" {
		t.Errorf("Export body = %q, want %q", got, "x,y\n1,2")
	}
	if dl.FileName != "edited_data.csv" {
		t.Errorf("FileName = %q, want edited_data.csv", dl.FileName)
	}
	if dl.ContentType != "text/csv;charset=utf-8" {
		t.Errorf("ContentType = %q, want text/csv;charset=utf-8", dl.ContentType)
	}
}

func TestSession_Mutations(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sess := mustLoad(t, svc, "a,b\n1,2\n3,4")

	if err := sess.SetCell(ctx, 1, 0, "x, \"quoted\""); err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}
	added, err := sess.AddRow(ctx, "5")
	if err != nil || added.Row != 2 {
		t.Fatalf("AddRow() = %+v, %v; want row 2", added, err)
	}
	if strings.Join(added.Values, "|") != "5|" || added.Rows != 3 {
		t.Errorf("AddRow() = %+v, want values [5 \"\"] and 3 rows", added)
	}
	if err := sess.DeleteRow(ctx, 0); err != nil {
		t.Fatalf("DeleteRow() error = %v", err)
	}

	dl, err := sess.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want := "a,b\n\"x, \"\"quoted\"\"\",4\n5,"
	if got := string(dl.Body); got != want {
		t.Errorf("Export body = %q, want %q", got, want)
	}
}

func TestSession_OutOfRangeLeavesTableUnchanged(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()
	sess := mustLoad(t, svc, "a,b\n1,2\n3,4")
	before := sess.Snapshot()

	checks := []struct {
		name string
		err  error
	}{
		{"delete row 5", sess.DeleteRow(ctx, 5)},
		{"delete row -1", sess.DeleteRow(ctx, -1)},
		{"set cell bad row", sess.SetCell(ctx, 2, 0, "z")},
		{"set cell bad column", sess.SetCell(ctx, 0, 2, "z")},
	}
	for _, c := range checks {
		if !errors.Is(c.err, csvtable.ErrOutOfRange) {
			t.Errorf("%s: error = %v, want ErrOutOfRange", c.name, c.err)
		}
	}

	after := sess.Snapshot()
	if len(after.Rows) != len(before.Rows) {
		t.Fatalf("rows changed: %q -> %q", before.Rows, after.Rows)
	}
	for i := range before.Rows {
		if strings.Join(before.Rows[i], ",") != strings.Join(after.Rows[i], ",") {
			t.Errorf("row %d changed: %q -> %q", i, before.Rows[i], after.Rows[i])
		}
	}

	edits, _ := store.Recent(ctx, AuditFilter{Action: ActionCellEdit})
	deletes, _ := store.Recent(ctx, AuditFilter{Action: ActionRowDelete})
	if len(edits)+len(deletes) != 0 {
		t.Errorf("failed mutations were audited: %d edits, %d deletes", len(edits), len(deletes))
	}
}

func TestSession_Subscribe(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sess := mustLoad(t, svc, "a,b\n1,2")

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if err := sess.SetCell(ctx, 0, 1, "9"); err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}
	if _, err := sess.AddRow(ctx); err != nil {
		t.Fatalf("AddRow() error = %v", err)
	}

	want := []Event{
		{Seq: 1, Type: EventCellUpdated, Row: 0, Col: 1, Value: "9", Rows: 1},
		{Seq: 2, Type: EventRowAdded, Row: 1, Values: []string{"", ""}, Rows: 2},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got.Seq != w.Seq || got.Type != w.Type || got.Row != w.Row || got.Col != w.Col || got.Value != w.Value || got.Rows != w.Rows {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
			if strings.Join(got.Values, "|") != strings.Join(w.Values, "|") || len(got.Values) != len(w.Values) {
				t.Errorf("event %d values = %q, want %q", i, got.Values, w.Values)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestSession_SlowSubscriberDoesNotBlock(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *config.Config) { c.Session.EventBuffer = 1 })
	ctx := context.Background()
	sess := mustLoad(t, svc, "a\n1")

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = sess.SetCell(ctx, 0, 0, "v")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mutations blocked on a full subscriber")
	}

	// The buffered event is delivered, then the channel closes without an
	// EventClosed so the subscriber knows to resync.
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Seq != 1 {
		t.Fatalf("events = %+v, want only the first change", got)
	}

	// A fresh subscription works after the resync.
	again, unsubscribeAgain := sess.Subscribe()
	defer unsubscribeAgain()
	if err := sess.SetCell(ctx, 0, 0, "w"); err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}
	if ev := <-again; ev.Seq != 11 || ev.Value != "w" {
		t.Errorf("event after resubscribe = %+v, want seq 11 value w", ev)
	}
}

func TestSession_EventsFollowApplyOrder(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *config.Config) { c.Session.EventBuffer = 1024 })
	ctx := context.Background()
	sess := mustLoad(t, svc, "a\n0")

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	const writers, edits = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < edits; i++ {
				if err := sess.SetCell(ctx, 0, 0, strconv.Itoa(w)+"-"+strconv.Itoa(i)); err != nil {
					t.Errorf("SetCell() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	var last Event
	for i := 0; i < writers*edits; i++ {
		ev := <-events
		if ev.Seq != last.Seq+1 {
			t.Fatalf("event %d has seq %d after %d", i, ev.Seq, last.Seq)
		}
		last = ev
	}

	stored, _ := sess.Row(0)
	if last.Value != stored[0] {
		t.Errorf("last event value = %q, stored cell = %q", last.Value, stored[0])
	}
}

func TestCloseSession(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()
	sess := mustLoad(t, svc, "a\n1")

	events, _ := sess.Subscribe()

	if err := svc.CloseSession(ctx, sess.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}

	var last Event
	for ev := range events {
		last = ev
	}
	if last.Type != EventClosed {
		t.Errorf("last event = %+v, want closed", last)
	}

	if _, err := svc.Session(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() after close error = %v, want ErrSessionNotFound", err)
	}
	if err := svc.CloseSession(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second CloseSession() error = %v, want ErrSessionNotFound", err)
	}
	if err := sess.SetCell(ctx, 0, 0, "x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SetCell() on closed session error = %v, want ErrSessionClosed", err)
	}

	closes, _ := store.Recent(ctx, AuditFilter{SessionID: sess.ID, Action: ActionClose})
	if len(closes) != 1 {
		t.Errorf("close audit entries = %d, want 1", len(closes))
	}

	// Subscribing after close yields a closed channel.
	late, _ := sess.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe() after close returned an open channel")
	}
}

func TestService_AuditTrail(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := ContextWithRequestMeta(context.Background(), "203.0.113.9", "test-agent")
	sess, _, err := svc.LoadFile(ctx, "data.csv", strings.NewReader("name\nAda"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if err := sess.SetCell(ctx, 0, 0, "Grace"); err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}

	history, err := svc.History(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() = %d entries, want 2", len(history))
	}

	edit := history[0]
	if edit.Action != ActionCellEdit || edit.Severity != SeverityMedium {
		t.Errorf("newest entry = %s/%s, want cell_edit/medium", edit.Action, edit.Severity)
	}
	if edit.OldValue != "Ada" || edit.NewValue != "Grace" || edit.ColumnName != "name" {
		t.Errorf("edit entry = %+v", edit)
	}
	if edit.Row == nil || *edit.Row != 0 {
		t.Errorf("edit entry row = %v, want 0", edit.Row)
	}
	if edit.IPAddress != "203.0.113.9" || edit.UserAgent != "test-agent" {
		t.Errorf("request meta = %q/%q", edit.IPAddress, edit.UserAgent)
	}
	if history[1].Action != ActionLoad || history[1].RowsAffected != 1 {
		t.Errorf("oldest entry = %+v, want load of 1 row", history[1])
	}
}

type failingStore struct{}

func (failingStore) Record(context.Context, AuditEntry) error {
	return errors.New("connection refused")
}

func (failingStore) Recent(context.Context, AuditFilter) ([]AuditEntry, error) {
	return nil, errors.New("connection refused")
}

func TestService_AuditFailureDoesNotFailEdits(t *testing.T) {
	cfg, err := config.LoadFrom(noEnv)
	if err != nil {
		t.Fatalf("config.LoadFrom() error = %v", err)
	}
	svc, err := NewService(cfg, failingStore{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	ctx := context.Background()
	sess, _, err := svc.LoadFile(ctx, "a.csv", strings.NewReader("a\n1"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if err := sess.SetCell(ctx, 0, 0, "2"); err != nil {
		t.Errorf("SetCell() error = %v", err)
	}
	if _, err := svc.History(ctx, sess.ID, 5); err == nil {
		t.Error("History() should surface store errors")
	}
}

func TestService_ConcurrentEdits(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sess := mustLoad(t, svc, "a,b")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := sess.AddRow(ctx, "x")
			if err != nil {
				t.Errorf("AddRow() error = %v", err)
				return
			}
			_ = sess.SetCell(ctx, added.Row, 1, "y")
		}()
	}
	wg.Wait()

	snap := sess.Snapshot()
	if len(snap.Rows) != 20 {
		t.Fatalf("rows = %d, want 20", len(snap.Rows))
	}
	for i, row := range snap.Rows {
		if len(row) != 2 {
			t.Errorf("row %d has %d cells, want 2", i, len(row))
		}
	}
}

func TestService_Sessions(t *testing.T) {
	svc, _, clock := newTestService(t, nil)

	first := mustLoad(t, svc, "a\n1\n2")
	clock.Advance(time.Minute)
	second := mustLoad(t, svc, "b,c")

	infos := svc.Sessions()
	if len(infos) != 2 {
		t.Fatalf("Sessions() = %d, want 2", len(infos))
	}
	if infos[0].ID != second.ID || infos[1].ID != first.ID {
		t.Errorf("Sessions() not ordered by last use: %+v", infos)
	}
	if infos[1].Rows != 2 || infos[1].Columns != 1 {
		t.Errorf("first session info = %+v, want 2 rows, 1 column", infos[1])
	}
}

func TestService_Shutdown(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	sess := mustLoad(t, svc, "a\n1")
	events, _ := sess.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for range events {
	}
	if len(svc.Sessions()) != 0 {
		t.Error("Shutdown() left sessions open")
	}
}
