package core

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS edit_audit_log (
	id            UUID PRIMARY KEY,
	action        TEXT NOT NULL,
	severity      TEXT NOT NULL,
	session_id    UUID NOT NULL,
	file_name     TEXT,
	ip_address    INET,
	user_agent    TEXT,
	row_index     INTEGER,
	column_name   TEXT,
	old_value     TEXT,
	new_value     TEXT,
	rows_affected INTEGER,
	reason        TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS edit_audit_log_session_idx ON edit_audit_log (session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS edit_audit_log_created_idx ON edit_audit_log (created_at DESC);
`

const auditColumns = `id, action, severity, session_id, file_name, ip_address, user_agent,
	row_index, column_name, old_value, new_value, rows_affected, reason, created_at`

// PostgresAuditStore writes audit entries to the edit_audit_log table.
// Only the audit trail is stored; table contents never leave memory.
type PostgresAuditStore struct {
	db DBTX
}

// NewPostgresAuditStore creates a store over a pool or transaction.
func NewPostgresAuditStore(db DBTX) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// EnsureSchema creates the audit table and its indexes if missing.
func (p *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("create edit_audit_log: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (p *PostgresAuditStore) Record(ctx context.Context, e AuditEntry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("audit entry id: %w", err)
	}
	sessionID, err := uuid.Parse(e.SessionID)
	if err != nil {
		return fmt.Errorf("audit session id: %w", err)
	}

	var row pgtype.Int4
	if e.Row != nil {
		row = pgtype.Int4{Int32: int32(*e.Row), Valid: true}
	}

	_, err = p.db.Exec(ctx,
		`INSERT INTO edit_audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, string(e.Action), string(e.Severity), sessionID,
		toPgText(e.FileName), parseIPAddress(e.IPAddress), toPgText(e.UserAgent),
		row, toPgText(e.ColumnName), toPgText(e.OldValue), toPgText(e.NewValue),
		toPgInt4(e.RowsAffected), toPgText(e.Reason), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns matching entries, newest first.
func (p *PostgresAuditStore) Recent(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query, args := recentQuery(filter)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// recentQuery builds the history SELECT and its positional arguments.
func recentQuery(filter AuditFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + auditColumns + " FROM edit_audit_log")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, filter.limit())
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))

	return b.String(), args
}

func scanAuditRow(rows pgx.Rows) (*AuditEntry, error) {
	var (
		id           pgtype.UUID
		action       string
		severity     string
		sessionID    pgtype.UUID
		fileName     pgtype.Text
		ipAddress    *netip.Addr
		userAgent    pgtype.Text
		rowIndex     pgtype.Int4
		columnName   pgtype.Text
		oldValue     pgtype.Text
		newValue     pgtype.Text
		rowsAffected pgtype.Int4
		reason       pgtype.Text
		createdAt    pgtype.Timestamptz
	)

	err := rows.Scan(
		&id, &action, &severity, &sessionID, &fileName, &ipAddress, &userAgent,
		&rowIndex, &columnName, &oldValue, &newValue, &rowsAffected, &reason, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}

	entry := &AuditEntry{
		ID:           pgUUIDToString(id),
		Action:       AuditAction(action),
		Severity:     AuditSeverity(severity),
		SessionID:    pgUUIDToString(sessionID),
		FileName:     fileName.String,
		UserAgent:    userAgent.String,
		ColumnName:   columnName.String,
		OldValue:     oldValue.String,
		NewValue:     newValue.String,
		RowsAffected: int(rowsAffected.Int32),
		Reason:       reason.String,
		CreatedAt:    createdAt.Time,
	}
	if ipAddress != nil {
		entry.IPAddress = ipAddress.String()
	}
	if rowIndex.Valid {
		r := int(rowIndex.Int32)
		entry.Row = &r
	}
	return entry, nil
}

// parseIPAddress strips a port if present. Unparseable input becomes NULL.
func parseIPAddress(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgInt4(i int) pgtype.Int4 {
	if i == 0 {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

func pgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
