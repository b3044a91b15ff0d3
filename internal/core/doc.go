// Package core holds the editing service that sits between the HTTP layer
// and the CSV engine in package csvtable.
//
// # Sessions
//
// Every dropped file, or every table created from scratch, becomes a
// [Session] owned by the [Service]. The engine table is not safe for
// concurrent use, so a session serialises access with its own mutex;
// handlers never touch a csvtable.Table directly.
//
//	sess, report, err := svc.LoadFile(ctx, "people.csv", file)
//	err = sess.SetCell(ctx, 0, 1, "Ada")
//	dl, err := sess.Export(ctx) // dl.FileName == "edited_data.csv"
//
// Tables live only in memory. Idle sessions are discarded by
// [Service.StartSessionJanitor].
//
// # Loading
//
// Loads are bounded by a [LoadLimiter]. [DecodeText] enforces the size
// limit, strips a UTF-8 byte order mark and repairs invalid UTF-8 before
// the parser sees the text.
//
// # Events
//
// [Session.Subscribe] streams an [Event] after every change. Delivery never
// blocks an editor: a subscriber whose buffer is full misses events and
// should refetch the snapshot.
//
// # Audit
//
// Loads, edits, exports and closes are written to an [AuditStore]:
// [MemoryAuditStore] by default, or [PostgresAuditStore] when a database is
// configured. Audit failures are logged and never fail an edit.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError].
package core
