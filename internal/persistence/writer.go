package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes envelopes, journals and emitted records using
// multi-row INSERTs inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// JSONB columns are bound as strings: lib/pq sends []byte as bytea.

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	MarketID       *string
	Payload        []byte // JSON-encoded command, replayable
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// RecordRow represents one emitted record in event_log.records
type RecordRow struct {
	Sequence   int64
	Index      int
	RecordType string
	MarketID   string
	Payload    []byte
	Timestamp  int64
}

// RejectionRow represents a row in event_log.rejections: a command that
// consumed its source sequence without being applied.
type RejectionRow struct {
	Partition      string
	SourceSequence int64
	EventType      string
	IdempotencyKey string
	Reason         string
	Detail         string
	Timestamp      time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// Postgres caps a statement at 65535 bind parameters.
const maxBindParams = 65535

// multiInsert renders "INSERT INTO table (cols) VALUES ($1, ...), (...) suffix"
// for the given rows.
func multiInsert(table string, columns []string, rows [][]interface{}, suffix string) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String(), args
}

// execChunked splits rows so no statement exceeds the bind parameter limit.
func execChunked(ctx context.Context, ex execer, table string, columns []string, rows [][]interface{}, suffix string) error {
	per := maxBindParams / len(columns)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		query, args := multiInsert(table, columns, rows[start:end], suffix)
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

var eventColumns = []string{
	"sequence", "event_type", "idempotency_key", "market_id", "payload",
	"state_hash", "prev_hash", "timestamp", "source_sequence",
}

// WriteEventBatch writes a batch of envelopes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.Sequence, e.EventType, e.IdempotencyKey, e.MarketID, string(e.Payload),
			e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		})
	}
	// Idempotent writes
	return execChunked(ctx, ex, "event_log.events", eventColumns, rows, "ON CONFLICT (sequence) DO NOTHING")
}

var journalColumns = []string{
	"journal_id", "batch_id", "event_ref", "sequence", "debit_account",
	"credit_account", "asset_id", "amount", "journal_type", "timestamp",
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(journals))
	for _, j := range journals {
		rows = append(rows, []interface{}{
			j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.DebitAccount,
			j.CreditAccount, j.AssetID, j.Amount, j.JournalType, j.Timestamp,
		})
	}
	return execChunked(ctx, ex, "event_log.journal", journalColumns, rows, "ON CONFLICT (journal_id) DO NOTHING")
}

var recordColumns = []string{"sequence", "idx", "record_type", "market_id", "payload", "timestamp"}

// WriteRecordBatch writes emitted records to event_log.records.
func (w *EventLogWriter) WriteRecordBatch(ctx context.Context, ex execer, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, []interface{}{
			r.Sequence, r.Index, r.RecordType, r.MarketID, string(r.Payload), r.Timestamp,
		})
	}
	return execChunked(ctx, ex, "event_log.records", recordColumns, rows, "ON CONFLICT (sequence, idx) DO NOTHING")
}

var rejectionColumns = []string{
	"partition", "source_sequence", "event_type", "idempotency_key", "reason", "detail", "timestamp",
}

// WriteRejectionBatch writes rejection markers to event_log.rejections.
func (w *EventLogWriter) WriteRejectionBatch(ctx context.Context, ex execer, rejections []RejectionRow) error {
	if len(rejections) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(rejections))
	for _, r := range rejections {
		rows = append(rows, []interface{}{
			r.Partition, r.SourceSequence, r.EventType, r.IdempotencyKey, r.Reason, r.Detail, r.Timestamp,
		})
	}
	return execChunked(ctx, ex, "event_log.rejections", rejectionColumns, rows, "ON CONFLICT (partition, source_sequence) DO NOTHING")
}
