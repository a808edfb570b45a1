package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"PerpClearing/internal/ledger"
	"PerpClearing/internal/liquidity"
	"PerpClearing/internal/oracle"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// SnapshotFormatVersion tags the JSON layout of SnapshotData.
const SnapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds balances, positions and funding growth, pools, price
// series, market status, the liquidation book, sequence cursors, recent
// idempotency keys and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                           `json:"sequence"`
	Clock           int64                           `json:"clock"`
	StateHash       []byte                          `json:"state_hash"`
	Balances        map[ledger.AccountKey]int64     `json:"balances"` // keyed by account path
	Positions       state.PositionSnapshot          `json:"positions"`
	Pools           []liquidity.PoolSnapshot        `json:"pools"`
	Prices          oracle.FeedSnapshot             `json:"prices"`
	Markets         map[string]state.StatusSnapshot `json:"markets"`
	Liquidations    state.LiquidationSnapshot       `json:"liquidations"`
	SequenceState   map[string]int64                `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string                        `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time                       `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// EncodeSnapshot is the stored form of a snapshot.
func EncodeSnapshot(snap *SnapshotData) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*SnapshotData, error) {
	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot persists a snapshot to Postgres and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return 0, err
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash, SnapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil, nil when there is none (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, SnapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads envelopes from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// for an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LoadRejectionCursors returns the highest rejected source sequence per
// partition. Recovery advances the cursors past them after replay.
func (sm *SnapshotManager) LoadRejectionCursors(ctx context.Context) (map[string]int64, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT partition, MAX(source_sequence)
		FROM event_log.rejections
		GROUP BY partition
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := make(map[string]int64)
	for rows.Next() {
		var partition string
		var seq int64
		if err := rows.Scan(&partition, &seq); err != nil {
			return nil, err
		}
		cursors[partition] = seq
	}
	return cursors, rows.Err()
}

// PruneSnapshots keeps the newest keep verified snapshots.
func (sm *SnapshotManager) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		DELETE FROM event_log.snapshots
		WHERE sequence < (
			SELECT COALESCE(MIN(sequence), 0) FROM (
				SELECT sequence FROM event_log.snapshots
				WHERE verified = TRUE
				ORDER BY sequence DESC
				LIMIT $1
			) newest
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
