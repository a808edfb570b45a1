package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"PerpClearing/internal/core"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
)

const (
	replayBatchSize   = 1000
	warmKeysFromLog   = 100_000
	snapshotCheckTick = 10 * time.Second
)

// recoverEngine restores the latest verified snapshot, warms the
// idempotency cache, replays the event log tail and skips the partition
// cursors past logged rejections. The engine's state
// hash must match the last logged hash afterwards.
func recoverEngine(
	ctx context.Context,
	engine *core.ClearingEngine,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	snap *persistence.SnapshotData,
	metrics *observability.Metrics,
) error {
	fromSequence := int64(0)
	var expectedHash []byte

	if snap != nil {
		if err := engine.RestoreFromSnapshot(fromSnapshotData(snap)); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		fromSequence = snap.Sequence + 1
		expectedHash = snap.StateHash
		log.Printf("INFO: restored snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	keys, err := dbChecker.RecentKeys(ctx, warmKeysFromLog)
	if err != nil {
		log.Printf("WARN: load recent idempotency keys: %v", err)
	} else if len(keys) > 0 {
		engine.WarmLRU(keys)
		log.Printf("INFO: warmed idempotency cache with %d keys", len(keys))
	}

	replayed := 0
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			cmd, err := ingestion.ParseRawEvent(ingestion.RawEvent{Subject: row.EventType, Data: row.Payload}, row.EventType)
			if err != nil {
				return fmt.Errorf("decode logged command %d: %w", row.Sequence, err)
			}
			if err := engine.ReplayCommand(cmd); err != nil {
				return fmt.Errorf("replay command %d (%s): %w", row.Sequence, row.EventType, err)
			}
			if got := engine.GetSequence(); got != row.Sequence+1 {
				return fmt.Errorf("replay of %d left sequence at %d", row.Sequence, got)
			}
			expectedHash = row.StateHash
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
	// Rejected commands consumed their source sequences without reaching
	// the event log.
	cursors, err := snapMgr.LoadRejectionCursors(ctx)
	if err != nil {
		return fmt.Errorf("load rejection cursors: %w", err)
	}
	engine.AdvanceSourceSequences(cursors)

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
	}
	if replayed > 0 {
		log.Printf("INFO: replayed %d commands (sequence now %d)", replayed, engine.GetSequence())
	}

	if expectedHash != nil {
		actual := engine.GetStateHash()
		if !bytes.Equal(expectedHash, actual[:]) {
			return fmt.Errorf("state hash mismatch after recovery: expected %x, got %x", expectedHash, actual)
		}
		log.Println("INFO: state hash verified after recovery")
	}
	return nil
}

func fromSnapshotData(snap *persistence.SnapshotData) *core.SnapshotState {
	state := &core.SnapshotState{
		Sequence:        snap.Sequence,
		Clock:           snap.Clock,
		Balances:        snap.Balances,
		Positions:       snap.Positions,
		Pools:           snap.Pools,
		Prices:          snap.Prices,
		Markets:         snap.Markets,
		Liquidations:    snap.Liquidations,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(state.StateHash[:], snap.StateHash)
	return state
}

func toSnapshotData(state *core.SnapshotState) *persistence.SnapshotData {
	return &persistence.SnapshotData{
		Sequence:        state.Sequence,
		Clock:           state.Clock,
		StateHash:       append([]byte(nil), state.StateHash[:]...),
		Balances:        state.Balances,
		Positions:       state.Positions,
		Pools:           state.Pools,
		Prices:          state.Prices,
		Markets:         state.Markets,
		Liquidations:    state.Liquidations,
		SequenceState:   state.SequenceState,
		IdempotencyKeys: state.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
}

// engineSnapshotter captures and stores engine snapshots. It serves the
// periodic loop, the admin endpoint and the final snapshot on shutdown.
type engineSnapshotter struct {
	engine  *core.ClearingEngine
	snapMgr *persistence.SnapshotManager
	keep    int
	metrics *observability.Metrics

	mu sync.Mutex
}

// TakeSnapshot returns the sequence the snapshot was taken at.
func (s *engineSnapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	state := s.engine.CreateSnapshotState()
	if state.Sequence < 0 {
		return -1, fmt.Errorf("nothing to snapshot yet")
	}

	data := toSnapshotData(state)
	size, err := s.snapMgr.SaveSnapshot(ctx, data)
	if err != nil {
		return -1, fmt.Errorf("save snapshot: %w", err)
	}
	// Built from live state, so it is verified by construction.
	if err := s.snapMgr.MarkVerified(ctx, data.Sequence); err != nil {
		return -1, fmt.Errorf("mark snapshot verified: %w", err)
	}
	if s.keep > 0 {
		if pruned, err := s.snapMgr.PruneSnapshots(ctx, s.keep); err != nil {
			log.Printf("WARN: prune snapshots: %v", err)
		} else if pruned > 0 {
			log.Printf("INFO: pruned %d old snapshots", pruned)
		}
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	return data.Sequence, nil
}

// runPeriodicSnapshots snapshots every interval commands.
func runPeriodicSnapshots(ctx context.Context, engine *core.ClearingEngine, snapshotter *engineSnapshotter, interval int64) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := engine.GetSequence()
	ticker := time.NewTicker(snapshotCheckTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := engine.GetSequence()
			if current-lastSnapshotSeq < interval {
				continue
			}
			seq, err := snapshotter.TakeSnapshot(ctx)
			if err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			lastSnapshotSeq = current
			log.Printf("INFO: periodic snapshot at sequence %d", seq)
		}
	}
}
