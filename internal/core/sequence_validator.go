package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe: only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering. Sequences start at 0 per
// partition and must arrive without gaps.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// ValidatePriceSequence accepts price feeds with gaps. It reports false for
// a stale sample, which the caller drops.
func (sv *SequenceValidator) ValidatePriceSequence(feed string, priceSequence int64) bool {
	partition := "price:" + feed
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return false
	}
	if priceSequence > expected {
		sv.metrics.RecordPriceGap(feed, expected, priceSequence)
	}
	sv.expectedNextSeq[partition] = priceSequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Advance moves a partition cursor past sourceSequence. Replay uses it
// because rejected commands never reach the log.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence+1 > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
}

// Partitions returns a copy of all partition cursors (for snapshots).
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// SequenceMetrics tracks sequence validation stats.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
	priceGaps  map[string]int64 // feed -> price gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		priceGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(feed string, expected, got int64) {
	m.priceGaps[feed]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetPriceGaps(feed string) int64 {
	return m.priceGaps[feed]
}
