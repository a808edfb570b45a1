// internal/oracle/feed.go
package oracle

import (
	"fmt"

	"PerpClearing/internal/ledger"
	fpmath "PerpClearing/internal/math"
)

// Feed holds index price samples per market and collateral price samples per
// asset. Samples arrive as commands so replay reproduces the same averages.
type Feed struct {
	index      map[string]*Series
	collateral map[ledger.AssetID]*Series
	maxSamples int
}

func NewFeed(maxSamples int) *Feed {
	return &Feed{
		index:      make(map[string]*Series),
		collateral: make(map[ledger.AssetID]*Series),
		maxSamples: maxSamples,
	}
}

// UpdateIndexPrice records an index price sample for a market.
func (f *Feed) UpdateIndexPrice(marketID string, timestamp, price int64) error {
	s, ok := f.index[marketID]
	if !ok {
		s = NewSeries(f.maxSamples)
		f.index[marketID] = s
	}
	if err := s.Append(timestamp, price); err != nil {
		return fmt.Errorf("index price %s: %w", marketID, err)
	}
	return nil
}

// UpdateCollateralPrice records a collateral price sample in settlement units.
func (f *Feed) UpdateCollateralPrice(asset ledger.AssetID, timestamp, price int64) error {
	s, ok := f.collateral[asset]
	if !ok {
		s = NewSeries(f.maxSamples)
		f.collateral[asset] = s
	}
	if err := s.Append(timestamp, price); err != nil {
		return fmt.Errorf("collateral price %s: %w", asset, err)
	}
	return nil
}

// TWAP returns the index TWAP of a market over intervalSeconds ending at now.
func (f *Feed) TWAP(marketID string, intervalSeconds, now int64) (int64, error) {
	s, ok := f.index[marketID]
	if !ok {
		return 0, fmt.Errorf("%w for market %s", ErrNoPrice, marketID)
	}
	price, err := s.TWAP(now, intervalSeconds)
	if err != nil {
		return 0, fmt.Errorf("index twap %s: %w", marketID, err)
	}
	return price, nil
}

// CollateralPrice returns the latest valid price of a collateral asset. The
// settlement asset is always worth one unit.
func (f *Feed) CollateralPrice(asset ledger.AssetID) (int64, error) {
	if asset.IsSettlement() {
		return fpmath.PriceScale, nil
	}
	s, ok := f.collateral[asset]
	if !ok {
		return 0, fmt.Errorf("%w for asset %s", ErrNoPrice, asset)
	}
	latest, ok := s.Latest()
	if !ok {
		return 0, fmt.Errorf("%w for asset %s", ErrNoPrice, asset)
	}
	return latest.Price, nil
}

// FeedSnapshot is the serializable form of a Feed.
type FeedSnapshot struct {
	Index      map[string][]Sample         `json:"index"`
	Collateral map[ledger.AssetID][]Sample `json:"collateral"`
}

func (f *Feed) Snapshot() FeedSnapshot {
	snap := FeedSnapshot{
		Index:      make(map[string][]Sample, len(f.index)),
		Collateral: make(map[ledger.AssetID][]Sample, len(f.collateral)),
	}
	for id, s := range f.index {
		snap.Index[id] = s.Samples()
	}
	for asset, s := range f.collateral {
		snap.Collateral[asset] = s.Samples()
	}
	return snap
}

// Restore replaces the feed contents from a snapshot.
func (f *Feed) Restore(snap FeedSnapshot) error {
	f.index = make(map[string]*Series, len(snap.Index))
	f.collateral = make(map[ledger.AssetID]*Series, len(snap.Collateral))

	for id, samples := range snap.Index {
		for _, sample := range samples {
			if err := f.UpdateIndexPrice(id, sample.Timestamp, sample.Price); err != nil {
				return err
			}
		}
	}
	for asset, samples := range snap.Collateral {
		for _, sample := range samples {
			if err := f.UpdateCollateralPrice(asset, sample.Timestamp, sample.Price); err != nil {
				return err
			}
		}
	}
	return nil
}
