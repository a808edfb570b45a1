// internal/liquidity/tick.go
package liquidity

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"
)

const tickMapDegree = 32

// Tick is an initialized tick boundary. Only ticks with LiquidityGross > 0
// are stored.
type Tick struct {
	Index                 int32       `json:"index"`
	LiquidityGross        int64       `json:"liquidity_gross"`
	LiquidityNet          int64       `json:"liquidity_net"`
	FeeGrowthOutsideBase  uint256.Int `json:"fee_growth_outside_base"`
	FeeGrowthOutsideQuote uint256.Int `json:"fee_growth_outside_quote"`
}

func tickLess(a, b Tick) bool {
	return a.Index < b.Index
}

// TickMap is the sparse ordered set of initialized ticks of one pool.
// Ticks are stored by value so a cloned map never shares mutable state.
type TickMap struct {
	tree *btree.BTreeG[Tick]
}

func NewTickMap() *TickMap {
	return &TickMap{tree: btree.NewG[Tick](tickMapDegree, tickLess)}
}

func (m *TickMap) Get(index int32) (Tick, bool) {
	return m.tree.Get(Tick{Index: index})
}

func (m *TickMap) Set(t Tick) {
	m.tree.ReplaceOrInsert(t)
}

func (m *TickMap) Delete(index int32) {
	m.tree.Delete(Tick{Index: index})
}

func (m *TickMap) Len() int {
	return m.tree.Len()
}

// AtOrBelow returns the greatest initialized tick <= index.
func (m *TickMap) AtOrBelow(index int32) (Tick, bool) {
	var (
		out   Tick
		found bool
	)
	m.tree.DescendLessOrEqual(Tick{Index: index}, func(t Tick) bool {
		out, found = t, true
		return false
	})
	return out, found
}

// Above returns the smallest initialized tick > index.
func (m *TickMap) Above(index int32) (Tick, bool) {
	var (
		out   Tick
		found bool
	)
	m.tree.AscendGreaterOrEqual(Tick{Index: index + 1}, func(t Tick) bool {
		out, found = t, true
		return false
	})
	return out, found
}

// All returns the ticks in ascending order.
func (m *TickMap) All() []Tick {
	out := make([]Tick, 0, m.tree.Len())
	m.tree.Ascend(func(t Tick) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Clone is O(1); both maps copy nodes lazily on write.
func (m *TickMap) Clone() *TickMap {
	return &TickMap{tree: m.tree.Clone()}
}
