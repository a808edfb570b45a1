package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ledger"
	"PerpClearing/internal/liquidity"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/oracle"
	"PerpClearing/internal/state"
	"PerpClearing/internal/vault"

	"github.com/google/uuid"
)

// Config fixes the clearing engine's markets and governance owner.
type Config struct {
	// Owner may pause and close markets.
	Owner            uuid.UUID
	Markets          []*state.Market
	CollateralRatios map[ledger.AssetID]int64

	StartSequence       int64
	IdempotencyCapacity int
	MaxPriceSamples     int
}

// ClearingEngine is the single-threaded command processor. Every command
// runs inside one transaction over the ledger, positions, pools and
// liquidation book, and nothing is committed unless every check passes.
type ClearingEngine struct {
	mu sync.RWMutex

	owner    uuid.UUID
	sequence int64
	// clock is the latest command time seen; time never moves backwards.
	clock int64

	hasher            *StateHasher
	balances          *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	markets           *state.MarketRegistry
	positions         *state.PositionLedger
	pools             *liquidity.Engine
	liquidations      *state.LiquidationBook
	prices            *oracle.Feed
	vault             *vault.Vault
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything a committed command produced.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	// Batch is nil when the command moved no money.
	Batch     *ledger.Batch
	Records   []event.Record
	Positions []state.Position
	// Balances holds the post-commit balance of every account the batch touched.
	Balances   map[ledger.AccountKey]int64
	StateDelta []byte

	// Rejection is set, and every other field empty, when a command passed
	// sequence validation but failed in its handler. Its source sequence
	// is consumed, so the marker is logged for recovery to skip past.
	Rejection *Rejection
}

// Rejection records a command that consumed a source sequence without
// being applied.
type Rejection struct {
	Partition      string
	SourceSequence int64
	EventType      event.EventType
	IdempotencyKey string
	Reason         string
	Detail         string
	Timestamp      time.Time
}

func NewClearingEngine(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*ClearingEngine, error) {
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	if cfg.MaxPriceSamples <= 0 {
		cfg.MaxPriceSamples = oracle.DefaultMaxSamples
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = state.DefaultMarkets()
	}

	markets := state.NewMarketRegistry()
	pools := liquidity.NewEngine()
	for _, m := range cfg.Markets {
		if err := markets.Add(m); err != nil {
			return nil, err
		}
		if err := pools.CreatePool(m); err != nil {
			return nil, fmt.Errorf("pool for %s: %w", m.ID, err)
		}
	}

	balances := ledger.NewBalanceTracker()
	positions := state.NewPositionLedger()
	prices := oracle.NewFeed(cfg.MaxPriceSamples)
	v := vault.New(vault.Config{
		Prices:           prices,
		Markets:          markets,
		CollateralRatios: cfg.CollateralRatios,
	}, balances, positions, pools)

	return &ClearingEngine{
		owner:             cfg.Owner,
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balances:          balances,
		validator:         ledger.NewInvariantValidator(balances),
		markets:           markets,
		positions:         positions,
		pools:             pools,
		liquidations:      state.NewLiquidationBook(),
		prices:            prices,
		vault:             v,
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessCommand is the main processing pipeline. Rejected commands return an
// error and leave state untouched; duplicates and stale price samples are
// dropped silently.
func (c *ClearingEngine) ProcessCommand(cmd event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(cmd, false)
}

// ReplayCommand re-applies a command read back from the event log. Source
// sequences only advance the partition cursors: the log holds accepted
// commands alone, so the rejected ones in between would show up as gaps.
// Rejected sequences at the tail are restored with AdvanceSourceSequences.
// Replayed commands skip deduplication and are not emitted again.
func (c *ClearingEngine) ReplayCommand(cmd event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(cmd, true)
}

func (c *ClearingEngine) process(cmd event.Event, replay bool) error {
	start := time.Now()
	eventType := cmd.EventType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := false
	if !replay {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Sequence validation
	if replay {
		if feed, ok := cmd.(event.PriceFeed); ok {
			c.sequenceValidator.ValidatePriceSequence(feed.FeedKey(), feed.SourceSequence())
		} else {
			c.sequenceValidator.Advance(c.getPartition(cmd), cmd.SourceSequence())
		}
	} else {
		if feed, ok := cmd.(event.PriceFeed); ok {
			if !c.sequenceValidator.ValidatePriceSequence(feed.FeedKey(), feed.SourceSequence()) {
				c.reject(eventType, "stale")
				return nil
			}
		} else if err := c.sequenceValidator.ValidateSequence(c.getPartition(cmd), cmd.SourceSequence(), isDuplicate); err != nil {
			c.reject(eventType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil
	}

	// Step 3: Dispatch into a fresh transaction
	now := cmd.Time()
	if now < c.clock {
		now = c.clock
	}
	tx := c.begin(idempotencyKey, now)

	if err := c.dispatch(tx, cmd); err != nil {
		if errors.Is(err, oracle.ErrStaleSample) {
			c.reject(eventType, "stale")
			return nil
		}
		reason := rejectReason(err)
		c.reject(eventType, reason)
		if _, isFeed := cmd.(event.PriceFeed); !isFeed && !replay && c.persistChan != nil {
			c.persistChan <- CoreOutput{Rejection: &Rejection{
				Partition:      c.getPartition(cmd),
				SourceSequence: cmd.SourceSequence(),
				EventType:      cmd.EventType(),
				IdempotencyKey: idempotencyKey,
				Reason:         reason,
				Detail:         err.Error(),
				Timestamp:      time.Unix(now, 0).UTC(),
			}}
		}
		return fmt.Errorf("%s rejected: %w", eventType, err)
	}

	// Step 4: Commit
	if err := c.commit(tx); err != nil {
		return err
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(tx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}

	// Step 6: Hash chain and envelope
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	stateDigest := c.computeStateDigest(tx)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      cmd.EventType(),
		MarketID:       cmd.MarketID(),
		Timestamp:      time.Unix(now, 0).UTC(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Records:    tx.records,
		Positions:  tx.positions.Touched(),
		Balances:   c.touchedBalances(tx.batch),
		StateDelta: stateDigest,
	}
	if !tx.batch.IsEmpty() {
		output.Batch = tx.batch
	}
	c.sequence++
	c.clock = now

	// Step 7: Emit. Persistence blocks so no command is lost; projections
	// drop on a full channel and rebuild from the event log.
	if c.persistChan != nil && !replay {
		c.persistChan <- output
	}
	if c.projectionChan != nil && !replay {
		select {
		case c.projectionChan <- output:
		default:
		}
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.CoreJournals.Add(float64(len(tx.batch.Journals)))
		c.metrics.InsuranceFundBalance.Set(float64(c.vault.InsuranceFund().Balance()))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
		c.metrics.DedupLRUEvictions.Set(float64(c.idempotency.GetMetrics().Evictions()))
		c.metrics.DedupTier2Errors.Set(float64(c.idempotency.GetMetrics().GetTier2Errors()))
		for _, id := range tx.fundingMarkets {
			c.metrics.FundingGrowth.WithLabelValues(id).Set(float64(c.positions.Funding(id).Growth))
		}
	}

	return nil
}

func (c *ClearingEngine) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// rejectReason maps an error to a low-cardinality metric label.
func rejectReason(err error) string {
	reasons := []struct {
		err   error
		label string
	}{
		{ErrInsufficientMargin, "insufficient_margin"},
		{ErrInsufficientFreeCollateral, "insufficient_free_collateral"},
		{ErrSlippageExceeded, "slippage"},
		{ErrDeadlineExpired, "deadline"},
		{ErrMarketNotOpen, "market_not_open"},
		{ErrMarketNotPaused, "market_not_paused"},
		{ErrCooldownNotExpired, "cooldown"},
		{ErrAccountHealthy, "account_healthy"},
		{ErrNoPosition, "no_position"},
		{ErrUnauthorized, "unauthorized"},
		{ErrInsufficientLiquidity, "insufficient_liquidity"},
		{ErrMaxPositionNotional, "max_notional"},
		{ErrUnknownMarket, "unknown_market"},
		{ErrInvalidAsset, "invalid_asset"},
		{ErrInvalidAmount, "invalid_amount"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}

// getPartition determines partition key for sequence validation
func (c *ClearingEngine) getPartition(cmd event.Event) string {
	return partitionKey(cmd.MarketID())
}

func partitionKey(marketID *string) string {
	if marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

func (c *ClearingEngine) dispatch(tx *txn, cmd event.Event) error {
	switch e := cmd.(type) {
	case *event.Deposit:
		return c.handleDeposit(tx, e)
	case *event.Withdraw:
		return c.handleWithdraw(tx, e)
	case *event.InsuranceFundTopUp:
		return c.handleInsuranceFundTopUp(tx, e)
	case *event.IndexPriceUpdate:
		return c.handleIndexPriceUpdate(tx, e)
	case *event.CollateralPriceUpdate:
		return c.handleCollateralPriceUpdate(tx, e)
	case *event.OpenPosition:
		return c.handleOpenPosition(tx, e)
	case *event.ClosePosition:
		return c.handleClosePosition(tx, e)
	case *event.AddLiquidity:
		return c.handleAddLiquidity(tx, e)
	case *event.RemoveLiquidity:
		return c.handleRemoveLiquidity(tx, e)
	case *event.Liquidate:
		return c.handleLiquidate(tx, e)
	case *event.SettleFunding:
		return c.handleSettleFunding(tx, e)
	case *event.PauseMarket:
		return c.handlePauseMarket(tx, e)
	case *event.CloseMarket:
		return c.handleCloseMarket(tx, e)
	case *event.CloseMarketAfterCooldown:
		return c.handleCloseMarketAfterCooldown(tx, e)
	default:
		return fmt.Errorf("%w: unknown command type %T", ErrInvalidCommand, cmd)
	}
}

// commit installs a transaction. The batch is validated before anything is
// written so a malformed batch cannot leave state half applied.
func (c *ClearingEngine) commit(tx *txn) error {
	if !tx.batch.IsEmpty() {
		if err := c.validator.ValidateBatchBalance(tx.batch); err != nil {
			return fmt.Errorf("%w: unbalanced batch: %v", ErrInvariantViolation, err)
		}
	}
	if err := tx.pools.Commit(tx.now); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	tx.positions.Commit()
	tx.liquidations.Commit()
	if !tx.batch.IsEmpty() {
		if err := c.balances.ApplyBatch(tx.batch); err != nil {
			return fmt.Errorf("%w: apply batch: %v", ErrInvariantViolation, err)
		}
	}
	for _, apply := range tx.onCommit {
		apply()
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: the touched
// balances, positions and pools of this command.
func (c *ClearingEngine) computeStateDigest(tx *txn) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range tx.batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balances.GetBalance(key))
	}

	for _, pos := range tx.positions.Touched() {
		committed := c.positions.Position(pos.Account, pos.MarketID)
		digest = append(digest, committed.CanonicalBytes()...)
	}

	for _, id := range tx.pools.Touched() {
		p, err := c.pools.Pool(id)
		if err != nil {
			continue
		}
		digest = append(digest, byte(len(id)))
		digest = append(digest, id...)
		sqrt := p.SqrtPrice.Bytes32()
		digest = append(digest, sqrt[:]...)
		digest = appendInt64LE(digest, int64(p.Tick))
		digest = appendInt64LE(digest, p.Liquidity)
	}

	for _, id := range tx.fundingMarkets {
		digest = append(digest, id...)
		digest = appendInt64LE(digest, c.positions.Funding(id).Growth)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *ClearingEngine) touchedBalances(batch *ledger.Batch) map[ledger.AccountKey]int64 {
	out := make(map[ledger.AccountKey]int64)
	for _, j := range batch.Journals {
		out[j.DebitAccount] = c.balances.GetBalance(j.DebitAccount)
		out[j.CreditAccount] = c.balances.GetBalance(j.CreditAccount)
	}
	return out
}

// postCheckInvariants validates invariants after commit.
func (c *ClearingEngine) postCheckInvariants(tx *txn) error {
	// Non-settlement collateral never goes negative.
	for _, j := range tx.batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if userID, ok := key.UserID(); ok {
				if err := c.validator.ValidateUserCollateralNonNegative(userID, key.AssetID); err != nil {
					return err
				}
			}
		}
	}

	// Periodic zero-sum check over the whole ledger.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	Clock           int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Positions       state.PositionSnapshot
	Pools           []liquidity.PoolSnapshot
	Prices          oracle.FeedSnapshot
	Markets         map[string]state.StatusSnapshot
	Liquidations    state.LiquidationSnapshot
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the engine's in-memory state. Replay of the
// commands after snapshot.Sequence follows.
func (c *ClearingEngine) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.markets.Restore(snap.Markets); err != nil {
		return err
	}
	if err := c.pools.Restore(snap.Pools); err != nil {
		return err
	}
	c.sequence = snap.Sequence + 1
	c.clock = snap.Clock
	c.hasher.SetPrevHash(snap.StateHash)
	c.balances.Restore(snap.Balances)
	c.positions.Restore(snap.Positions)
	c.prices.Restore(snap.Prices)
	c.liquidations.Restore(snap.Liquidations)
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, next)
	}
	c.idempotency.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *ClearingEngine) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		Clock:           c.clock,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balances.Snapshot(),
		Positions:       c.positions.Snapshot(),
		Pools:           c.pools.Snapshot(),
		Prices:          c.prices.Snapshot(),
		Markets:         c.markets.Snapshot(),
		Liquidations:    c.liquidations.Snapshot(),
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *ClearingEngine) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence number.
func (c *ClearingEngine) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// NextSourceSequence returns the source sequence the next command for a
// market (nil for global commands) must carry.
func (c *ClearingEngine) NextSourceSequence(marketID *string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequenceValidator.GetExpectedSequence(partitionKey(marketID))
}

// AdvanceSourceSequences moves partition cursors past the given source
// sequences. Recovery feeds it the rejection log after replay.
func (c *ClearingEngine) AdvanceSourceSequences(cursors map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for partition, seq := range cursors {
		c.sequenceValidator.Advance(partition, seq)
	}
}

// GetStateHash returns the current state hash (chain tip).
func (c *ClearingEngine) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

func (c *ClearingEngine) IdempotencyMetrics() *IdempotencyMetrics {
	return c.idempotency.GetMetrics()
}
