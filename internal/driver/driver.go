package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolwatch/internal/model"
	"poolwatch/internal/pool"
	"poolwatch/internal/storage"
)

var (
	// ErrPoolNotTracked is returned when an update targets a pool the
	// driver has never discovered.
	ErrPoolNotTracked = errors.New("pool is not tracked")
	// ErrPoolTracked is returned when tracking a pool twice.
	ErrPoolTracked = errors.New("pool is already tracked")
)

// ContractFactory builds the read-only contract handle for a pool.
type ContractFactory func(exchange string, address common.Address) (pool.Contract, error)

// PoolSpec describes a pool to track. CID defaults to the lowercase
// converter address when empty.
type PoolSpec struct {
	Exchange string
	Address  common.Address
	Tkn0     common.Address
	Tkn1     common.Address
	CID      string
}

// Config holds runtime settings for the driver.
type Config struct {
	// RefreshInterval is the period between contract-read drift
	// corrections in Run. Zero disables periodic refresh.
	RefreshInterval time.Duration
}

// Driver owns the tracked pools and serializes all updates per pool
// identity. Event and contract updates for the same pool never interleave;
// updates for different pools proceed in parallel. Committed deltas are
// fanned out to the configured sinks.
type Driver struct {
	cfg       Config
	registry  *pool.Registry
	contracts ContractFactory
	sinks     []storage.DeltaSink
	logger    *zap.Logger

	mu        sync.RWMutex
	pools     map[string]*trackedPool
	byAddress map[common.Address]*trackedPool
}

type trackedPool struct {
	// mu serializes every read-then-write cycle against this pool's
	// state, including the contract read itself.
	mu       sync.Mutex
	variant  pool.Variant
	state    *pool.State
	contract pool.Contract
}

// NewDriver builds a driver with its dependencies.
func NewDriver(cfg Config, registry *pool.Registry, contracts ContractFactory, sinks []storage.DeltaSink, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:       cfg,
		registry:  registry,
		contracts: contracts,
		sinks:     sinks,
		logger:    logger,
		pools:     make(map[string]*trackedPool),
		byAddress: make(map[common.Address]*trackedPool),
	}
}

// Track discovers a pool: it creates the state, performs the initial
// contract read, and starts accepting events for the pool's address. The
// pool is only registered once the initial read succeeds, so a tracked
// pool is always initialized.
func (d *Driver) Track(ctx context.Context, spec PoolSpec) (model.Delta, error) {
	variant, ok := d.registry.Get(spec.Exchange)
	if !ok {
		return nil, fmt.Errorf("track %s: unknown exchange %q", spec.Address.Hex(), spec.Exchange)
	}

	d.mu.RLock()
	_, exists := d.byAddress[spec.Address]
	d.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("track %s: %w", spec.Address.Hex(), ErrPoolTracked)
	}

	cid := spec.CID
	if cid == "" {
		cid = strings.ToLower(spec.Address.Hex())
	}
	state := pool.NewState(spec.Exchange, cid, spec.Address, spec.Tkn0, spec.Tkn1)

	contract, err := d.contracts(spec.Exchange, spec.Address)
	if err != nil {
		return nil, fmt.Errorf("track %s: build contract handle: %w", spec.Address.Hex(), err)
	}

	tp := &trackedPool{variant: variant, state: state, contract: contract}
	delta, err := variant.UpdateFromContract(ctx, state, contract)
	if err != nil {
		return nil, fmt.Errorf("track %s: initial contract read: %w", spec.Address.Hex(), err)
	}

	key := identityKey(variant, state)
	d.mu.Lock()
	if _, exists := d.byAddress[spec.Address]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("track %s: %w", spec.Address.Hex(), ErrPoolTracked)
	}
	d.pools[key] = tp
	d.byAddress[spec.Address] = tp
	d.mu.Unlock()

	d.commit(ctx, tp, delta, model.SourceContract, nil)
	d.logger.Info("pool tracked",
		zap.String("exchange", spec.Exchange),
		zap.String("address", spec.Address.Hex()),
		zap.String("cid", cid),
		zap.String("identity", key),
	)
	return delta, nil
}

// HandleEvent classifies the event, routes it to the tracked pool that
// emitted it, and applies the event translator under the pool's lock.
// Unclassified events and events from untracked addresses are surfaced as
// errors; the caller owns the skip/log/escalate decision.
func (d *Driver) HandleEvent(ctx context.Context, ev model.Event, seed model.Delta) (model.Delta, error) {
	variant, err := d.registry.Classify(ev)
	if err != nil {
		return nil, err
	}

	tp := d.lookup(ev.Address)
	if tp == nil {
		return nil, fmt.Errorf("event %s from %s: %w", ev.Type, ev.Address.Hex(), ErrPoolNotTracked)
	}
	if tp.variant.Name() != variant.Name() {
		return nil, fmt.Errorf("event %s from %s: classified as %s but pool is tracked as %s",
			ev.Type, ev.Address.Hex(), variant.Name(), tp.variant.Name())
	}

	tp.mu.Lock()
	delta, err := tp.variant.UpdateFromEvent(tp.state, ev, seed)
	tp.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.commit(ctx, tp, delta, model.SourceEvent, &ev)
	return delta, nil
}

// Refresh performs an authoritative contract read for one tracked pool.
func (d *Driver) Refresh(ctx context.Context, address common.Address) (model.Delta, error) {
	tp := d.lookup(address)
	if tp == nil {
		return nil, fmt.Errorf("refresh %s: %w", address.Hex(), ErrPoolNotTracked)
	}

	tp.mu.Lock()
	delta, err := tp.variant.UpdateFromContract(ctx, tp.state, tp.contract)
	tp.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.commit(ctx, tp, delta, model.SourceContract, nil)
	return delta, nil
}

// RefreshAll refreshes every tracked pool and reports how many failed.
func (d *Driver) RefreshAll(ctx context.Context) error {
	addresses := d.Addresses()

	var failed int
	for _, address := range addresses {
		if _, err := d.Refresh(ctx, address); err != nil {
			failed++
			d.logger.Warn("pool refresh failed", zap.String("address", address.Hex()), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("refresh: %d of %d pools failed", failed, len(addresses))
	}
	return nil
}

// Run drives periodic drift correction until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.RefreshAll(ctx); err != nil {
				d.logger.Warn("periodic refresh", zap.Error(err))
			}
		}
	}
}

// View returns the full current snapshot of a tracked pool.
func (d *Driver) View(address common.Address) (model.Delta, error) {
	tp := d.lookup(address)
	if tp == nil {
		return nil, fmt.Errorf("view %s: %w", address.Hex(), ErrPoolNotTracked)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.state.View(), nil
}

// Addresses returns the addresses of all tracked pools.
func (d *Driver) Addresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]common.Address, 0, len(d.byAddress))
	for address := range d.byAddress {
		out = append(out, address)
	}
	return out
}

func (d *Driver) lookup(address common.Address) *trackedPool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byAddress[address]
}

// commit fans the committed delta out to the sinks. The state update has
// already happened; sink failures are logged, not propagated, so a slow
// or broken consumer cannot corrupt reconciliation.
func (d *Driver) commit(ctx context.Context, tp *trackedPool, delta model.Delta, source string, ev *model.Event) {
	if len(d.sinks) == 0 {
		return
	}

	rec, err := model.NewDeltaRecord(delta, source)
	if err != nil {
		d.logger.Error("build delta record", zap.Error(err))
		return
	}
	// Deltas carry only what changed; backfill the fixed identity from the
	// state so every persisted row is self-describing.
	if rec.Address == "" {
		rec.Address = tp.state.Address().Hex()
	}
	if rec.Tkn0Address == "" {
		rec.Tkn0Address = tp.state.Tkn0Address().Hex()
	}
	if rec.Tkn1Address == "" {
		rec.Tkn1Address = tp.state.Tkn1Address().Hex()
	}
	if ev != nil {
		rec.BlockNumber = ev.BlockNumber
		rec.TxHash = ev.TxHash
	}
	rec.IngestedAt = time.Now().UTC().Format(time.RFC3339Nano)

	for _, sink := range d.sinks {
		if err := sink.PutDeltaBatch(ctx, []model.DeltaRecord{rec}); err != nil {
			d.logger.Error("sink delta", zap.String("cid", rec.CID), zap.Error(err))
		}
	}
}

// identityKey joins the variant's unique-key field values into the stable
// lookup key for one logical pool.
func identityKey(v pool.Variant, st *pool.State) string {
	view := st.View()
	fields := v.UniqueKeyFields()
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%v", view[field]))
	}
	return strings.ToLower(strings.Join(parts, "+"))
}
