// Package protocol wires one lending pool instance together: the access
// registry, the liquidity asset and share ledgers, the pool and its loan desk,
// all persisted through a single state manager.
package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendpool/config"
	"lendpool/core/events"
	"lendpool/core/state"
	"lendpool/core/types"
	"lendpool/crypto"
	"lendpool/native/access"
	"lendpool/native/loandesk"
	"lendpool/native/pool"
	"lendpool/native/token"
	"lendpool/storage"
)

var (
	errNilDatabase = errors.New("protocol: database not configured")
	errNilConfig   = errors.New("protocol: config not provided")
)

// Engines are the components a call may use. They share one state and are
// only valid inside Execute or View.
type Engines struct {
	Access *access.Registry
	Asset  *token.Ledger
	Shares *token.Ledger
	Pool   *pool.Engine
	Desk   *loandesk.Engine
}

// Option customises a Protocol at construction.
type Option func(*Protocol)

// WithClock overrides the wall clock used by the pool and the desk.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) {
		if now != nil {
			p.nowFn = now
		}
	}
}

// WithEmitter forwards the events of every committed call.
func WithEmitter(emitter events.Emitter) Option {
	return func(p *Protocol) {
		if emitter != nil {
			p.downstream = emitter
		}
	}
}

// Protocol serialises calls against a pool instance. Each call either commits
// all of its writes and events or none of them.
type Protocol struct {
	mu         sync.Mutex
	poolID     string
	state      *state.Manager
	recorder   *events.Recorder
	downstream events.Emitter
	nowFn      func() time.Time
	engines    *Engines
}

// DeriveAddress returns the custody address of a protocol component.
func DeriveAddress(poolID, component string) crypto.Address {
	return crypto.BytesToAddress(ethcrypto.Keccak256([]byte("lendpool/" + poolID + "/" + component)))
}

// New opens the pool described by cfg over db. On first use the genesis roles
// and parameters are written; afterwards the persisted parameters win.
func New(db storage.Database, cfg *config.Config, opts ...Option) (*Protocol, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if cfg == nil {
		return nil, errNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		poolID:     cfg.PoolID,
		state:      state.NewManager(db),
		recorder:   &events.Recorder{},
		downstream: events.NoopEmitter{},
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	poolAddr := DeriveAddress(cfg.PoolID, "pool")
	deskAddr := DeriveAddress(cfg.PoolID, "loandesk")
	registry := access.NewRegistry(p.state)
	asset := token.NewLedger(p.state, cfg.Asset.Symbol, cfg.Asset.Decimals, genesis.AssetMinter)
	shares := token.NewLedger(p.state, cfg.Shares.Symbol, cfg.Shares.Decimals, poolAddr)

	poolEngine := pool.NewEngine(cfg.PoolID, poolAddr, asset, shares)
	desk := loandesk.NewEngine(cfg.PoolID, deskAddr, poolEngine)
	poolEngine.SetState(p.state)
	poolEngine.SetAccess(registry)
	poolEngine.SetPauses(registry)
	poolEngine.SetEmitter(p.recorder)
	poolEngine.SetNowFunc(p.nowFn)
	poolEngine.SetTreasury(genesis.Treasury)
	poolEngine.SetLoanDesk(deskAddr, desk)
	desk.SetState(p.state)
	desk.SetAccess(registry)
	desk.SetPauses(registry)
	desk.SetEmitter(p.recorder)
	desk.SetNowFunc(p.nowFn)

	p.engines = &Engines{
		Access: registry,
		Asset:  asset,
		Shares: shares,
		Pool:   poolEngine,
		Desk:   desk,
	}
	if err := p.bootstrap(cfg, genesis); err != nil {
		p.state.Discard()
		return nil, err
	}
	return p, nil
}

func (p *Protocol) genesisKey() []byte {
	return []byte("protocol/" + p.poolID + "/genesis")
}

func (p *Protocol) bootstrap(cfg *config.Config, genesis *config.Genesis) error {
	done, err := p.state.KVGet(p.genesisKey(), nil)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	poolParams, err := cfg.PoolParams()
	if err != nil {
		return err
	}
	deskParams, err := cfg.DeskParams()
	if err != nil {
		return err
	}

	reg := p.engines.Access
	gov := genesis.Governance
	if err := reg.Bootstrap(gov); err != nil {
		return err
	}
	grants := []struct {
		role  string
		addrs []crypto.Address
	}{
		{access.RoleTreasury, []crypto.Address{genesis.Treasury}},
		{access.RolePauser, genesis.Pausers},
		{access.PoolRole(cfg.PoolID, access.RoleStaker), genesis.Stakers},
		{access.PoolRole(cfg.PoolID, access.RoleLenderGovernance), genesis.LenderGovernance},
	}
	for _, g := range grants {
		for _, addr := range g.addrs {
			if err := reg.Grant(gov, g.role, addr); err != nil {
				return fmt.Errorf("protocol: grant %s: %w", g.role, err)
			}
		}
	}
	if err := p.engines.Pool.Initialize(poolParams); err != nil {
		return err
	}
	if err := p.engines.Desk.Initialize(deskParams); err != nil {
		return err
	}
	if err := p.state.KVPut(p.genesisKey(), uint64(p.nowFn().Unix())); err != nil {
		return err
	}
	return p.state.Commit()
}

// PoolID returns the pool identifier.
func (p *Protocol) PoolID() string { return p.poolID }

// PoolAddress returns the custody address of the pool.
func (p *Protocol) PoolAddress() crypto.Address { return p.engines.Pool.Address() }

// DeskAddress returns the address the pool accepts loan hooks from.
func (p *Protocol) DeskAddress() crypto.Address { return p.engines.Desk.Address() }

// Execute runs fn as one call. When fn succeeds every write is committed and
// the events it produced are returned; otherwise nothing is kept.
func (p *Protocol) Execute(fn func(*Engines) error) ([]*types.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark := p.recorder.Len()
	if err := fn(p.engines); err != nil {
		p.rollback(mark)
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		p.rollback(mark)
		return nil, err
	}
	emitted := p.recorder.Drain()
	for _, evt := range emitted {
		p.downstream.Emit(events.Wrap(evt))
	}
	return emitted, nil
}

func (p *Protocol) rollback(mark int) {
	p.state.Discard()
	p.recorder.Truncate(mark)
}

// View runs fn against committed state. Writes made by fn are discarded.
func (p *Protocol) View(fn func(*Engines) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.state.Discard()
	return fn(p.engines)
}
