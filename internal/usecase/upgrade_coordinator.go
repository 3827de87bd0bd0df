package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// Versions maps writer identities to the engine instances registered for
// one store. Current resolves whichever one the store's pointer names, so
// callers never hold on to a stale engine across an upgrade.
type Versions[E any] struct {
	store   *ledger.Store
	mu      sync.RWMutex
	engines map[domain.WriterID]E
}

// NewVersions creates an empty registry for store.
func NewVersions[E any](store *ledger.Store) *Versions[E] {
	return &Versions[E]{store: store, engines: make(map[domain.WriterID]E)}
}

// Add registers engine as writer.
func (v *Versions[E]) Add(writer domain.WriterID, engine E) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.engines[writer] = engine
}

// Get returns the engine registered as writer.
func (v *Versions[E]) Get(writer domain.WriterID) (E, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.engines[writer]
	return e, ok
}

// Current returns the engine currently authorized on the store.
func (v *Versions[E]) Current() (E, error) {
	writer := v.store.Writer()
	e, ok := v.Get(writer)
	if !ok {
		return e, fmt.Errorf("%w: %s has no engine registered for %q", domain.ErrUnknownWriter, v.store.Name(), writer)
	}
	return e, nil
}

// Store returns the store the versions write to.
func (v *Versions[E]) Store() *ledger.Store {
	return v.store
}

// Writers lists the registered writer identities.
func (v *Versions[E]) Writers() []domain.WriterID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.WriterID, 0, len(v.engines))
	for w := range v.engines {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StoreVersion describes one store known to the coordinator.
type StoreVersion struct {
	Store   string            `json:"store"`
	Writer  domain.WriterID   `json:"writer"`
	Writers []domain.WriterID `json:"writers"`
}

type registeredStore struct {
	store   *ledger.Store
	writers func() []domain.WriterID
}

// UpgradeCoordinator repoints ledger stores to new engine versions on
// behalf of admins. It is the only holder of the upgrader identity.
type UpgradeCoordinator struct {
	identity domain.WriterID
	admins   map[domain.Address]bool
	logger   zerolog.Logger
	recorder Recorder

	mu     sync.RWMutex
	stores map[string]registeredStore
}

// NewUpgradeCoordinator creates a coordinator acting as identity.
func NewUpgradeCoordinator(identity domain.WriterID, admins []domain.Address, opts ...Option) *UpgradeCoordinator {
	o := buildOptions(opts)
	set := make(map[domain.Address]bool, len(admins))
	for _, a := range admins {
		set[a] = true
	}
	return &UpgradeCoordinator{
		identity: identity,
		admins:   set,
		logger:   o.logger.With().Str("engine", EngineUpgrade).Logger(),
		recorder: o.recorder,
		stores:   make(map[string]registeredStore),
	}
}

// Identity is the upgrader identity stores must be created with.
func (c *UpgradeCoordinator) Identity() domain.WriterID {
	return c.identity
}

// Register makes store upgradable. When writers is non-nil, upgrades are
// limited to the identities it returns.
func (c *UpgradeCoordinator) Register(store *ledger.Store, writers func() []domain.WriterID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[store.Name()] = registeredStore{store: store, writers: writers}
}

// IsAdmin reports whether caller may upgrade.
func (c *UpgradeCoordinator) IsAdmin(caller domain.Address) bool {
	return c.admins[caller]
}

// UpgradeVersion repoints a store to newWriter. Existing records are left
// untouched and every other engine loses write authority immediately.
func (c *UpgradeCoordinator) UpgradeVersion(ctx context.Context, storeName string, newWriter domain.WriterID, caller domain.Address) (err error) {
	start := time.Now()
	defer func() {
		result := ResultApplied
		if err != nil {
			result = ResultError
		}
		if c.recorder != nil {
			c.recorder.ObserveOperation(EngineUpgrade, "upgrade_version", result, time.Since(start))
		}
	}()

	if err := caller.Validate(); err != nil {
		return err
	}
	if err := newWriter.Validate(); err != nil {
		return err
	}
	if !c.IsAdmin(caller) {
		c.logger.Warn().Str("caller", caller.String()).Str("store", storeName).Msg("upgrade refused")
		return fmt.Errorf("%w: %s is not an admin", domain.ErrUnauthorized, caller)
	}

	c.mu.RLock()
	reg, ok := c.stores[storeName]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownStore, storeName)
	}
	if reg.writers != nil && !containsWriter(reg.writers(), newWriter) {
		return fmt.Errorf("%w: %q for %s", domain.ErrUnknownWriter, newWriter, storeName)
	}

	previous := reg.store.Writer()
	if err := reg.store.SetAuthorizedWriter(ctx, c.identity, newWriter); err != nil {
		return err
	}

	c.logger.Info().
		Str("store", storeName).
		Str("previous", string(previous)).
		Str("current", string(newWriter)).
		Str("caller", caller.String()).
		Msg("store upgraded")
	return nil
}

// Stores lists every registered store with its current writer.
func (c *UpgradeCoordinator) Stores() []StoreVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]StoreVersion, 0, len(c.stores))
	for name, reg := range c.stores {
		sv := StoreVersion{Store: name, Writer: reg.store.Writer()}
		if reg.writers != nil {
			sv.Writers = reg.writers()
		}
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Store < out[j].Store })
	return out
}

func containsWriter(writers []domain.WriterID, w domain.WriterID) bool {
	for _, candidate := range writers {
		if candidate == w {
			return true
		}
	}
	return false
}
