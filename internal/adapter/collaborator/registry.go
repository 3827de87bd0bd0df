// Package collaborator provides a config-driven, in-process stand-in for
// the asset token and payment-gateway collaborators.
package collaborator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/domain"
)

// AssetConfig describes one asset known to the registry.
type AssetConfig struct {
	Address          domain.Address
	Tradable         bool
	RequiresApproval bool
	Approvers        []domain.Address
}

// Config is the static collaborator setup.
type Config struct {
	Assets []AssetConfig
	Agents []domain.Address
}

// ParseConfig builds a Config from address lists. approvers holds
// "asset:approver" pairs.
func ParseConfig(tradable, approval, agents, approvers []string) (Config, error) {
	assets := make(map[domain.Address]*AssetConfig)
	var order []domain.Address
	get := func(raw string) (*AssetConfig, error) {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		a, ok := assets[addr]
		if !ok {
			a = &AssetConfig{Address: addr}
			assets[addr] = a
			order = append(order, addr)
		}
		return a, nil
	}

	for _, raw := range tradable {
		a, err := get(raw)
		if err != nil {
			return Config{}, fmt.Errorf("tradable asset: %w", err)
		}
		a.Tradable = true
	}
	for _, raw := range approval {
		a, err := get(raw)
		if err != nil {
			return Config{}, fmt.Errorf("approval asset: %w", err)
		}
		a.RequiresApproval = true
	}
	for _, pair := range approvers {
		assetRaw, approverRaw, ok := strings.Cut(pair, ":")
		if !ok {
			return Config{}, fmt.Errorf("%w: approver entry %q must be asset:approver", domain.ErrMalformedInput, pair)
		}
		a, err := get(assetRaw)
		if err != nil {
			return Config{}, fmt.Errorf("approver asset: %w", err)
		}
		approver, err := domain.ParseAddress(approverRaw)
		if err != nil {
			return Config{}, fmt.Errorf("approver: %w", err)
		}
		a.Approvers = append(a.Approvers, approver)
	}

	cfg := Config{}
	for _, addr := range order {
		cfg.Assets = append(cfg.Assets, *assets[addr])
	}
	for _, raw := range agents {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return Config{}, fmt.Errorf("payment agent: %w", err)
		}
		cfg.Agents = append(cfg.Agents, addr)
	}
	return cfg, nil
}

// Transfer is one transfer out of custody.
type Transfer struct {
	Asset  domain.Address `json:"asset"`
	To     domain.Address `json:"to"`
	Amount domain.Amount  `json:"amount"`
	At     time.Time      `json:"at"`
}

// Application is the collaborator-side view of a transfer application.
type Application struct {
	Asset           domain.Address `json:"asset"`
	EscrowID        uint64         `json:"escrow_id"`
	ApplicationData string         `json:"application_data"`
	Canceled        bool           `json:"canceled"`
}

type assetState struct {
	tradable  bool
	approval  bool
	approvers map[domain.Address]bool
}

// Registry implements usecase.AssetGateway and usecase.AgentRegistry.
type Registry struct {
	mu           sync.RWMutex
	assets       map[domain.Address]*assetState
	agents       map[domain.Address]bool
	transfers    []Transfer
	applications map[uint64]Application
	logger       zerolog.Logger
	clock        func() time.Time
}

// NewRegistry creates a registry from cfg.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	r := &Registry{
		assets:       make(map[domain.Address]*assetState),
		agents:       make(map[domain.Address]bool),
		applications: make(map[uint64]Application),
		logger:       logger.With().Str("component", "collaborator").Logger(),
		clock:        time.Now,
	}
	for _, a := range cfg.Assets {
		st := &assetState{tradable: a.Tradable, approval: a.RequiresApproval, approvers: make(map[domain.Address]bool)}
		for _, approver := range a.Approvers {
			st.approvers[approver] = true
		}
		r.assets[a.Address] = st
	}
	for _, agent := range cfg.Agents {
		r.agents[agent] = true
	}
	return r
}

// IsTradable reports the asset's status flag. Unknown assets are not tradable.
func (r *Registry) IsTradable(_ context.Context, asset domain.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.assets[asset]
	return ok && st.tradable, nil
}

// SetTradable flips an asset's status flag, registering the asset if needed.
func (r *Registry) SetTradable(asset domain.Address, tradable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.assets[asset]
	if !ok {
		st = &assetState{approvers: make(map[domain.Address]bool)}
		r.assets[asset] = st
	}
	st.tradable = tradable
	r.logger.Info().Str("asset", asset.String()).Bool("tradable", tradable).Msg("asset status changed")
}

func (r *Registry) RequiresTransferApproval(_ context.Context, asset domain.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.assets[asset]
	return ok && st.approval, nil
}

func (r *Registry) IsApprover(_ context.Context, asset, caller domain.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.assets[asset]
	return ok && st.approvers[caller], nil
}

// TransferOut records a transfer of asset to the holder.
func (r *Registry) TransferOut(ctx context.Context, asset, to domain.Address, amount domain.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, Transfer{Asset: asset, To: to, Amount: amount, At: r.clock()})
	r.logger.Info().Str("asset", asset.String()).Str("to", to.String()).Stringer("amount", amount).Msg("transfer out")
	return nil
}

func (r *Registry) ApplyForTransfer(ctx context.Context, asset domain.Address, escrowID uint64, applicationData string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.applications[escrowID]; ok && !prev.Canceled {
		return fmt.Errorf("transfer application for escrow %d already open", escrowID)
	}
	r.applications[escrowID] = Application{Asset: asset, EscrowID: escrowID, ApplicationData: applicationData}
	r.logger.Info().Str("asset", asset.String()).Uint64("escrow_id", escrowID).Msg("transfer application received")
	return nil
}

func (r *Registry) CancelTransferApplication(ctx context.Context, asset domain.Address, escrowID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.applications[escrowID]
	if !ok {
		app = Application{Asset: asset, EscrowID: escrowID}
	}
	app.Canceled = true
	r.applications[escrowID] = app
	r.logger.Info().Str("asset", asset.String()).Uint64("escrow_id", escrowID).Msg("transfer application canceled")
	return nil
}

// IsAgent reports whether agent is a recognized payment agent.
func (r *Registry) IsAgent(_ context.Context, agent domain.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agent], nil
}

// Transfers returns the transfers out recorded so far.
func (r *Registry) Transfers() []Transfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.transfers)
}

// Application returns the collaborator-side record for an escrow.
func (r *Registry) Application(escrowID uint64) (Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.applications[escrowID]
	return app, ok
}
