package mocks

import (
	"context"
	"sync"

	"github.com/iho/custody/internal/domain"
)

// TransferOut is one recorded transfer out of custody.
type TransferOut struct {
	Asset  domain.Address
	To     domain.Address
	Amount domain.Amount
}

// FakeAssetGateway is a configurable in-memory AssetGateway.
type FakeAssetGateway struct {
	mu           sync.Mutex
	Tradable     map[domain.Address]bool
	Approval     map[domain.Address]bool
	Approvers    map[domain.Address]domain.Address
	Transfers    []TransferOut
	Applications map[uint64]string
	Canceled     []uint64

	IsTradableFunc                func(ctx context.Context, asset domain.Address) (bool, error)
	TransferOutFunc               func(ctx context.Context, asset, to domain.Address, amount domain.Amount) error
	ApplyForTransferFunc          func(ctx context.Context, asset domain.Address, escrowID uint64, applicationData string) error
	CancelTransferApplicationFunc func(ctx context.Context, asset domain.Address, escrowID uint64) error
}

// NewFakeAssetGateway creates a gateway where the given assets are tradable.
func NewFakeAssetGateway(tradable ...domain.Address) *FakeAssetGateway {
	g := &FakeAssetGateway{
		Tradable:     make(map[domain.Address]bool),
		Approval:     make(map[domain.Address]bool),
		Approvers:    make(map[domain.Address]domain.Address),
		Applications: make(map[uint64]string),
	}
	for _, a := range tradable {
		g.Tradable[a] = true
	}
	return g
}

func (g *FakeAssetGateway) IsTradable(ctx context.Context, asset domain.Address) (bool, error) {
	if g.IsTradableFunc != nil {
		return g.IsTradableFunc(ctx, asset)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Tradable[asset], nil
}

func (g *FakeAssetGateway) RequiresTransferApproval(_ context.Context, asset domain.Address) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Approval[asset], nil
}

func (g *FakeAssetGateway) IsApprover(_ context.Context, asset, caller domain.Address) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	approver, ok := g.Approvers[asset]
	return ok && approver == caller, nil
}

func (g *FakeAssetGateway) TransferOut(ctx context.Context, asset, to domain.Address, amount domain.Amount) error {
	if g.TransferOutFunc != nil {
		if err := g.TransferOutFunc(ctx, asset, to, amount); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Transfers = append(g.Transfers, TransferOut{Asset: asset, To: to, Amount: amount})
	return nil
}

func (g *FakeAssetGateway) ApplyForTransfer(ctx context.Context, asset domain.Address, escrowID uint64, applicationData string) error {
	if g.ApplyForTransferFunc != nil {
		if err := g.ApplyForTransferFunc(ctx, asset, escrowID, applicationData); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Applications[escrowID] = applicationData
	return nil
}

func (g *FakeAssetGateway) CancelTransferApplication(ctx context.Context, asset domain.Address, escrowID uint64) error {
	if g.CancelTransferApplicationFunc != nil {
		if err := g.CancelTransferApplicationFunc(ctx, asset, escrowID); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Canceled = append(g.Canceled, escrowID)
	return nil
}

// TransfersOut returns a copy of the recorded transfers.
func (g *FakeAssetGateway) TransfersOut() []TransferOut {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransferOut(nil), g.Transfers...)
}

// FakeAgentRegistry is a fixed set of payment agents.
type FakeAgentRegistry struct {
	Agents map[domain.Address]bool
}

func NewFakeAgentRegistry(agents ...domain.Address) *FakeAgentRegistry {
	r := &FakeAgentRegistry{Agents: make(map[domain.Address]bool)}
	for _, a := range agents {
		r.Agents[a] = true
	}
	return r
}

func (r *FakeAgentRegistry) IsAgent(_ context.Context, agent domain.Address) (bool, error) {
	return r.Agents[agent], nil
}
