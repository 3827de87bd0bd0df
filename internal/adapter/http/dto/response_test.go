package dto

import (
	"encoding/json"
	"testing"

	"github.com/iho/custody/internal/domain"
)

func TestOrderFromDomainIncludesStatus(t *testing.T) {
	o := domain.Order{ID: 1, Maker: maker, Asset: asset, Remaining: 0, OriginalAmount: 10, Side: domain.SideSell}

	raw, err := json.Marshal(OrderFromDomain(o))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["status"] != string(domain.OrderStatusExhausted) || got["maker"] != string(maker) {
		t.Fatalf("unexpected order body %s", raw)
	}
}

func TestEscrowFromDomainOmitsMissingApplication(t *testing.T) {
	e := domain.Escrow{ID: 2, Asset: asset, Sender: maker, Amount: 5, Valid: true}

	resp := EscrowFromDomain(e, domain.TransferApplication{})
	if resp.Application != nil {
		t.Fatalf("expected no application, got %+v", resp.Application)
	}
	if resp.Status != e.Status(domain.TransferApplication{}) {
		t.Fatalf("unexpected status %s", resp.Status)
	}

	app := domain.TransferApplication{EscrowID: 2, Pending: true, Valid: true}
	resp = EscrowFromDomain(e, app)
	if resp.Application == nil || resp.Application.EscrowID != 2 {
		t.Fatalf("expected application to be attached")
	}
}
