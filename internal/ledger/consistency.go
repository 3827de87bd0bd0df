package ledger

import (
	"sort"

	"github.com/iho/custody/internal/domain"
)

// AssetTotals sums every position in one asset.
type AssetTotals struct {
	Asset     domain.Address `json:"asset"`
	Available domain.Amount  `json:"available"`
	Committed domain.Amount  `json:"committed"`
	Custody   domain.Amount  `json:"custody"`
}

// Discrepancy is a commitment that is not explained by open records.
type Discrepancy struct {
	Owner    domain.Address `json:"owner"`
	Asset    domain.Address `json:"asset"`
	Actual   domain.Amount  `json:"actual"`
	Expected domain.Amount  `json:"expected"`
}

// ConsistencyReport is the result of CheckConsistency.
type ConsistencyReport struct {
	Store         string        `json:"store"`
	Consistent    bool          `json:"consistent"`
	Assets        []AssetTotals `json:"assets"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	// Unbalanced lists assets whose available plus committed total differs
	// from custody.
	Unbalanced []domain.Address `json:"unbalanced,omitempty"`
}

// CheckConsistency verifies that per asset available plus committed equals
// the units in custody, and that every commitment is backed by an open sell
// order remainder, a pending agreement or an unsettled escrow.
func (s *Store) CheckConsistency() ConsistencyReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st

	expected := make(map[Key]uint64)
	for _, o := range st.orders {
		if o.MakerCommits() && !o.Canceled {
			expected[Key{Owner: o.Maker, Asset: o.Asset}] += uint64(o.Remaining)
		}
	}
	for _, a := range st.agreements {
		if a.Terminal() {
			continue
		}
		o := st.orders[a.OrderID]
		owner := o.Maker
		if !o.MakerCommits() {
			owner = a.Counterparty
		}
		expected[Key{Owner: owner, Asset: o.Asset}] += uint64(a.Amount)
	}
	for _, e := range st.escrows {
		if e.Valid || (!e.Settled && st.applications[e.ID].AwaitingApproval()) {
			expected[Key{Owner: e.Sender, Asset: e.Asset}] += uint64(e.Amount)
		}
	}

	totals := make(map[domain.Address]*AssetTotals)
	total := func(asset domain.Address) *AssetTotals {
		t, ok := totals[asset]
		if !ok {
			t = &AssetTotals{Asset: asset, Custody: st.custody[asset]}
			totals[asset] = t
		}
		return t
	}
	for asset := range st.custody {
		total(asset)
	}
	for k, v := range st.balances {
		total(k.Asset).Available += v
	}

	report := ConsistencyReport{Store: s.name, Consistent: true}

	keys := make(map[Key]struct{}, len(st.commitments)+len(expected))
	for k := range st.commitments {
		keys[k] = struct{}{}
	}
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range keys {
		actual := st.commitments[k]
		total(k.Asset).Committed += actual
		if uint64(actual) != expected[k] {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Owner:    k.Owner,
				Asset:    k.Asset,
				Actual:   actual,
				Expected: domain.Amount(expected[k]),
			})
		}
	}
	sort.Slice(report.Discrepancies, func(i, j int) bool {
		if report.Discrepancies[i].Owner != report.Discrepancies[j].Owner {
			return report.Discrepancies[i].Owner < report.Discrepancies[j].Owner
		}
		return report.Discrepancies[i].Asset < report.Discrepancies[j].Asset
	})

	for _, t := range totals {
		report.Assets = append(report.Assets, *t)
		held, err := t.Available.Add(t.Committed)
		if err != nil || held != t.Custody {
			report.Unbalanced = append(report.Unbalanced, t.Asset)
		}
	}
	sort.Slice(report.Assets, func(i, j int) bool { return report.Assets[i].Asset < report.Assets[j].Asset })
	sort.Slice(report.Unbalanced, func(i, j int) bool { return report.Unbalanced[i] < report.Unbalanced[j] })

	report.Consistent = len(report.Discrepancies) == 0 && len(report.Unbalanced) == 0
	return report
}
