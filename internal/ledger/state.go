package ledger

import (
	"sort"

	"github.com/iho/custody/internal/domain"
)

// state is the committed contents of a store. It is only mutated by apply,
// while holding both the write lock and the state lock.
type state struct {
	balances        map[Key]domain.Amount
	commitments     map[Key]domain.Amount
	custody         map[domain.Address]domain.Amount
	prices          map[domain.Address]domain.Amount
	orders          map[uint64]domain.Order
	agreements      map[domain.AgreementKey]domain.Agreement
	latestAgreement map[uint64]uint64
	escrows         map[uint64]domain.Escrow
	applications    map[uint64]domain.TransferApplication
	latestOrderID   uint64
	latestEscrowID  uint64
}

func newState() *state {
	return &state{
		balances:        make(map[Key]domain.Amount),
		commitments:     make(map[Key]domain.Amount),
		custody:         make(map[domain.Address]domain.Amount),
		prices:          make(map[domain.Address]domain.Amount),
		orders:          make(map[uint64]domain.Order),
		agreements:      make(map[domain.AgreementKey]domain.Agreement),
		latestAgreement: make(map[uint64]uint64),
		escrows:         make(map[uint64]domain.Escrow),
		applications:    make(map[uint64]domain.TransferApplication),
	}
}

// load replaces the state with the rows of r.
func (st *state) load(r Records) {
	for _, b := range r.Balances {
		k := Key{Owner: b.Owner, Asset: b.Asset}
		st.balances[k] = b.Available
		st.commitments[k] = b.Committed
	}
	for _, c := range r.Custody {
		st.custody[c.Asset] = c.Amount
	}
	for _, p := range r.Prices {
		st.prices[p.Asset] = p.Price
	}
	for _, o := range r.Orders {
		st.orders[o.ID] = o
		if o.ID > st.latestOrderID {
			st.latestOrderID = o.ID
		}
	}
	for _, a := range r.Agreements {
		st.agreements[domain.AgreementKey{OrderID: a.OrderID, AgreementID: a.ID}] = a
		if a.ID > st.latestAgreement[a.OrderID] {
			st.latestAgreement[a.OrderID] = a.ID
		}
	}
	for _, e := range r.Escrows {
		st.escrows[e.ID] = e
		if e.ID > st.latestEscrowID {
			st.latestEscrowID = e.ID
		}
	}
	for _, a := range r.Applications {
		st.applications[a.EscrowID] = a
	}
	if r.Counters != nil {
		if r.Counters.LatestOrderID > st.latestOrderID {
			st.latestOrderID = r.Counters.LatestOrderID
		}
		if r.Counters.LatestEscrowID > st.latestEscrowID {
			st.latestEscrowID = r.Counters.LatestEscrowID
		}
	}
}

// records dumps the full state in a deterministic order.
func (st *state) records() Records {
	var r Records

	keys := make(map[Key]struct{}, len(st.balances)+len(st.commitments))
	for k := range st.balances {
		keys[k] = struct{}{}
	}
	for k := range st.commitments {
		keys[k] = struct{}{}
	}
	for k := range keys {
		r.Balances = append(r.Balances, BalanceRow{
			Owner:     k.Owner,
			Asset:     k.Asset,
			Available: st.balances[k],
			Committed: st.commitments[k],
		})
	}
	sortBalances(r.Balances)

	for asset, amount := range st.custody {
		r.Custody = append(r.Custody, CustodyRow{Asset: asset, Amount: amount})
	}
	sort.Slice(r.Custody, func(i, j int) bool { return r.Custody[i].Asset < r.Custody[j].Asset })

	for asset, price := range st.prices {
		r.Prices = append(r.Prices, PriceRow{Asset: asset, Price: price})
	}
	sort.Slice(r.Prices, func(i, j int) bool { return r.Prices[i].Asset < r.Prices[j].Asset })

	r.Orders = sortedOrders(st.orders)
	r.Agreements = sortedAgreements(st.agreements)
	r.Escrows = sortedEscrows(st.escrows)
	r.Applications = sortedApplications(st.applications)
	r.Counters = &Counters{LatestOrderID: st.latestOrderID, LatestEscrowID: st.latestEscrowID}
	return r
}

func sortBalances(rows []BalanceRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Owner != rows[j].Owner {
			return rows[i].Owner < rows[j].Owner
		}
		return rows[i].Asset < rows[j].Asset
	})
}

func sortedOrders(m map[uint64]domain.Order) []domain.Order {
	out := make([]domain.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedAgreements(m map[domain.AgreementKey]domain.Agreement) []domain.Agreement {
	out := make([]domain.Agreement, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedEscrows(m map[uint64]domain.Escrow) []domain.Escrow {
	out := make([]domain.Escrow, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedApplications(m map[uint64]domain.TransferApplication) []domain.TransferApplication {
	out := make([]domain.TransferApplication, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscrowID < out[j].EscrowID })
	return out
}
