package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/iho/custody/internal/domain"
)

// Tx stages the changes of one operation. Reads see the committed state
// overlaid with the changes staged so far. Every mutator re-checks write
// authority.
type Tx struct {
	store  *Store
	writer domain.WriterID
	closed bool

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
	events          []*domain.OutboxEvent
	after           []func(context.Context) error
}

func newTx(s *Store, writer domain.WriterID) *Tx {
	return &Tx{
		store:           s,
		writer:          writer,
		balances:        make(map[Key]domain.Amount),
		commitments:     make(map[Key]domain.Amount),
		custody:         make(map[domain.Address]domain.Amount),
		prices:          make(map[domain.Address]domain.Amount),
		orders:          make(map[uint64]domain.Order),
		agreements:      make(map[domain.AgreementKey]domain.Agreement),
		latestAgreement: make(map[uint64]uint64),
		escrows:         make(map[uint64]domain.Escrow),
		applications:    make(map[uint64]domain.TransferApplication),
		latestOrderID:   s.st.latestOrderID,
		latestEscrowID:  s.st.latestEscrowID,
	}
}

func (t *Tx) authorize() error {
	if t.closed {
		return ErrTxClosed
	}
	return t.store.authorize(t.writer)
}

// Store returns the name of the store the transaction writes to.
func (t *Tx) Store() string {
	return t.store.name
}

// BalanceOf returns the available balance of owner in asset.
func (t *Tx) BalanceOf(owner, asset domain.Address) domain.Amount {
	k := Key{Owner: owner, Asset: asset}
	if v, ok := t.balances[k]; ok {
		return v
	}
	return t.store.st.balances[k]
}

// CommitmentOf returns the committed balance of owner in asset.
func (t *Tx) CommitmentOf(owner, asset domain.Address) domain.Amount {
	k := Key{Owner: owner, Asset: asset}
	if v, ok := t.commitments[k]; ok {
		return v
	}
	return t.store.st.commitments[k]
}

func (t *Tx) custodyOf(asset domain.Address) domain.Amount {
	if v, ok := t.custody[asset]; ok {
		return v
	}
	return t.store.st.custody[asset]
}

// Credit adds amount to the available balance of owner. It models units
// entering custody.
func (t *Tx) Credit(owner, asset domain.Address, amount domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	k := Key{Owner: owner, Asset: asset}
	available, err := t.BalanceOf(owner, asset).Add(amount)
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", owner, asset, err)
	}
	custody, err := t.custodyOf(asset).Add(amount)
	if err != nil {
		return fmt.Errorf("credit custody %s: %w", asset, err)
	}
	t.balances[k] = available
	t.custody[asset] = custody
	return nil
}

// Debit removes amount from the available balance of owner. It models units
// leaving custody.
func (t *Tx) Debit(owner, asset domain.Address, amount domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	k := Key{Owner: owner, Asset: asset}
	available, err := t.BalanceOf(owner, asset).Sub(amount)
	if err != nil {
		return fmt.Errorf("debit %s/%s: %w", owner, asset, err)
	}
	custody, err := t.custodyOf(asset).Sub(amount)
	if err != nil {
		return fmt.Errorf("debit custody %s: %w", asset, err)
	}
	t.balances[k] = available
	t.custody[asset] = custody
	return nil
}

// Commit moves amount of owner from available to committed.
func (t *Tx) Commit(owner, asset domain.Address, amount domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	k := Key{Owner: owner, Asset: asset}
	available, err := t.BalanceOf(owner, asset).Sub(amount)
	if err != nil {
		return fmt.Errorf("commit %s/%s: %w", owner, asset, err)
	}
	committed, err := t.CommitmentOf(owner, asset).Add(amount)
	if err != nil {
		return fmt.Errorf("commit %s/%s: %w", owner, asset, err)
	}
	t.balances[k] = available
	t.commitments[k] = committed
	return nil
}

// Release moves amount of owner from committed back to available.
func (t *Tx) Release(owner, asset domain.Address, amount domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	k := Key{Owner: owner, Asset: asset}
	committed, err := t.CommitmentOf(owner, asset).Sub(amount)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", owner, asset, err)
	}
	available, err := t.BalanceOf(owner, asset).Add(amount)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", owner, asset, err)
	}
	t.commitments[k] = committed
	t.balances[k] = available
	return nil
}

// Settle moves amount from the commitment of from to the available balance
// of to.
func (t *Tx) Settle(from, to, asset domain.Address, amount domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	fk := Key{Owner: from, Asset: asset}
	committed, err := t.CommitmentOf(from, asset).Sub(amount)
	if err != nil {
		return fmt.Errorf("settle %s/%s: %w", from, asset, err)
	}
	t.commitments[fk] = committed

	tk := Key{Owner: to, Asset: asset}
	available, err := t.BalanceOf(to, asset).Add(amount)
	if err != nil {
		return fmt.Errorf("settle %s/%s: %w", to, asset, err)
	}
	t.balances[tk] = available
	return nil
}

// LastPrice returns the last traded price of asset.
func (t *Tx) LastPrice(asset domain.Address) domain.Amount {
	if v, ok := t.prices[asset]; ok {
		return v
	}
	return t.store.st.prices[asset]
}

// SetLastPrice records the price of a confirmed trade.
func (t *Tx) SetLastPrice(asset domain.Address, price domain.Amount) error {
	if err := t.authorize(); err != nil {
		return err
	}
	t.prices[asset] = price
	return nil
}

// LatestOrderID returns the highest order id issued, including ids allocated
// by this transaction.
func (t *Tx) LatestOrderID() uint64 {
	return t.latestOrderID
}

// NextOrderID allocates an order id. It is only consumed if the transaction
// commits.
func (t *Tx) NextOrderID() (uint64, error) {
	if err := t.authorize(); err != nil {
		return 0, err
	}
	t.latestOrderID++
	return t.latestOrderID, nil
}

// Order returns the order with id, or the zero record.
func (t *Tx) Order(id uint64) domain.Order {
	if o, ok := t.orders[id]; ok {
		return o
	}
	return t.store.st.orders[id]
}

// PutOrder stores o.
func (t *Tx) PutOrder(o domain.Order) error {
	if err := t.authorize(); err != nil {
		return err
	}
	if o.ID == 0 || o.ID > t.latestOrderID {
		return fmt.Errorf("%w: order id %d was never allocated", ErrInvalidRecord, o.ID)
	}
	t.orders[o.ID] = o
	return nil
}

// LatestAgreementID returns the highest agreement id issued for an order.
func (t *Tx) LatestAgreementID(orderID uint64) uint64 {
	if v, ok := t.latestAgreement[orderID]; ok {
		return v
	}
	return t.store.st.latestAgreement[orderID]
}

// NextAgreementID allocates an agreement id within an order.
func (t *Tx) NextAgreementID(orderID uint64) (uint64, error) {
	if err := t.authorize(); err != nil {
		return 0, err
	}
	next := t.LatestAgreementID(orderID) + 1
	t.latestAgreement[orderID] = next
	return next, nil
}

// Agreement returns an agreement, or the zero record.
func (t *Tx) Agreement(orderID, id uint64) domain.Agreement {
	k := domain.AgreementKey{OrderID: orderID, AgreementID: id}
	if a, ok := t.agreements[k]; ok {
		return a
	}
	return t.store.st.agreements[k]
}

// PutAgreement stores a.
func (t *Tx) PutAgreement(a domain.Agreement) error {
	if err := t.authorize(); err != nil {
		return err
	}
	if a.ID == 0 || a.ID > t.LatestAgreementID(a.OrderID) {
		return fmt.Errorf("%w: agreement %d/%d was never allocated", ErrInvalidRecord, a.OrderID, a.ID)
	}
	t.agreements[domain.AgreementKey{OrderID: a.OrderID, AgreementID: a.ID}] = a
	return nil
}

// LatestEscrowID returns the highest escrow id issued.
func (t *Tx) LatestEscrowID() uint64 {
	return t.latestEscrowID
}

// NextEscrowID allocates an escrow id.
func (t *Tx) NextEscrowID() (uint64, error) {
	if err := t.authorize(); err != nil {
		return 0, err
	}
	t.latestEscrowID++
	return t.latestEscrowID, nil
}

// Escrow returns the escrow with id, or the zero record.
func (t *Tx) Escrow(id uint64) domain.Escrow {
	if e, ok := t.escrows[id]; ok {
		return e
	}
	return t.store.st.escrows[id]
}

// PutEscrow stores e.
func (t *Tx) PutEscrow(e domain.Escrow) error {
	if err := t.authorize(); err != nil {
		return err
	}
	if e.ID == 0 || e.ID > t.latestEscrowID {
		return fmt.Errorf("%w: escrow id %d was never allocated", ErrInvalidRecord, e.ID)
	}
	t.escrows[e.ID] = e
	return nil
}

// Application returns the transfer application of an escrow, or the zero record.
func (t *Tx) Application(escrowID uint64) domain.TransferApplication {
	if a, ok := t.applications[escrowID]; ok {
		return a
	}
	return t.store.st.applications[escrowID]
}

// PutApplication stores a.
func (t *Tx) PutApplication(a domain.TransferApplication) error {
	if err := t.authorize(); err != nil {
		return err
	}
	if !t.Escrow(a.EscrowID).Exists() {
		return fmt.Errorf("%w: application for unknown escrow %d", ErrInvalidRecord, a.EscrowID)
	}
	t.applications[a.EscrowID] = a
	return nil
}

// Emit queues an outbox event. Events are persisted with the rest of the
// change set.
func (t *Tx) Emit(aggregateType, aggregateID, eventType string, payload map[string]any) error {
	if err := t.authorize(); err != nil {
		return err
	}
	t.events = append(t.events, t.store.event(aggregateType, aggregateID, eventType, payload))
	return nil
}

// AfterCommit registers fn to run after the operation's changes are
// persisted and applied, outside the store lock. Hooks run in registration
// order with the ctx passed to Update; the first failure stops the rest and
// is returned by Update. The committed changes stay in place, so fn is
// responsible for compensating them.
func (t *Tx) AfterCommit(fn func(ctx context.Context) error) error {
	if t.closed {
		return ErrTxClosed
	}
	t.after = append(t.after, fn)
	return nil
}

func (t *Tx) changeSet() *ChangeSet {
	cs := &ChangeSet{Store: t.store.name, Events: t.events}

	keys := make(map[Key]struct{}, len(t.balances)+len(t.commitments))
	for k := range t.balances {
		keys[k] = struct{}{}
	}
	for k := range t.commitments {
		keys[k] = struct{}{}
	}
	for k := range keys {
		cs.Balances = append(cs.Balances, BalanceRow{
			Owner:     k.Owner,
			Asset:     k.Asset,
			Available: t.BalanceOf(k.Owner, k.Asset),
			Committed: t.CommitmentOf(k.Owner, k.Asset),
		})
	}
	sortBalances(cs.Balances)

	for asset, amount := range t.custody {
		cs.Custody = append(cs.Custody, CustodyRow{Asset: asset, Amount: amount})
	}
	sort.Slice(cs.Custody, func(i, j int) bool { return cs.Custody[i].Asset < cs.Custody[j].Asset })

	for asset, price := range t.prices {
		cs.Prices = append(cs.Prices, PriceRow{Asset: asset, Price: price})
	}
	sort.Slice(cs.Prices, func(i, j int) bool { return cs.Prices[i].Asset < cs.Prices[j].Asset })

	if len(t.orders) > 0 {
		cs.Orders = sortedOrders(t.orders)
	}
	if len(t.agreements) > 0 {
		cs.Agreements = sortedAgreements(t.agreements)
	}
	if len(t.escrows) > 0 {
		cs.Escrows = sortedEscrows(t.escrows)
	}
	if len(t.applications) > 0 {
		cs.Applications = sortedApplications(t.applications)
	}

	st := t.store.st
	if t.latestOrderID != st.latestOrderID || t.latestEscrowID != st.latestEscrowID {
		cs.Counters = &Counters{LatestOrderID: t.latestOrderID, LatestEscrowID: t.latestEscrowID}
	}
	return cs
}
