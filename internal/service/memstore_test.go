package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// memState is one service database. Transactions run on a clone that
// replaces the state only on commit.
type memState struct {
	nextOrderID   int64
	nextPaymentID int64
	nextOutboxID  int64
	orders        map[int64]models.Order
	payments      map[int64]models.Payment
	stock         map[string]int
	reservations  map[int64]models.Reservation
	outbox        []models.OutboxRecord
}

func (s *memState) clone() *memState {
	c := *s
	c.orders = maps.Clone(s.orders)
	c.payments = maps.Clone(s.payments)
	c.stock = maps.Clone(s.stock)
	c.reservations = maps.Clone(s.reservations)
	c.outbox = slices.Clone(s.outbox)
	return &c
}

type memDB struct {
	mu    sync.Mutex
	state *memState
	clock *fakeClock

	failTx       error
	failEnqueue  error
	failFetch    error
	failMarkSent error

	// racingCharge lands just before the next InsertPayment, as if a concurrent
	// transaction had committed it
	racingCharge *models.Payment
}

func newMemDB(clock *fakeClock) *memDB {
	return &memDB{
		clock: clock,
		state: &memState{
			orders:       map[int64]models.Order{},
			payments:     map[int64]models.Payment{},
			stock:        map[string]int{},
			reservations: map[int64]models.Reservation{},
		},
	}
}

func (m *memDB) withinTx(fn func(*memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTx != nil {
		return m.failTx
	}
	work := m.state.clone()
	if err := fn(&memTx{db: m, state: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memDB) order(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.orders[id]
}

func (m *memDB) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memDB) payment(orderID int64) (models.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.payments[orderID]
	return p, ok
}

func (m *memDB) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.payments)
}

func (m *memDB) setStock(product string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.stock[product] = qty
}

func (m *memDB) stockOf(product string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stock[product]
}

func (m *memDB) reservation(orderID int64) (models.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.reservations[orderID]
	return r, ok
}

// setUpdatedAt backdates an order for reaper tests
func (m *memDB) setUpdatedAt(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.state.orders[id]
	o.UpdatedAt = at
	m.state.orders[id] = o
}

func (m *memDB) records() []models.OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.outbox)
}

func (m *memDB) eventTypes() []models.EventType {
	var types []models.EventType
	for _, rec := range m.records() {
		types = append(types, rec.EventType)
	}
	return types
}

func (m *memDB) addRecord(topic, key string, env models.Envelope) models.OutboxRecord {
	var rec models.OutboxRecord
	err := m.withinTx(func(tx *memTx) error {
		if err := tx.Enqueue(context.Background(), topic, key, env); err != nil {
			return err
		}
		rec = tx.state.outbox[len(tx.state.outbox)-1]
		return nil
	})
	if err != nil {
		panic(err)
	}
	return rec
}

type memTx struct {
	db    *memDB
	state *memState
}

func (t *memTx) Enqueue(ctx context.Context, topic, key string, env models.Envelope) error {
	if t.db.failEnqueue != nil {
		return t.db.failEnqueue
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	now := t.db.clock.Now()
	t.state.nextOutboxID++
	t.state.outbox = append(t.state.outbox, models.OutboxRecord{
		ID:            t.state.nextOutboxID,
		MessageID:     uuid.New(),
		Topic:         topic,
		MessageKey:    key,
		EventType:     env.EventType,
		Payload:       payload,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	t.state.nextOrderID++
	now := t.db.clock.Now()
	o.ID = t.state.nextOrderID
	o.CreatedAt = now
	o.UpdatedAt = now
	t.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (models.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return o, nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	o, ok := t.state.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	o.Status = status
	o.UpdatedAt = t.db.clock.Now()
	t.state.orders[id] = o
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *models.Payment) (bool, error) {
	if rc := t.db.racingCharge; rc != nil {
		t.db.racingCharge = nil
		t.state.nextPaymentID++
		rc.ID = t.state.nextPaymentID
		t.state.payments[rc.OrderID] = *rc
	}
	if _, exists := t.state.payments[p.OrderID]; exists {
		return false, nil
	}
	t.state.nextPaymentID++
	p.ID = t.state.nextPaymentID
	p.CreatedAt = t.db.clock.Now()
	p.UpdatedAt = p.CreatedAt
	t.state.payments[p.OrderID] = *p
	return true, nil
}

func (t *memTx) MarkRolledBack(ctx context.Context, orderID int64) (bool, error) {
	p, exists := t.state.payments[orderID]
	if !exists {
		return false, nil
	}
	p.Status = models.PaymentRolledBack
	p.UpdatedAt = t.db.clock.Now()
	t.state.payments[orderID] = p
	return true, nil
}

func (t *memTx) LockStock(ctx context.Context, product string) (int, bool, error) {
	stock, ok := t.state.stock[product]
	return stock, ok, nil
}

func (t *memTx) DecrementStock(ctx context.Context, product string, qty int) error {
	stock, ok := t.state.stock[product]
	if !ok || stock < qty {
		return errors.New("insufficient stock")
	}
	t.state.stock[product] = stock - qty
	return nil
}

func (t *memTx) InsertReservation(ctx context.Context, r *models.Reservation) (bool, error) {
	if _, exists := t.state.reservations[r.OrderID]; exists {
		return false, nil
	}
	r.CreatedAt = t.db.clock.Now()
	t.state.reservations[r.OrderID] = *r
	return true, nil
}

func (t *memTx) SeedStock(ctx context.Context, product string, stock int) (bool, error) {
	if _, exists := t.state.stock[product]; exists {
		return false, nil
	}
	t.state.stock[product] = stock
	return true, nil
}

type memOrderStore struct{ *memDB }

func (s memOrderStore) WithinTx(ctx context.Context, fn func(ports.OrderTx) error) error {
	return s.withinTx(func(tx *memTx) error { return fn(tx) })
}

func (s memOrderStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return o, nil
}

func (s memOrderStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := slices.Collect(maps.Values(s.state.orders))
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s memOrderStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stalled []models.Order
	for _, o := range s.state.orders {
		if !o.Status.IsTerminal() && o.UpdatedAt.Before(before) {
			stalled = append(stalled, o)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt) })
	if len(stalled) > limit {
		stalled = stalled[:limit]
	}
	return stalled, nil
}

type memPaymentStore struct{ *memDB }

func (s memPaymentStore) WithinTx(ctx context.Context, fn func(ports.PaymentTx) error) error {
	return s.withinTx(func(tx *memTx) error { return fn(tx) })
}

type memInventoryStore struct{ *memDB }

func (s memInventoryStore) WithinTx(ctx context.Context, fn func(ports.InventoryTx) error) error {
	return s.withinTx(func(tx *memTx) error { return fn(tx) })
}

// memOutbox is the relay's view of a memDB
type memOutbox struct{ *memDB }

func (o memOutbox) FetchPending(ctx context.Context, asOf time.Time, limit int) ([]models.OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failFetch != nil {
		return nil, o.failFetch
	}
	var due []models.OutboxRecord
	for _, rec := range o.state.outbox {
		if !rec.Sent && !rec.DeadLettered && !rec.NextAttemptAt.After(asOf) {
			due = append(due, rec)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (o memOutbox) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failMarkSent != nil {
		return false, o.failMarkSent
	}
	for i := range o.state.outbox {
		rec := &o.state.outbox[i]
		if rec.ID != id {
			continue
		}
		if rec.Sent {
			return false, nil
		}
		rec.Sent = true
		rec.SentAt = &at
		return true, nil
	}
	return false, nil
}

func (o memOutbox) MarkFailed(ctx context.Context, id int64, f models.DeliveryFailure) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.state.outbox {
		rec := &o.state.outbox[i]
		if rec.ID == id && !rec.Sent {
			rec.Attempts = f.Attempts
			rec.LastError = f.LastError
			rec.NextAttemptAt = f.NextAttemptAt
			rec.DeadLettered = f.DeadLetter
		}
	}
	return nil
}

func (o memOutbox) Stats(ctx context.Context) (int64, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var pending, dead int64
	for _, rec := range o.state.outbox {
		switch {
		case rec.Sent:
		case rec.DeadLettered:
			dead++
		default:
			pending++
		}
	}
	return pending, dead, nil
}

func (o memOutbox) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.state.outbox[:0]
	var purged int64
	for _, rec := range o.state.outbox {
		if rec.Sent && rec.SentAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	o.state.outbox = kept
	return purged, nil
}

// memBroker records publishes per topic and can be told to fail
type memBroker struct {
	mu        sync.Mutex
	failNext  int
	failKeys  map[string]bool
	attempts  int
	published []models.OutboxRecord
	queues    map[string][]models.OutboxRecord
}

func newMemBroker() *memBroker {
	return &memBroker{failKeys: map[string]bool{}, queues: map[string][]models.OutboxRecord{}}
}

func (b *memBroker) Publish(ctx context.Context, rec models.OutboxRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.failNext > 0 {
		b.failNext--
		return errors.New("broker unreachable")
	}
	if b.failKeys[rec.MessageKey] {
		return errors.New("broker rejected message")
	}
	b.published = append(b.published, rec)
	b.queues[rec.Topic] = append(b.queues[rec.Topic], rec)
	return nil
}

func (b *memBroker) drain(topic string) []models.OutboxRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[topic]
	delete(b.queues, topic)
	return msgs
}

func (b *memBroker) publishedTypes() []models.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var types []models.EventType
	for _, rec := range b.published {
		types = append(types, rec.EventType)
	}
	return types
}
