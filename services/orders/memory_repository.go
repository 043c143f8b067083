package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTxDone = errors.New("transaction already finished")

// MemoryRepository implementa todos os stores em memória.
// Uma transação por vez: BeginTx bloqueia até a anterior terminar, e as escritas só valem no Commit.
type MemoryRepository struct {
	sem chan struct{}

	mu        sync.RWMutex
	customers map[string]Customer
	products  map[string]Product
	orders    map[string]Order
	outbox    []OutboxRecord
	outboxSeq int64
}

// NewMemoryRepository cria uma nova instância de MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sem:       make(chan struct{}, 1),
		customers: make(map[string]Customer),
		products:  make(map[string]Product),
		orders:    make(map[string]Order),
	}
}

// SeedCustomers cadastra clientes
func (r *MemoryRepository) SeedCustomers(customers ...Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range customers {
		r.customers[c.ID] = c
	}
}

// SeedProducts cadastra produtos
func (r *MemoryRepository) SeedProducts(products ...Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		r.products[p.ID] = p
	}
}

// Product retorna o produto confirmado
func (r *MemoryRepository) Product(productID string) (Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[productID]
	return p, ok
}

// OrderCount retorna quantos pedidos foram confirmados
func (r *MemoryRepository) OrderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// memoryTx guarda as escritas até o Commit
type memoryTx struct {
	repo       *MemoryRepository
	quantities map[string]int
	orders     []Order
	outbox     []OutboxRecord
	done       bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	defer func() { <-t.repo.sem }()

	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, quantity := range t.quantities {
		p := r.products[id]
		p.Quantity = quantity
		r.products[id] = p
	}
	for _, o := range t.orders {
		r.orders[o.ID] = o
	}
	for _, rec := range t.outbox {
		r.outboxSeq++
		rec.ID = r.outboxSeq
		r.outbox = append(r.outbox, rec)
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.repo.sem
	return nil
}

func memTxFrom(tx Tx) (*memoryTx, error) {
	mt, ok := tx.(*memoryTx)
	if !ok || mt == nil {
		return nil, errors.New("unexpected transaction type")
	}
	if mt.done {
		return nil, errTxDone
	}
	return mt, nil
}

// BeginTx espera a transação corrente terminar ou o contexto ser cancelado
func (r *MemoryRepository) BeginTx(ctx context.Context) (Tx, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryTx{repo: r, quantities: make(map[string]int)}, nil
}

// Customers expõe o CustomerStore
func (r *MemoryRepository) Customers() CustomerStore { return &memoryCustomers{r} }

// Products expõe o ProductStore
func (r *MemoryRepository) Products() ProductStore { return &memoryProducts{r} }

// Orders expõe o OrderStore
func (r *MemoryRepository) Orders() OrderStore { return &memoryOrders{r} }

// Outbox expõe o OutboxStore
func (r *MemoryRepository) Outbox() OutboxStore { return &memoryOutbox{r} }

type memoryCustomers struct{ *MemoryRepository }

func (r *memoryCustomers) FindByID(ctx context.Context, tx Tx, customerID string) (*Customer, error) {
	if _, err := memTxFrom(tx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[customerID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type memoryProducts struct{ *MemoryRepository }

func (r *memoryProducts) FindAllByID(ctx context.Context, tx Tx, productIDs []string) ([]Product, error) {
	mt, err := memTxFrom(tx)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var products []Product
	for _, id := range productIDs {
		p, ok := r.products[id]
		if !ok {
			continue
		}
		if q, staged := mt.quantities[id]; staged {
			p.Quantity = q
		}
		products = append(products, p)
	}
	return products, nil
}

func (r *memoryProducts) UpdateQuantities(ctx context.Context, tx Tx, updates []QuantityUpdate) error {
	mt, err := memTxFrom(tx)
	if err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range updates {
		p, ok := r.products[u.ProductID]
		if !ok {
			return &StockConflictError{ProductID: u.ProductID}
		}
		current := p.Quantity
		if q, staged := mt.quantities[u.ProductID]; staged {
			current = q
		}
		if current != u.Previous || u.Quantity < 0 {
			return &StockConflictError{ProductID: u.ProductID}
		}
		mt.quantities[u.ProductID] = u.Quantity
	}
	return nil
}

type memoryOrders struct{ *MemoryRepository }

func (r *memoryOrders) Create(ctx context.Context, tx Tx, customer Customer, lines []OrderLine) (*Order, error) {
	mt, err := memTxFrom(tx)
	if err != nil {
		return nil, err
	}
	stored := make([]OrderLine, len(lines))
	copy(stored, lines)

	order := NewOrder(customer, stored)
	mt.orders = append(mt.orders, *order)
	return order, nil
}

func (r *memoryOrders) FindByID(ctx context.Context, orderID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	lines := make([]OrderLine, len(o.Products))
	copy(lines, o.Products)
	o.Products = lines
	return &o, nil
}

type memoryOutbox struct{ *MemoryRepository }

func (r *memoryOutbox) Enqueue(ctx context.Context, tx Tx, record OutboxRecord) error {
	mt, err := memTxFrom(tx)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	mt.outbox = append(mt.outbox, record)
	return nil
}

func (r *memoryOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []OutboxRecord
	for _, rec := range r.outbox {
		if rec.SentAt != nil {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryOutbox) MarkSent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].ID == id {
			now := time.Now().UTC()
			r.outbox[i].SentAt = &now
			return nil
		}
	}
	return nil
}
