package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the Postgres store. It keeps the same
// contract the checkout engine relies on: one exclusive lock per product row,
// acquired in ascending id order, held until the transaction ends, with a
// bounded wait that fails as ErrBusy. Commits apply all staged changes while
// the locks are still held.
type memStore struct {
	mu          sync.Mutex
	tenants     map[uuid.UUID]*Tenant
	products    map[uuid.UUID]*Product
	sales       map[uuid.UUID]*Sale
	locks       map[uuid.UUID]chan struct{}
	lockTimeout time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		tenants:     make(map[uuid.UUID]*Tenant),
		products:    make(map[uuid.UUID]*Product),
		sales:       make(map[uuid.UUID]*Sale),
		locks:       make(map[uuid.UUID]chan struct{}),
		lockTimeout: 5 * time.Second,
	}
}

func (s *memStore) addTenant(name string) *Tenant {
	t := &Tenant{ID: uuid.New(), Name: name, Business: "general", Active: true, CreatedAt: time.Now()}
	s.mu.Lock()
	s.tenants[t.ID] = t
	s.mu.Unlock()
	return t
}

func (s *memStore) addProduct(p *Product) {
	s.mu.Lock()
	s.products[p.ID] = p
	s.locks[p.ID] = make(chan struct{}, 1)
	s.mu.Unlock()
}

func (s *memStore) productStock(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) setUnitPrice(id uuid.UUID, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].UnitPrice = price
}

// holdLock takes a product's row lock directly, simulating another in-flight
// checkout. The returned func releases it.
func (s *memStore) holdLock(id uuid.UUID) func() {
	s.mu.Lock()
	ch := s.locks[id]
	s.mu.Unlock()
	ch <- struct{}{}
	return func() { <-ch }
}

type memTx struct {
	store      *memStore
	locked     []chan struct{}
	stockDelta map[uuid.UUID]decimal.Decimal
	sale       *Sale
	finished   bool
}

func (t *memTx) Commit() error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.store.mu.Lock()
	for id, delta := range t.stockDelta {
		t.store.products[id].Stock = t.store.products[id].Stock.Sub(delta)
	}
	if t.sale != nil {
		t.store.sales[t.sale.ID] = t.sale
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback() error {
	if t.finished {
		return nil
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		<-t.locked[i]
	}
	t.locked = nil
	t.finished = true
}

// memCatalog implements CatalogRepository over memStore.
type memCatalog struct {
	store *memStore
}

func (c *memCatalog) BeginCheckoutTx(ctx context.Context) (Tx, error) {
	return &memTx{store: c.store, stockDelta: make(map[uuid.UUID]decimal.Decimal)}, nil
}

func (c *memCatalog) LockProductsForUpdate(ctx context.Context, tx Tx, tenantID uuid.UUID, productIDs []uuid.UUID) ([]*Product, error) {
	mt := tx.(*memTx)

	products := make([]*Product, 0, len(productIDs))
	for _, id := range sortProductIDs(productIDs) {
		c.store.mu.Lock()
		product, ok := c.store.products[id]
		var lock chan struct{}
		if ok && product.TenantID == tenantID {
			lock = c.store.locks[id]
		}
		c.store.mu.Unlock()

		if lock == nil {
			return nil, fmt.Errorf("locking product %s: %w", id, ErrNotFound)
		}

		select {
		case lock <- struct{}{}:
			mt.locked = append(mt.locked, lock)
		case <-time.After(c.store.lockTimeout):
			return nil, fmt.Errorf("locking product %s: %w", id, ErrBusy)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		}

		c.store.mu.Lock()
		snapshot := *c.store.products[id]
		c.store.mu.Unlock()
		products = append(products, &snapshot)
	}
	return products, nil
}

func (c *memCatalog) DecrementStock(ctx context.Context, tx Tx, productID uuid.UUID, quantity decimal.Decimal) error {
	mt := tx.(*memTx)
	mt.stockDelta[productID] = mt.stockDelta[productID].Add(quantity)
	return nil
}

func (c *memCatalog) GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	tenant, ok := c.store.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return tenant, nil
}

func (c *memCatalog) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*Product, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	product, ok := c.store.products[productID]
	if !ok || product.TenantID != tenantID {
		return nil, ErrNotFound
	}
	snapshot := *product
	return &snapshot, nil
}

func (c *memCatalog) GetProductBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*Product, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, product := range c.store.products {
		if product.TenantID == tenantID && product.SKU == sku && product.Active {
			snapshot := *product
			return &snapshot, nil
		}
	}
	return nil, ErrNotFound
}

func (c *memCatalog) ListProducts(ctx context.Context, tenantID uuid.UUID, includeInactive bool, limit, offset int) ([]*Product, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var products []*Product
	for _, product := range c.store.products {
		if product.TenantID != tenantID || (!product.Active && !includeInactive) {
			continue
		}
		snapshot := *product
		products = append(products, &snapshot)
	}
	return products, nil
}

func (c *memCatalog) CreateProduct(ctx context.Context, product *Product) error {
	c.store.addProduct(product)
	return nil
}

func (c *memCatalog) UpdateProduct(ctx context.Context, product *Product) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	existing, ok := c.store.products[product.ID]
	if !ok || existing.TenantID != product.TenantID {
		return ErrNotFound
	}
	snapshot := *product
	c.store.products[product.ID] = &snapshot
	return nil
}

func (c *memCatalog) DeactivateProduct(ctx context.Context, tenantID, productID uuid.UUID) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	product, ok := c.store.products[productID]
	if !ok || product.TenantID != tenantID {
		return ErrNotFound
	}
	product.Active = false
	return nil
}

// memSales implements SaleRepository over memStore. CreateSale stages into
// the transaction; the sale only becomes visible on commit.
type memSales struct {
	store *memStore
}

func (s *memSales) CreateSale(ctx context.Context, tx Tx, sale *Sale) error {
	tx.(*memTx).sale = sale
	return nil
}

func (s *memSales) GetSale(ctx context.Context, tenantID, saleID uuid.UUID) (*Sale, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	sale, ok := s.store.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, ErrNotFound
	}
	snapshot := *sale
	snapshot.Items = append([]SaleItem(nil), sale.Items...)
	return &snapshot, nil
}

func (s *memSales) ListSales(ctx context.Context, tenantID uuid.UUID, filter SaleFilter) ([]SaleSummary, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []SaleSummary
	for _, sale := range s.store.sales {
		if sale.TenantID != tenantID {
			continue
		}
		out = append(out, SaleSummary{
			ID: sale.ID, Date: sale.Date, Total: sale.Total,
			PaymentMethod: sale.PaymentMethod, PaymentStatus: sale.PaymentStatus,
			CreatedAt: sale.CreatedAt, ItemCount: len(sale.Items),
		})
	}
	return out, nil
}

func (s *memSales) UpdatePaymentStatus(ctx context.Context, tenantID, saleID uuid.UUID, status, paymentRef string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	sale, ok := s.store.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return ErrNotFound
	}
	return s.transition(sale, status, paymentRef)
}

func (s *memSales) ApplyPaymentResult(ctx context.Context, saleID uuid.UUID, status, paymentRef string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	sale, ok := s.store.sales[saleID]
	if !ok {
		return ErrNotFound
	}
	return s.transition(sale, status, paymentRef)
}

func (s *memSales) transition(sale *Sale, status, paymentRef string) error {
	switch status {
	case PaymentStatusPaid:
		return sale.MarkPaid(paymentRef)
	case PaymentStatusRejected:
		return sale.MarkRejected(paymentRef)
	default:
		return fmt.Errorf("unknown payment status %q", status)
	}
}

// recordingNotifier captures dispatched events for assertions.
type recordingNotifier struct {
	events chan SaleCommittedEvent
	fail   bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan SaleCommittedEvent, 16)}
}

func (n *recordingNotifier) SaleCommitted(ctx context.Context, event SaleCommittedEvent) error {
	n.events <- event
	if n.fail {
		return fmt.Errorf("collaborator unavailable")
	}
	return nil
}
