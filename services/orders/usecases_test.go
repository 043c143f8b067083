package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSeededRepository() *MemoryRepository {
	repo := NewMemoryRepository()
	repo.SeedCustomers(Customer{ID: "c1", Name: "Ada", Email: "ada@example.com"})
	repo.SeedProducts(
		Product{ID: "p1", Name: "Keyboard", Price: decimal.RequireFromString("5.00"), Quantity: 10},
		Product{ID: "p2", Name: "Mouse", Price: decimal.RequireFromString("12.50"), Quantity: 2},
		Product{ID: "p3", Name: "Monitor", Price: decimal.RequireFromString("199.90"), Quantity: 0},
	)
	return repo
}

func newMemoryUseCase(repo *MemoryRepository, opts ...OrderUseCaseOption) *OrderUseCase {
	return NewOrderUseCase(repo, repo.Customers(), repo.Products(), repo.Orders(), opts...)
}

func stockSnapshot(repo *MemoryRepository) map[string]int {
	snapshot := map[string]int{}
	for _, id := range []string{"p1", "p2", "p3"} {
		p, _ := repo.Product(id)
		snapshot[id] = p.Quantity
	}
	return snapshot
}

func TestPlaceOrder_Success(t *testing.T) {
	// Arrange
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)

	// Act
	order, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 3}})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "c1", order.Customer.ID)
	require.Len(t, order.Products, 1)
	assert.Equal(t, "p1", order.Products[0].ProductID)
	assert.Equal(t, 3, order.Products[0].Quantity)
	assert.True(t, decimal.RequireFromString("5.00").Equal(order.Products[0].Price))

	p1, _ := repo.Product("p1")
	assert.Equal(t, 7, p1.Quantity)

	stored, err := uc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Products, stored.Products)
}

func TestPlaceOrder_CustomerNotFound(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)
	before := stockSnapshot(repo)

	order, err := uc.PlaceOrder(context.Background(), "unknown", []OrderItem{{ProductID: "p1", Quantity: 1}})

	assert.Nil(t, order)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	assert.Equal(t, before, stockSnapshot(repo))
	assert.Zero(t, repo.OrderCount())
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)

	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p2", Quantity: 5}})

	require.ErrorIs(t, err, ErrInsufficientStock)
	var orderErr *OrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, "p2", orderErr.ProductID)
	assert.Equal(t, "insufficient stock for product p2", err.Error())

	p2, _ := repo.Product("p2")
	assert.Equal(t, 2, p2.Quantity)
	assert.Zero(t, repo.OrderCount())
}

func TestPlaceOrder_ProductNotFound_NoPartialReservation(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)
	before := stockSnapshot(repo)

	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "missing", Quantity: 1},
	})

	require.ErrorIs(t, err, ErrProductNotFound)
	var orderErr *OrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, "missing", orderErr.ProductID)
	assert.Equal(t, before, stockSnapshot(repo))
	assert.Zero(t, repo.OrderCount())
}

func TestPlaceOrder_NoProductsFound(t *testing.T) {
	tests := []struct {
		name  string
		items []OrderItem
	}{
		{name: "all unknown", items: []OrderItem{{ProductID: "x1", Quantity: 1}, {ProductID: "x2", Quantity: 1}}},
		{name: "empty request", items: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newSeededRepository()
			uc := newMemoryUseCase(repo)

			_, err := uc.PlaceOrder(context.Background(), "c1", tt.items)

			assert.ErrorIs(t, err, ErrNoProductsFound)
			assert.Zero(t, repo.OrderCount())
		})
	}
}

func TestPlaceOrder_ReportsFirstOffenderInRequestOrder(t *testing.T) {
	tests := []struct {
		name     string
		items    []OrderItem
		wantErr  error
		wantProd string
	}{
		{
			name:     "first missing product",
			items:    []OrderItem{{ProductID: "zz", Quantity: 1}, {ProductID: "p1", Quantity: 1}, {ProductID: "aa", Quantity: 1}},
			wantErr:  ErrProductNotFound,
			wantProd: "zz",
		},
		{
			name:     "first product without stock",
			items:    []OrderItem{{ProductID: "p3", Quantity: 1}, {ProductID: "p2", Quantity: 3}},
			wantErr:  ErrInsufficientStock,
			wantProd: "p3",
		},
		{
			name:     "existence is checked before stock",
			items:    []OrderItem{{ProductID: "p2", Quantity: 99}, {ProductID: "missing", Quantity: 1}},
			wantErr:  ErrProductNotFound,
			wantProd: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newSeededRepository()
			uc := newMemoryUseCase(repo)
			before := stockSnapshot(repo)

			_, err := uc.PlaceOrder(context.Background(), "c1", tt.items)

			require.ErrorIs(t, err, tt.wantErr)
			var orderErr *OrderError
			require.True(t, errors.As(err, &orderErr))
			assert.Equal(t, tt.wantProd, orderErr.ProductID)
			assert.Equal(t, before, stockSnapshot(repo))
		})
	}
}

func TestPlaceOrder_PriceSnapshot(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)

	order, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p2", Quantity: 1}})
	require.NoError(t, err)

	// Price changes after the order was placed
	p2, _ := repo.Product("p2")
	p2.Price = decimal.RequireFromString("99.99")
	repo.SeedProducts(p2)

	stored, err := uc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.50").Equal(stored.Products[0].Price))
}

func TestPlaceOrder_StockConservation(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)
	items := []OrderItem{{ProductID: "p1", Quantity: 4}, {ProductID: "p2", Quantity: 2}}

	order, err := uc.PlaceOrder(context.Background(), "c1", items)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"p1": 6, "p2": 0, "p3": 0}, stockSnapshot(repo))

	total := 0
	for _, line := range order.Products {
		total += line.Quantity
	}
	assert.Equal(t, 6, total)
	assert.True(t, decimal.RequireFromString("45.00").Equal(order.Total()))
}

func TestPlaceOrder_DuplicateProducts(t *testing.T) {
	items := []OrderItem{{ProductID: "p1", Quantity: 6}, {ProductID: "p1", Quantity: 3}}

	t.Run("validated independently against original stock", func(t *testing.T) {
		repo := newSeededRepository()
		uc := newMemoryUseCase(repo)

		order, err := uc.PlaceOrder(context.Background(), "c1", items)

		require.NoError(t, err)
		assert.Len(t, order.Products, 2)
		p1, _ := repo.Product("p1")
		assert.Equal(t, 7, p1.Quantity)
	})

	t.Run("cumulative check sums quantities", func(t *testing.T) {
		repo := newSeededRepository()
		uc := newMemoryUseCase(repo, WithCumulativeStockCheck(true))

		order, err := uc.PlaceOrder(context.Background(), "c1", items)

		require.NoError(t, err)
		assert.Len(t, order.Products, 2)
		p1, _ := repo.Product("p1")
		assert.Equal(t, 1, p1.Quantity)
	})

	t.Run("cumulative check rejects oversell", func(t *testing.T) {
		repo := newSeededRepository()
		uc := newMemoryUseCase(repo, WithCumulativeStockCheck(true))

		_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 6}, {ProductID: "p1", Quantity: 6}})

		assert.ErrorIs(t, err, ErrInsufficientStock)
		p1, _ := repo.Product("p1")
		assert.Equal(t, 10, p1.Quantity)
	})
}

func TestPlaceOrder_EnqueuesOrderPlacedEvent(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo, WithOutbox(repo.Outbox(), "orders.placed"))

	order, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	pending, err := repo.Outbox().FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "orders.placed", pending[0].Topic)
	assert.Equal(t, order.ID, pending[0].Key)

	var event OrderPlacedEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &event))
	assert.Equal(t, EventOrderPlaced, event.Type)
	assert.Equal(t, pending[0].EventID, event.EventID)
	assert.Equal(t, "c1", event.CustomerID)
	assert.True(t, decimal.RequireFromString("10.00").Equal(event.Total))
}

func TestPlaceOrder_NoEventWhenRejected(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo, WithOutbox(repo.Outbox(), "orders.placed"))

	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p3", Quantity: 1}})
	require.Error(t, err)

	pending, err := repo.Outbox().FetchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlaceOrder_ConcurrentRequestsNeverOversell(t *testing.T) {
	repo := newSeededRepository()
	uc := newMemoryUseCase(repo)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 1}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				placed++
				return
			}
			if errors.Is(err, ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, placed)
	assert.Equal(t, 15, rejected)
	p1, _ := repo.Product("p1")
	assert.Equal(t, 0, p1.Quantity)
	assert.Equal(t, 10, repo.OrderCount())
}

func TestPlaceOrder_StockConflictIsInsufficientStock(t *testing.T) {
	// Arrange
	tx := new(MockTx)
	txManager := new(MockTxManager)
	customers := new(MockCustomerStore)
	products := new(MockProductStore)
	orders := new(MockOrderStore)

	customer := &Customer{ID: "c1"}
	catalog := []Product{{ID: "p1", Price: decimal.RequireFromString("5.00"), Quantity: 10}}

	txManager.On("BeginTx", mock.Anything).Return(tx, nil)
	tx.On("Rollback").Return(nil)
	customers.On("FindByID", mock.Anything, tx, "c1").Return(customer, nil)
	products.On("FindAllByID", mock.Anything, tx, []string{"p1"}).Return(catalog, nil)
	orders.On("Create", mock.Anything, tx, *customer, mock.Anything).Return(NewOrder(*customer, nil), nil)
	products.On("UpdateQuantities", mock.Anything, tx, []QuantityUpdate{{ProductID: "p1", Previous: 10, Quantity: 7}}).
		Return(&StockConflictError{ProductID: "p1"})

	uc := NewOrderUseCase(txManager, customers, products, orders)

	// Act
	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 3}})

	// Assert
	require.ErrorIs(t, err, ErrInsufficientStock)
	var orderErr *OrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, "p1", orderErr.ProductID)
	tx.AssertNotCalled(t, "Commit")
	tx.AssertCalled(t, "Rollback")
}

func TestPlaceOrder_PersistenceFailures(t *testing.T) {
	dbErr := errors.New("connection reset")
	customer := &Customer{ID: "c1"}
	catalog := []Product{{ID: "p1", Price: decimal.RequireFromString("5.00"), Quantity: 10}}
	items := []OrderItem{{ProductID: "p1", Quantity: 1}}

	tests := []struct {
		name  string
		setup func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore)
	}{
		{
			name: "customer lookup fails",
			setup: func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore) {
				customers.On("FindByID", mock.Anything, tx, "c1").Return(nil, dbErr)
			},
		},
		{
			name: "product lookup fails",
			setup: func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore) {
				customers.On("FindByID", mock.Anything, tx, "c1").Return(customer, nil)
				products.On("FindAllByID", mock.Anything, tx, []string{"p1"}).Return(nil, dbErr)
			},
		},
		{
			name: "order insert fails",
			setup: func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore) {
				customers.On("FindByID", mock.Anything, tx, "c1").Return(customer, nil)
				products.On("FindAllByID", mock.Anything, tx, []string{"p1"}).Return(catalog, nil)
				orders.On("Create", mock.Anything, tx, *customer, mock.Anything).Return(nil, dbErr)
			},
		},
		{
			name: "stock update fails",
			setup: func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore) {
				customers.On("FindByID", mock.Anything, tx, "c1").Return(customer, nil)
				products.On("FindAllByID", mock.Anything, tx, []string{"p1"}).Return(catalog, nil)
				orders.On("Create", mock.Anything, tx, *customer, mock.Anything).Return(NewOrder(*customer, nil), nil)
				products.On("UpdateQuantities", mock.Anything, tx, mock.Anything).Return(dbErr)
			},
		},
		{
			name: "commit fails",
			setup: func(tx *MockTx, customers *MockCustomerStore, products *MockProductStore, orders *MockOrderStore) {
				customers.On("FindByID", mock.Anything, tx, "c1").Return(customer, nil)
				products.On("FindAllByID", mock.Anything, tx, []string{"p1"}).Return(catalog, nil)
				orders.On("Create", mock.Anything, tx, *customer, mock.Anything).Return(NewOrder(*customer, nil), nil)
				products.On("UpdateQuantities", mock.Anything, tx, mock.Anything).Return(nil)
				tx.On("Commit").Return(dbErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := new(MockTx)
			txManager := new(MockTxManager)
			customers := new(MockCustomerStore)
			products := new(MockProductStore)
			orders := new(MockOrderStore)

			txManager.On("BeginTx", mock.Anything).Return(tx, nil)
			tx.On("Rollback").Return(nil)
			tt.setup(tx, customers, products, orders)

			uc := NewOrderUseCase(txManager, customers, products, orders)

			order, err := uc.PlaceOrder(context.Background(), "c1", items)

			assert.Nil(t, order)
			assert.ErrorIs(t, err, dbErr)
			var orderErr *OrderError
			assert.False(t, errors.As(err, &orderErr))
			tx.AssertCalled(t, "Rollback")
		})
	}
}

func TestPlaceOrder_BeginTxFails(t *testing.T) {
	txManager := new(MockTxManager)
	txManager.On("BeginTx", mock.Anything).Return(nil, errors.New("pool exhausted"))

	uc := NewOrderUseCase(txManager, new(MockCustomerStore), new(MockProductStore), new(MockOrderStore))

	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 1}})

	assert.EqualError(t, err, "failed to begin transaction: pool exhausted")
}

func TestPlaceOrder_OutboxFailureAbortsOrder(t *testing.T) {
	repo := newSeededRepository()
	outbox := new(MockOutboxStore)
	outbox.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	uc := newMemoryUseCase(repo, WithOutbox(outbox, "orders.placed"))

	_, err := uc.PlaceOrder(context.Background(), "c1", []OrderItem{{ProductID: "p1", Quantity: 1}})

	require.Error(t, err)
	p1, _ := repo.Product("p1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Zero(t, repo.OrderCount())
}

func TestGetOrder_NotFound(t *testing.T) {
	uc := newMemoryUseCase(newSeededRepository())

	_, err := uc.GetOrder(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}
