package main

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTx simula uma transação
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockTxManager simula a abertura de transações
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(Tx)
	return tx, args.Error(1)
}

// MockCustomerStore para testes que não precisam de banco real
type MockCustomerStore struct {
	mock.Mock
}

func (m *MockCustomerStore) FindByID(ctx context.Context, tx Tx, customerID string) (*Customer, error) {
	args := m.Called(ctx, tx, customerID)
	customer, _ := args.Get(0).(*Customer)
	return customer, args.Error(1)
}

// MockProductStore para testes que não precisam de banco real
type MockProductStore struct {
	mock.Mock
}

func (m *MockProductStore) FindAllByID(ctx context.Context, tx Tx, productIDs []string) ([]Product, error) {
	args := m.Called(ctx, tx, productIDs)
	products, _ := args.Get(0).([]Product)
	return products, args.Error(1)
}

func (m *MockProductStore) UpdateQuantities(ctx context.Context, tx Tx, updates []QuantityUpdate) error {
	args := m.Called(ctx, tx, updates)
	return args.Error(0)
}

// MockOrderStore para testes que não precisam de banco real
type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) Create(ctx context.Context, tx Tx, customer Customer, lines []OrderLine) (*Order, error) {
	args := m.Called(ctx, tx, customer, lines)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockOrderStore) FindByID(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

// MockOutboxStore simula o outbox
type MockOutboxStore struct {
	mock.Mock
}

func (m *MockOutboxStore) Enqueue(ctx context.Context, tx Tx, record OutboxRecord) error {
	args := m.Called(ctx, tx, record)
	return args.Error(0)
}

func (m *MockOutboxStore) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	args := m.Called(ctx, limit)
	records, _ := args.Get(0).([]OutboxRecord)
	return records, args.Error(1)
}

func (m *MockOutboxStore) MarkSent(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPublisher simula o Kafka
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, record OutboxRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockOrderUseCase simula o use case nos testes de handler
type MockOrderUseCase struct {
	mock.Mock
}

func (m *MockOrderUseCase) PlaceOrder(ctx context.Context, customerID string, items []OrderItem) (*Order, error) {
	args := m.Called(ctx, customerID, items)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockOrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}
