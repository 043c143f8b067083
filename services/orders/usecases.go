package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderUseCase contém a lógica de criação de pedidos: lookup, validação e commit
type OrderUseCase struct {
	txManager TxManager
	customers CustomerStore
	products  ProductStore
	orders    OrderStore

	outbox      OutboxStore
	ordersTopic string

	cumulativeStockCheck bool

	logger         *zap.Logger
	tracer         trace.Tracer
	ordersPlaced   metric.Int64Counter
	ordersRejected metric.Int64Counter
}

// OrderUseCaseOption configura dependências opcionais do OrderUseCase
type OrderUseCaseOption func(*OrderUseCase)

// WithOutbox grava um evento order.placed na mesma transação do pedido
func WithOutbox(outbox OutboxStore, topic string) OrderUseCaseOption {
	return func(uc *OrderUseCase) {
		uc.outbox = outbox
		uc.ordersTopic = topic
	}
}

// WithCumulativeStockCheck soma as quantidades de produtos repetidos no mesmo pedido
func WithCumulativeStockCheck(enabled bool) OrderUseCaseOption {
	return func(uc *OrderUseCase) {
		uc.cumulativeStockCheck = enabled
	}
}

// WithLogger define o logger
func WithLogger(logger *zap.Logger) OrderUseCaseOption {
	return func(uc *OrderUseCase) {
		uc.logger = logger
	}
}

// WithTelemetry define o tracer e o meter
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) OrderUseCaseOption {
	return func(uc *OrderUseCase) {
		uc.tracer = tracer
		uc.initCounters(meter)
	}
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	txManager TxManager,
	customers CustomerStore,
	products ProductStore,
	orders OrderStore,
	opts ...OrderUseCaseOption,
) *OrderUseCase {
	uc := &OrderUseCase{
		txManager: txManager,
		customers: customers,
		products:  products,
		orders:    orders,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("orders-service"),
	}
	uc.initCounters(otel.Meter("orders-service"))

	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *OrderUseCase) initCounters(meter metric.Meter) {
	var err error
	uc.ordersPlaced, err = meter.Int64Counter("orders_placed_total",
		metric.WithDescription("Orders successfully placed"))
	if err != nil {
		otel.Handle(err)
	}
	uc.ordersRejected, err = meter.Int64Counter("orders_rejected_total",
		metric.WithDescription("Orders rejected by a business rule"))
	if err != nil {
		otel.Handle(err)
	}
}

// PlaceOrder valida o pedido e reserva o estoque numa única transação.
// Qualquer falha aborta antes do Commit, sem pedido criado e sem estoque alterado.
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, customerID string, items []OrderItem) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.PlaceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.Int("items", len(items)),
	)

	uc.logger.Info("➡️ [PLACE ORDER] Received",
		zap.String("customer_id", customerID),
		zap.Int("items", len(items)),
	)

	// 1. Inicia a transação
	tx, err := uc.txManager.BeginTx(ctx)
	if err != nil {
		return nil, uc.fail(ctx, span, customerID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	// 2. Lookup: cliente e produtos (com lock dentro da transação)
	customer, catalog, err := uc.lookup(ctx, tx, customerID, items)
	if err != nil {
		return nil, uc.fail(ctx, span, customerID, err)
	}

	// 3. Regras de negócio: existência e estoque, na ordem do pedido
	if err := checkProductsExist(items, catalog); err != nil {
		return nil, uc.fail(ctx, span, customerID, err)
	}
	if err := checkStock(items, catalog, uc.cumulativeStockCheck); err != nil {
		return nil, uc.fail(ctx, span, customerID, err)
	}

	// 4. Persiste o pedido e reserva o estoque
	order, err := uc.commit(ctx, tx, *customer, items, catalog)
	if err != nil {
		return nil, uc.fail(ctx, span, customerID, err)
	}

	// 5. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, uc.fail(ctx, span, customerID, fmt.Errorf("failed to commit order: %w", err))
	}

	uc.ordersPlaced.Add(ctx, 1)
	span.SetAttributes(attribute.String("order_id", order.ID))
	span.SetStatus(codes.Ok, "order placed")

	uc.logger.Info("✅ [PLACE ORDER] Success",
		zap.String("order_id", order.ID),
		zap.String("customer_id", customerID),
		zap.String("total", order.Total().String()),
	)
	return order, nil
}

func (uc *OrderUseCase) lookup(ctx context.Context, tx Tx, customerID string, items []OrderItem) (*Customer, map[string]Product, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.lookup")
	defer span.End()

	customer, err := uc.customers.FindByID(ctx, tx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find customer: %w", err)
	}
	if customer == nil {
		return nil, nil, ErrCustomerNotFound
	}

	products, err := uc.products.FindAllByID(ctx, tx, requestedProductIDs(items))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find products: %w", err)
	}
	if len(products) == 0 {
		return nil, nil, ErrNoProductsFound
	}

	span.SetAttributes(attribute.Int("products_found", len(products)))
	return customer, indexProducts(products), nil
}

func (uc *OrderUseCase) commit(ctx context.Context, tx Tx, customer Customer, items []OrderItem, catalog map[string]Product) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.commit")
	defer span.End()

	order, err := uc.orders.Create(ctx, tx, customer, buildOrderLines(items, catalog))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	updates := buildQuantityUpdates(items, catalog, uc.cumulativeStockCheck)
	if err := uc.products.UpdateQuantities(ctx, tx, updates); err != nil {
		var conflict *StockConflictError
		if errors.As(err, &conflict) {
			uc.logger.Warn("⚠️ [PLACE ORDER] Stock changed before reservation",
				zap.String("product_id", conflict.ProductID))
			return nil, insufficientStock(conflict.ProductID)
		}
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}

	if uc.outbox != nil {
		event := NewOrderPlacedEvent(order)
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode order event: %w", err)
		}

		err = uc.outbox.Enqueue(ctx, tx, OutboxRecord{
			EventID: event.EventID,
			Topic:   uc.ordersTopic,
			Key:     order.ID,
			Payload: payload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue order event: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("stock_updates", len(updates)))
	return order, nil
}

// GetOrder busca um pedido pelo ID
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.GetOrder")
	defer span.End()

	order, err := uc.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (uc *OrderUseCase) fail(ctx context.Context, span trace.Span, customerID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		uc.ordersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(orderErr.Code))))
		uc.logger.Info("ℹ️ [PLACE ORDER] Rejected",
			zap.String("customer_id", customerID),
			zap.String("code", string(orderErr.Code)),
			zap.String("product_id", orderErr.ProductID),
		)
		return err
	}

	uc.logger.Error("❌ [PLACE ORDER] Failed",
		zap.String("customer_id", customerID),
		zap.Error(err),
	)
	return err
}
