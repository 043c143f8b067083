package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// TxManager abre a transação que envolve lookup, validação e commit do pedido
type TxManager interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// CustomerStore define a leitura de clientes
type CustomerStore interface {
	// FindByID retorna nil, nil quando o cliente não existe
	FindByID(ctx context.Context, tx Tx, customerID string) (*Customer, error)
}

// ProductStore define as operações de catálogo e estoque
type ProductStore interface {
	// FindAllByID retorna só os produtos existentes, sem ordem garantida.
	// Dentro da transação as linhas ficam bloqueadas até o Commit ou Rollback.
	FindAllByID(ctx context.Context, tx Tx, productIDs []string) ([]Product, error)

	// UpdateQuantities aplica as escritas de estoque; retorna *StockConflictError se o estoque mudou
	UpdateQuantities(ctx context.Context, tx Tx, updates []QuantityUpdate) error
}

// OrderStore define a persistência de pedidos
type OrderStore interface {
	// Create persiste o pedido com todas as linhas e atribui um ID novo
	Create(ctx context.Context, tx Tx, customer Customer, lines []OrderLine) (*Order, error)

	// FindByID retorna nil, nil quando o pedido não existe
	FindByID(ctx context.Context, orderID string) (*Order, error)
}

// OutboxStore guarda eventos na mesma transação do pedido para publicação posterior
type OutboxStore interface {
	Enqueue(ctx context.Context, tx Tx, record OutboxRecord) error
	FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

func pgTxFrom(tx Tx) (pgx.Tx, error) {
	pgTx, ok := tx.(*PostgresTx)
	if !ok || pgTx == nil {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return pgTx.tx, nil
}

// PostgresRepository implementa todos os stores usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// Migrate aplica o schema embutido
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// BeginTx inicia uma nova transação
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

// Customers expõe o CustomerStore
func (r *PostgresRepository) Customers() CustomerStore { return &postgresCustomers{r} }

// Products expõe o ProductStore
func (r *PostgresRepository) Products() ProductStore { return &postgresProducts{r} }

// Orders expõe o OrderStore
func (r *PostgresRepository) Orders() OrderStore { return &postgresOrders{r} }

// Outbox expõe o OutboxStore
func (r *PostgresRepository) Outbox() OutboxStore { return &postgresOutbox{r} }

type postgresCustomers struct{ *PostgresRepository }

func (r *postgresCustomers) FindByID(ctx context.Context, tx Tx, customerID string) (*Customer, error) {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return nil, err
	}

	var customer Customer
	err = pgTx.QueryRow(ctx, `
		SELECT id, name, email
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.Name, &customer.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

type postgresProducts struct{ *PostgresRepository }

// FindAllByID busca os produtos com lock pessimista (FOR UPDATE).
// ORDER BY id mantém a mesma ordem de lock entre pedidos concorrentes.
func (r *postgresProducts) FindAllByID(ctx context.Context, tx Tx, productIDs []string) ([]Product, error) {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgTx.Query(ctx, `
		SELECT id, name, price::text, quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			product Product
			price   string
		)
		if err := rows.Scan(&product.ID, &product.Name, &price, &product.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		product.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid price for product %s: %w", product.ID, err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	return products, nil
}

// UpdateQuantities grava o novo estoque só se ele ainda for o lido na validação
func (r *postgresProducts) UpdateQuantities(ctx context.Context, tx Tx, updates []QuantityUpdate) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	for _, u := range updates {
		tag, err := pgTx.Exec(ctx, `
			UPDATE products
			SET quantity = $2,
			    updated_at = NOW()
			WHERE id = $1 AND quantity = $3 AND $2 >= 0
		`, u.ProductID, u.Quantity, u.Previous)
		if err != nil {
			return fmt.Errorf("failed to update quantity of product %s: %w", u.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return &StockConflictError{ProductID: u.ProductID}
		}
	}
	return nil
}

type postgresOrders struct{ *PostgresRepository }

// Create insere o pedido e suas linhas
func (r *postgresOrders) Create(ctx context.Context, tx Tx, customer Customer, lines []OrderLine) (*Order, error) {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return nil, err
	}

	order := NewOrder(customer, lines)

	_, err = pgTx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, created_at)
		VALUES ($1, $2, $3)
	`, order.ID, customer.ID, order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for i, line := range lines {
		_, err = pgTx.Exec(ctx, `
			INSERT INTO orders_products (order_id, position, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5::numeric)
		`, order.ID, i, line.ProductID, line.Quantity, line.Price.String())
		if err != nil {
			return nil, fmt.Errorf("failed to create order line: %w", err)
		}
	}

	return order, nil
}

// FindByID busca o pedido, o cliente e as linhas
func (r *postgresOrders) FindByID(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT o.id, o.created_at, c.id, c.name, c.email
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id::text = $1
	`, orderID).Scan(&order.ID, &order.CreatedAt, &order.Customer.ID, &order.Customer.Name, &order.Customer.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT product_id, quantity, price::text
		FROM orders_products
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	order.Products = []OrderLine{}
	for rows.Next() {
		var (
			line  OrderLine
			price string
		)
		if err := rows.Scan(&line.ProductID, &line.Quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		line.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid price in order %s: %w", order.ID, err)
		}
		order.Products = append(order.Products, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order lines: %w", err)
	}
	return &order, nil
}

type postgresOutbox struct{ *PostgresRepository }

func (r *postgresOutbox) Enqueue(ctx context.Context, tx Tx, record OutboxRecord) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO outbox (event_id, topic, key, payload)
		VALUES ($1, $2, $3, $4)
	`, record.EventID, record.Topic, record.Key, record.Payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (r *postgresOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *postgresOutbox) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1`, id)
	return err
}
