package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer representa o cliente que faz o pedido
type Customer struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

// Product representa um produto do catálogo com estoque finito
type Product struct {
	ID       string          `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Quantity int             `json:"quantity" db:"quantity"`
}

// OrderItem é um item solicitado pelo cliente (entrada, não persistido)
type OrderItem struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// OrderLine é a linha persistida do pedido, com o preço capturado no momento do pedido
type OrderLine struct {
	ProductID string          `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// Order representa um pedido persistido
type Order struct {
	ID        string      `json:"id" db:"id"`
	Customer  Customer    `json:"customer"`
	Products  []OrderLine `json:"products"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// NewOrder cria uma nova instância de Order com um ID novo
func NewOrder(customer Customer, lines []OrderLine) *Order {
	return &Order{
		ID:        uuid.New().String(),
		Customer:  customer,
		Products:  lines,
		CreatedAt: time.Now().UTC(),
	}
}

// Total soma price * quantity de todas as linhas
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Products {
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// QuantityUpdate é a escrita de estoque de um produto.
// Previous é a quantidade lida na validação; a escrita só é aplicada se o estoque ainda for Previous.
type QuantityUpdate struct {
	ProductID string
	Previous  int
	Quantity  int
}

// Event types
const (
	EventOrderPlaced = "order.placed"
)

// OrderPlacedEvent é publicado depois que um pedido é confirmado
type OrderPlacedEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Lines      []OrderLine     `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewOrderPlacedEvent cria o evento de integração de um pedido confirmado
func NewOrderPlacedEvent(order *Order) *OrderPlacedEvent {
	return &OrderPlacedEvent{
		EventID:    uuid.New().String(),
		Type:       EventOrderPlaced,
		OrderID:    order.ID,
		CustomerID: order.Customer.ID,
		Lines:      order.Products,
		Total:      order.Total(),
		CreatedAt:  order.CreatedAt,
	}
}

// OutboxRecord é um evento pendente de publicação
type OutboxRecord struct {
	ID        int64      `json:"id" db:"id"`
	EventID   string     `json:"event_id" db:"event_id"`
	Topic     string     `json:"topic" db:"topic"`
	Key       string     `json:"key" db:"key"`
	Payload   []byte     `json:"payload" db:"payload"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
}
