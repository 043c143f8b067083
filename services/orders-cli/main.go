package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OrderItemRequest representa um produto solicitado
type OrderItemRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// PlaceOrderRequest representa a requisição para criar um pedido
type PlaceOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Products   []OrderItemRequest `json:"products"`
}

// APIError é o corpo de erro devolvido pelo orders-service
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

func (e *APIError) String() string {
	switch {
	case e.ProductID != "":
		return fmt.Sprintf("%s (code=%s product=%s)", e.Error, e.Code, e.ProductID)
	case e.Code != "":
		return fmt.Sprintf("%s (code=%s)", e.Error, e.Code)
	}
	return e.Error
}

// itemFlags acumula -item id:quantidade
type itemFlags []OrderItemRequest

func (f *itemFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, item := range *f {
		parts = append(parts, fmt.Sprintf("%s:%d", item.ID, item.Quantity))
	}
	return strings.Join(parts, ",")
}

func (f *itemFlags) Set(value string) error {
	item, err := parseItem(value)
	if err != nil {
		return err
	}
	*f = append(*f, item)
	return nil
}

func parseItem(value string) (OrderItemRequest, error) {
	id, qty, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return OrderItemRequest{}, fmt.Errorf("invalid item %q, expected id:quantity", value)
	}
	quantity, err := strconv.Atoi(strings.TrimSpace(qty))
	if err != nil {
		return OrderItemRequest{}, fmt.Errorf("invalid quantity in %q: %w", value, err)
	}
	return OrderItemRequest{ID: strings.TrimSpace(id), Quantity: quantity}, nil
}

// Client chama a API HTTP do orders-service.
// Só as leituras são repetidas; o POST de pedido é enviado uma única vez.
type Client struct {
	reads  *resty.Client
	writes *resty.Client
}

// NewClient cria um cliente com retry para erros de rede nas leituras
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		reads: newRestyClient(baseURL, timeout).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond),
		writes: newRestyClient(baseURL, timeout).
			SetRetryCount(0),
	}
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// PlaceOrder cria um pedido e devolve o JSON da resposta
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (json.RawMessage, error) {
	var apiErr APIError
	resp, err := c.writes.R().
		SetContext(ctx).
		SetBody(req).
		SetError(&apiErr).
		Post("/api/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to call orders-service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("order rejected with status %d: %s", resp.StatusCode(), apiErr.String())
	}
	return json.RawMessage(resp.Body()), nil
}

// GetOrder busca um pedido pelo ID
func (c *Client) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	var apiErr APIError
	resp, err := c.reads.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetError(&apiErr).
		Get("/api/orders/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to call orders-service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode(), apiErr.String())
	}
	return json.RawMessage(resp.Body()), nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orders-cli <place|get> [flags]")
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	baseURL := fs.String("url", getEnv("ORDERS_SERVICE_URL", "http://localhost:8080"), "orders-service base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")

	switch args[0] {
	case "place":
		customerID := fs.String("customer", "", "customer id")
		var items itemFlags
		fs.Var(&items, "item", "product as id:quantity (repeatable)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *customerID == "" || len(items) == 0 {
			return fmt.Errorf("place requires -customer and at least one -item")
		}

		body, err := NewClient(*baseURL, *timeout).PlaceOrder(ctx, PlaceOrderRequest{
			CustomerID: *customerID,
			Products:   items,
		})
		if err != nil {
			return err
		}
		return printJSON(out, body)

	case "get":
		orderID := fs.String("id", "", "order id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *orderID == "" {
			return fmt.Errorf("get requires -id")
		}

		body, err := NewClient(*baseURL, *timeout).GetOrder(ctx, *orderID)
		if err != nil {
			return err
		}
		return printJSON(out, body)
	}

	return fmt.Errorf("unknown command %q", args[0])
}

func printJSON(out io.Writer, body json.RawMessage) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
