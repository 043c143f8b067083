package main

import "fmt"

// ErrorCode identifica qual regra de negócio falhou
type ErrorCode string

const (
	CodeCustomerNotFound  ErrorCode = "customer_not_found"
	CodeNoProductsFound   ErrorCode = "no_products_found"
	CodeProductNotFound   ErrorCode = "product_not_found"
	CodeInsufficientStock ErrorCode = "insufficient_stock"
	CodeOrderNotFound     ErrorCode = "order_not_found"
)

// OrderError é um erro de negócio esperado, corrigível pelo cliente.
// ProductID só é preenchido para product_not_found e insufficient_stock.
type OrderError struct {
	Code      ErrorCode
	ProductID string
}

func (e *OrderError) Error() string {
	switch e.Code {
	case CodeCustomerNotFound:
		return "customer not found"
	case CodeNoProductsFound:
		return "products not found"
	case CodeProductNotFound:
		return fmt.Sprintf("product %s not found", e.ProductID)
	case CodeInsufficientStock:
		return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
	case CodeOrderNotFound:
		return "order not found"
	}
	return string(e.Code)
}

// Is compara apenas o código, então errors.Is(err, ErrProductNotFound) vale para qualquer produto
func (e *OrderError) Is(target error) bool {
	t, ok := target.(*OrderError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrCustomerNotFound  = &OrderError{Code: CodeCustomerNotFound}
	ErrNoProductsFound   = &OrderError{Code: CodeNoProductsFound}
	ErrProductNotFound   = &OrderError{Code: CodeProductNotFound}
	ErrInsufficientStock = &OrderError{Code: CodeInsufficientStock}
	ErrOrderNotFound     = &OrderError{Code: CodeOrderNotFound}
)

func productNotFound(productID string) error {
	return &OrderError{Code: CodeProductNotFound, ProductID: productID}
}

func insufficientStock(productID string) error {
	return &OrderError{Code: CodeInsufficientStock, ProductID: productID}
}

// StockConflictError é retornado pelo ProductStore quando o estoque mudou entre a leitura e a escrita
type StockConflictError struct {
	ProductID string
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict for product %s", e.ProductID)
}
