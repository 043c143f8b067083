package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderUseCaseInterface define a interface para o use case
type OrderUseCaseInterface interface {
	PlaceOrder(ctx context.Context, customerID string, items []OrderItem) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// PlaceOrderRequest representa a requisição para criar um pedido
type PlaceOrderRequest struct {
	CustomerID string             `json:"customer_id" binding:"required"`
	Products   []OrderItemRequest `json:"products" binding:"required,min=1,dive"`
}

// OrderItemRequest representa um produto solicitado
type OrderItemRequest struct {
	ID       string `json:"id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// ErrorResponse é o corpo das respostas de erro
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code,omitempty"`
	ProductID string    `json:"product_id,omitempty"`
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
	logger  *zap.Logger
	timeout time.Duration
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer, logger *zap.Logger, timeout time.Duration) *OrderHandler {
	return &OrderHandler{
		useCase: useCase,
		tracer:  tracer,
		logger:  logger,
		timeout: timeout,
	}
}

// NewRouter registra as rotas do serviço
func NewRouter(handler *OrderHandler, metrics *ServerMetrics, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(metrics.Middleware())

	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/api/orders", handler.PlaceOrder)
	r.GET("/api/orders/:id", handler.GetOrder)

	return r
}

// PlaceOrder cria um pedido e reserva o estoque
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "place_order")
	defer span.End()

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("products", len(req.Products)),
	)

	items := make([]OrderItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, OrderItem{ProductID: p.ID, Quantity: p.Quantity})
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	order, err := h.useCase.PlaceOrder(ctx, req.CustomerID, items)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, order)
}

// GetOrder busca um pedido pelo ID
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	order, err := h.useCase.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

func (h *OrderHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// writeError traduz erros de negócio em 404/422 e o resto em 500
func (h *OrderHandler) writeError(c *gin.Context, err error) {
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		c.JSON(statusForCode(orderErr.Code), ErrorResponse{
			Error:     orderErr.Error(),
			Code:      orderErr.Code,
			ProductID: orderErr.ProductID,
		})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"})
		return
	}

	h.logger.Error("❌ Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeCustomerNotFound, CodeProductNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeNoProductsFound, CodeInsufficientStock:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
