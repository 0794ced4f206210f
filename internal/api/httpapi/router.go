// Package httpapi: HTTP-поверхность движка заказов на gin.
package httpapi

import (
	"context"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/ordering"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/payment"
)

// Orders: создание и чтение заказов.
type Orders interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ProcessingCount(ctx context.Context) (int, error)
}

// Fulfillment: смена статусов и выдача ссылки на чек.
type Fulfillment interface {
	UpdateOrderStatus(ctx context.Context, orderID, rawStatus, staffID string) (domain.Order, error)
	CancelByCustomer(ctx context.Context, orderID, accountID string) (domain.Order, error)
	InvoiceURL(ctx context.Context, orderID string) (string, error)
}

// Payments: оплата и обратные вызовы шлюза.
type Payments interface {
	PayCash(ctx context.Context, req payment.CashRequest) (domain.Order, error)
	PayOnline(ctx context.Context, req payment.OnlineRequest) (string, error)
	VerifyReturn(query url.Values) payment.ReturnResult
	HandleIPN(ctx context.Context, query url.Values) vnpay.IPNResponse
}

// Config собирает зависимости API.
type Config struct {
	Orders      Orders
	Fulfillment Fulfillment
	Payments    Payments
	// Receipts может быть nil: тогда Idempotency-Key игнорируется.
	Receipts   domain.ReceiptRepository
	ReceiptTTL time.Duration
	Logger     *log.Entry
	Now        func() time.Time
}

// API держит обработчики маршрутов /api/v1.
type API struct {
	orders      Orders
	fulfillment Fulfillment
	payments    Payments
	receipts    domain.ReceiptRepository
	receiptTTL  time.Duration
	logger      *log.Entry
	now         func() time.Time
}

// New создаёт API.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	ttl := cfg.ReceiptTTL
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &API{
		orders:      cfg.Orders,
		fulfillment: cfg.Fulfillment,
		payments:    cfg.Payments,
		receipts:    cfg.Receipts,
		receiptTTL:  ttl,
		logger:      logger,
		now:         now,
	}
}

// Router собирает gin-движок со всеми маршрутами.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(a.logger))
	a.Register(r.Group("/api/v1"))
	return r
}

// Register вешает маршруты на группу.
func (a *API) Register(g *gin.RouterGroup) {
	receipt := a.withReceipt()

	orders := g.Group("/orders")
	orders.POST("", receipt, a.createOrder)
	orders.GET("/processing-count", a.processingCount)
	orders.GET("/:id", a.getOrder)
	orders.PATCH("/:id/status", receipt, a.updateStatus)
	orders.POST("/:id/cancel", receipt, a.cancelOrder)
	orders.POST("/:id/pay/cash", receipt, a.payCash)
	orders.POST("/:id/pay/online", receipt, a.payOnline)
	orders.GET("/:id/invoice", a.invoiceURL)

	payments := g.Group("/payments/vnpay")
	payments.GET("/return", a.vnpayReturn)
	payments.GET("/ipn", a.vnpayIPN)
}
