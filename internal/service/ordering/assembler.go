// Package ordering собирает заказ из позиций: проверка каталога, расчёт цен и атомарная запись.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/pricing"
)

// LineRequest: позиция в запросе на создание заказа.
type LineRequest struct {
	ProductID int64
	SizeID    int64
	Quantity  int32
	Toppings  []pricing.ToppingSelection
	OptionIDs []int64
}

// CreateOrderRequest: команда создания заказа.
type CreateOrderRequest struct {
	Lines           []LineRequest
	CustomerPhone   string
	OrderType       string
	Note            string
	ShippingAddress string
	StaffID         string
}

// Assembler создаёт заказы.
type Assembler struct {
	uow      domain.UnitOfWork
	resolver *pricing.Resolver
	logger   *log.Entry
	metrics  *metrics.EngineMetrics
	now      func() time.Time
}

// Option настраивает Assembler.
type Option func(*Assembler)

// WithMetrics подключает метрики создания заказов.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// WithClock подменяет момент расчёта цен.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// NewAssembler создаёт сборщик заказов.
func NewAssembler(uow domain.UnitOfWork, resolver *pricing.Resolver, logger *log.Entry, options ...Option) *Assembler {
	if logger == nil {
		logger = log.WithField("component", "order-assembler")
	}
	if resolver == nil {
		resolver = pricing.NewResolver()
	}
	a := &Assembler{
		uow:      uow,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// CreateOrder проверяет позиции, считает цены по батчу каталога и записывает заказ
// с позициями и намерениями уведомлений одной транзакцией.
func (a *Assembler) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	start := a.now()

	orderType, err := domain.ParseOrderType(req.OrderType)
	if err != nil {
		return domain.Order{}, err
	}
	if err := validateLines(req.Lines); err != nil {
		return domain.Order{}, err
	}

	var (
		order  domain.Order
		events []string
	)
	err = a.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		catalog, err := loadCatalog(ctx, tx, req.Lines)
		if err != nil {
			return err
		}

		order, err = a.assemble(catalog, req, orderType, start)
		if err != nil {
			return err
		}

		if req.CustomerPhone != "" {
			accountID, err := tx.Customers().AccountIDByPhone(ctx, req.CustomerPhone)
			if err != nil {
				return fmt.Errorf("resolve customer account: %w", err)
			}
			order.CustomerAccountID = accountID
		}

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Timeline().Append(ctx, domain.StatusChanged(order.ID, order.Status, "order created", start)); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}

		events, err = writeCreatedIntents(ctx, tx, order)
		return err
	})
	if err != nil {
		a.logger.WithError(err).Warn("order rejected")
		return domain.Order{}, err
	}

	a.metrics.RecordOrderCreated(a.now().Sub(start))
	for _, event := range events {
		a.metrics.RecordOutboxEvent(event)
	}
	a.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"lines":          len(order.Items),
		"original_price": order.OriginalPrice,
		"order_type":     order.OrderType,
	}).Info("order created")

	return order, nil
}

// GetOrder возвращает заказ с позициями.
func (a *Assembler) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, id)
		return err
	})
	return order, err
}

// ProcessingCount: число заказов в PENDING и PAID.
func (a *Assembler) ProcessingCount(ctx context.Context) (int, error) {
	var count int
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		count, err = tx.Orders().CountByStatus(ctx, domain.ProcessingStatuses())
		return err
	})
	return count, err
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return domain.ErrLinesRequired
	}
	for i, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i, domain.ErrLineQtyInvalid)
		}
		for _, topping := range line.Toppings {
			if topping.Quantity <= 0 {
				return fmt.Errorf("line %d topping %d: %w", i, topping.ToppingID, domain.ErrLineQtyInvalid)
			}
		}
	}
	return nil
}

// loadCatalog читает продукты и топпинги всех позиций двумя запросами.
func loadCatalog(ctx context.Context, tx domain.Tx, lines []LineRequest) (pricing.Catalog, error) {
	productIDs := make([]int64, 0, len(lines))
	toppingIDs := make([]int64, 0)
	seenProducts := make(map[int64]struct{}, len(lines))
	seenToppings := make(map[int64]struct{})
	for _, line := range lines {
		if _, ok := seenProducts[line.ProductID]; !ok {
			seenProducts[line.ProductID] = struct{}{}
			productIDs = append(productIDs, line.ProductID)
		}
		for _, topping := range line.Toppings {
			if _, ok := seenToppings[topping.ToppingID]; !ok {
				seenToppings[topping.ToppingID] = struct{}{}
				toppingIDs = append(toppingIDs, topping.ToppingID)
			}
		}
	}

	products, err := tx.Catalog().LoadProducts(ctx, productIDs)
	if err != nil {
		return pricing.Catalog{}, fmt.Errorf("load products: %w", err)
	}
	for _, id := range productIDs {
		product, ok := products[id]
		if !ok {
			return pricing.Catalog{}, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
		}
		if !product.IsActive {
			return pricing.Catalog{}, fmt.Errorf("product %d: %w", id, domain.ErrProductInactive)
		}
		if !product.HasCompleteRecipe() {
			return pricing.Catalog{}, fmt.Errorf("product %d: %w", id, domain.ErrRecipeIncomplete)
		}
	}

	toppings := map[int64]domain.Product{}
	if len(toppingIDs) > 0 {
		toppings, err = tx.Catalog().LoadToppings(ctx, toppingIDs)
		if err != nil {
			return pricing.Catalog{}, fmt.Errorf("load toppings: %w", err)
		}
		for _, id := range toppingIDs {
			topping, ok := toppings[id]
			if !ok {
				return pricing.Catalog{}, fmt.Errorf("topping %d: %w", id, domain.ErrToppingNotFound)
			}
			if !topping.IsTopping {
				return pricing.Catalog{}, fmt.Errorf("topping %d: %w", id, domain.ErrNotTopping)
			}
		}
	}

	return pricing.Catalog{Products: products, Toppings: toppings}, nil
}

func (a *Assembler) assemble(catalog pricing.Catalog, req CreateOrderRequest, orderType domain.OrderType, now time.Time) (domain.Order, error) {
	order := domain.Order{
		ID:              uuid.NewString(),
		Status:          domain.OrderStatusPending,
		CustomerPhone:   req.CustomerPhone,
		StaffID:         req.StaffID,
		OrderType:       orderType,
		Note:            req.Note,
		ShippingAddress: req.ShippingAddress,
		Items:           make([]domain.OrderLineItem, 0, len(req.Lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for i, line := range req.Lines {
		quote, err := a.resolver.Resolve(catalog, pricing.Query{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Toppings:  line.Toppings,
		}, now)
		if err != nil {
			return domain.Order{}, fmt.Errorf("line %d: %w", i, err)
		}

		item := domain.OrderLineItem{
			ID:                uuid.NewString(),
			ProductID:         line.ProductID,
			ProductName:       catalog.Products[line.ProductID].Name,
			SizeID:            line.SizeID,
			Quantity:          line.Quantity,
			UnitPrice:         quote.UnitPrice,
			OriginalUnitPrice: quote.OriginalUnitPrice,
			ToppingTotal:      quote.ToppingTotal,
			Toppings:          quote.Toppings,
			OptionIDs:         append([]int64(nil), line.OptionIDs...),
		}
		order.OriginalPrice += item.LineTotal()
		order.Items = append(order.Items, item)
	}
	order.FinalPrice = order.OriginalPrice

	return order, nil
}

// writeCreatedIntents: новый заказ, живой счётчик, задача персоналу и уведомление клиенту.
func writeCreatedIntents(ctx context.Context, tx domain.Tx, order domain.Order) ([]string, error) {
	created, err := domain.NewOrderOutboxMessage(domain.EventOrderCreated, order.ID, domain.OrderCreatedPayload{
		OrderID:    order.ID,
		Status:     order.Status,
		OrderType:  order.OrderType,
		FinalPrice: order.FinalPrice,
		CreatedAt:  order.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Outbox().Enqueue(ctx, created); err != nil {
		return nil, fmt.Errorf("enqueue order created: %w", err)
	}
	events := []string{domain.EventOrderCreated}

	if err := fulfillment.WriteProcessingCount(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	events = append(events, domain.EventProcessingCount)

	task, err := domain.NewOrderOutboxMessage(domain.EventRoleNotice, order.ID, domain.RoleNoticePayload{
		Roles:   domain.OperationalRoles(),
		Type:    domain.NotificationOrderTask,
		Message: fmt.Sprintf("New %s order #%s with %d item(s) is waiting.", order.OrderType, order.ID, len(order.Items)),
		OrderID: order.ID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Outbox().Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue role notice: %w", err)
	}
	events = append(events, domain.EventRoleNotice)

	if order.CustomerAccountID != "" {
		if err := fulfillment.WriteUserNotice(ctx, tx, order); err != nil {
			return nil, err
		}
		events = append(events, domain.EventUserNotice)
	}

	return events, nil
}
