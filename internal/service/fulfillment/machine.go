// Package fulfillment ведёт заказ по таблице статусов и выполняет побочные эффекты переходов:
// счёт при оплате, расход склада и баллы при завершении, уведомления через outbox.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/invoice"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
)

// DefaultInvoiceURLTTL — срок жизни ссылки на счёт.
const DefaultInvoiceURLTTL = 5 * time.Minute

// ConsumptionRecorder пишет расход материалов внутри транзакции завершения.
type ConsumptionRecorder interface {
	RecordOrderConsumption(ctx context.Context, tx domain.Tx, order domain.Order) ([]domain.InventoryAdjustment, error)
}

// TransitionRequest — команда смены статуса.
type TransitionRequest struct {
	OrderID string
	Status  domain.OrderStatus
	// PaymentDetailID связывает заказ с принятым платежом (переход в PAID).
	PaymentDetailID string
	StaffID         string
	Reason          string
}

// Outcome описывает результат Apply. Changed=false означает повтор текущего статуса.
type Outcome struct {
	Order       domain.Order
	From        domain.OrderStatus
	Changed     bool
	Adjustments int
	Points      int64
	Events      []string
}

// Machine — машина состояний заказа.
type Machine struct {
	uow      domain.UnitOfWork
	ledger   ConsumptionRecorder
	renderer domain.InvoiceRenderer
	store    domain.ObjectStore
	logger   *log.Entry
	metrics  *metrics.EngineMetrics
	location *time.Location
	urlTTL   time.Duration
	now      func() time.Time
}

// Option настраивает Machine.
type Option func(*Machine)

// WithMetrics подключает метрики переходов.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(machine *Machine) {
		machine.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(machine *Machine) {
		machine.now = now
	}
}

// WithInvoiceURLTTL задаёт срок жизни подписанной ссылки на счёт.
func WithInvoiceURLTTL(ttl time.Duration) Option {
	return func(machine *Machine) {
		if ttl > 0 {
			machine.urlTTL = ttl
		}
	}
}

// WithLocation задаёт часовой пояс для ключей счетов.
func WithLocation(loc *time.Location) Option {
	return func(machine *Machine) {
		if loc != nil {
			machine.location = loc
		}
	}
}

// NewMachine собирает машину состояний.
func NewMachine(
	uow domain.UnitOfWork,
	ledger ConsumptionRecorder,
	renderer domain.InvoiceRenderer,
	store domain.ObjectStore,
	logger *log.Entry,
	options ...Option,
) *Machine {
	if logger == nil {
		logger = log.WithField("component", "state-machine")
	}
	m := &Machine{
		uow:      uow,
		ledger:   ledger,
		renderer: renderer,
		store:    store,
		logger:   logger,
		location: time.UTC,
		urlTTL:   DefaultInvoiceURLTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// UpdateOrderStatus — команда персонала: статус приходит строкой в любом регистре.
func (m *Machine) UpdateOrderStatus(ctx context.Context, orderID, rawStatus, staffID string) (domain.Order, error) {
	status, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}
	return m.Transition(ctx, TransitionRequest{
		OrderID: orderID,
		Status:  status,
		StaffID: staffID,
	})
}

// Transition применяет переход в собственной транзакции.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (domain.Order, error) {
	start := m.now()

	var outcome Outcome
	err := m.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		outcome, err = m.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": req.OrderID,
			"status":   req.Status,
		}).Warn("status transition rejected")
		return domain.Order{}, err
	}

	m.Observe(outcome, start)
	return outcome.Order, nil
}

// CancelByCustomer отменяет заказ по запросу владельца; допустим только PENDING.
func (m *Machine) CancelByCustomer(ctx context.Context, orderID, accountID string) (domain.Order, error) {
	start := m.now()

	var outcome Outcome
	err := m.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if accountID == "" || order.CustomerAccountID != accountID {
			return domain.ErrOrderNotOwned
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("cancel order in %s: %w", order.Status, domain.ErrOrderNotPending)
		}

		outcome, err = m.Apply(ctx, tx, TransitionRequest{
			OrderID: orderID,
			Status:  domain.OrderStatusCanceled,
			Reason:  "canceled by customer",
		})
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	m.Observe(outcome, start)
	return outcome.Order, nil
}

// Apply выполняет переход внутри уже открытой транзакции tx.
// Все записи (статус, счёт, журнал склада, баллы, timeline, outbox) попадают в неё же.
func (m *Machine) Apply(ctx context.Context, tx domain.Tx, req TransitionRequest) (Outcome, error) {
	order, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{From: order.Status}
	if order.Status == req.Status {
		outcome.Order = order
		return outcome, nil
	}
	if !domain.CanTransition(order.Status, req.Status) {
		return Outcome{}, fmt.Errorf("%s -> %s: %w", order.Status, req.Status, domain.ErrTransitionNotAllowed)
	}

	now := m.now()
	order.Status = req.Status
	order.UpdatedAt = now
	if req.PaymentDetailID != "" {
		order.PaymentDetailID = req.PaymentDetailID
	}
	if req.StaffID != "" {
		order.StaffID = req.StaffID
	}

	switch req.Status {
	case domain.OrderStatusPaid:
		if err := m.attachInvoice(ctx, &order); err != nil {
			return Outcome{}, err
		}
	case domain.OrderStatusCompleted:
		adjustments, err := m.ledger.RecordOrderConsumption(ctx, tx, order)
		if err != nil {
			return Outcome{}, fmt.Errorf("record inventory consumption: %w", err)
		}
		outcome.Adjustments = len(adjustments)

		if order.CustomerPhone != "" {
			points := domain.LoyaltyPoints(order.FinalPrice)
			if points > 0 {
				if _, err := tx.Customers().AddPoints(ctx, order.CustomerPhone, points); err != nil {
					return Outcome{}, fmt.Errorf("accrue loyalty points: %w", err)
				}
				outcome.Points = points
			}
		}
	}

	if err := tx.Orders().Save(ctx, order); err != nil {
		return Outcome{}, fmt.Errorf("save order: %w", err)
	}
	order.Version++

	if err := tx.Timeline().Append(ctx, domain.StatusChanged(order.ID, order.Status, req.Reason, now)); err != nil {
		return Outcome{}, fmt.Errorf("append timeline: %w", err)
	}

	if order.CustomerAccountID != "" {
		if err := WriteUserNotice(ctx, tx, order); err != nil {
			return Outcome{}, err
		}
		outcome.Events = append(outcome.Events, domain.EventUserNotice)
	}
	if err := WriteProcessingCount(ctx, tx, order.ID); err != nil {
		return Outcome{}, err
	}
	outcome.Events = append(outcome.Events, domain.EventProcessingCount)

	outcome.Order = order
	outcome.Changed = true
	return outcome, nil
}

// Observe фиксирует метрики и лог после коммита транзакции с переходом.
func (m *Machine) Observe(outcome Outcome, started time.Time) {
	if !outcome.Changed {
		return
	}
	m.metrics.RecordTransition(string(outcome.Order.Status), m.now().Sub(started))
	m.metrics.RecordLoyaltyPoints(outcome.Points)
	for _, event := range outcome.Events {
		m.metrics.RecordOutboxEvent(event)
	}

	m.logger.WithFields(log.Fields{
		"order_id":    outcome.Order.ID,
		"from":        outcome.From,
		"status":      outcome.Order.Status,
		"adjustments": outcome.Adjustments,
		"points":      outcome.Points,
	}).Info("order status changed")
}

// InvoiceURL возвращает временную ссылку на счёт заказа.
func (m *Machine) InvoiceURL(ctx context.Context, orderID string) (string, error) {
	var key string
	err := m.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		key = order.InvoiceKey
		return nil
	})
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("order %s: %w", orderID, domain.ErrInvoiceNotFound)
	}

	url, err := m.store.SignedURL(ctx, key, m.urlTTL)
	if err != nil {
		return "", fmt.Errorf("sign invoice url: %w", err)
	}
	return url, nil
}

// attachInvoice сохраняет счёт под детерминированным ключом. Уже выставленный счёт не
// перевыпускается; повторная загрузка после отката транзакции перезаписывает тот же объект.
func (m *Machine) attachInvoice(ctx context.Context, order *domain.Order) error {
	if order.InvoiceKey != "" {
		return nil
	}

	body, err := m.renderer.Render(*order)
	if err != nil {
		return fmt.Errorf("render invoice: %w", err)
	}

	key, err := m.store.Put(ctx, invoice.Key(*order, m.location), m.renderer.ContentType(), body)
	if err != nil {
		return fmt.Errorf("store invoice: %w", err)
	}
	order.InvoiceKey = key
	return nil
}
