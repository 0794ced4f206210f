// Package payment принимает наличные и онлайн-оплаты и сверяет обратные вызовы шлюза.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/fulfillment"
)

// Gateway подписывает ссылки на оплату и проверяет обратные вызовы шлюза.
type Gateway interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
	Verify(query url.Values) (vnpay.Callback, error)
}

// Transitioner переводит заказ в PAID внутри транзакции оплаты.
type Transitioner interface {
	Apply(ctx context.Context, tx domain.Tx, req fulfillment.TransitionRequest) (fulfillment.Outcome, error)
	Observe(outcome fulfillment.Outcome, started time.Time)
}

// CashRequest: оплата наличными на кассе.
type CashRequest struct {
	OrderID     string
	Amount      int64
	VoucherCode string
	StaffID     string
}

// OnlineRequest: запуск онлайн-оплаты.
type OnlineRequest struct {
	OrderID     string
	VoucherCode string
	IPAddr      string
}

// ReturnResult: ответ на браузерный редирект шлюза.
type ReturnResult struct {
	Verified bool   `json:"verified"`
	Success  bool   `json:"success"`
	TxnRef   string `json:"txn_ref,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Message  string `json:"message"`
}

// ipnRejection прерывает транзакцию IPN с кодом ответа шлюза.
type ipnRejection struct {
	response vnpay.IPNResponse
}

func (e ipnRejection) Error() string {
	return "ipn rejected: " + e.response.RspCode + " " + e.response.Message
}

// Reconciler: сверка платежей.
type Reconciler struct {
	uow     domain.UnitOfWork
	machine Transitioner
	gateway Gateway
	logger  *log.Entry
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithGateway подключает онлайн-шлюз.
func WithGateway(g Gateway) Option {
	return func(r *Reconciler) {
		r.gateway = g
	}
}

// WithMetrics подключает метрики платежей.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler создаёт сервис оплат.
func NewReconciler(uow domain.UnitOfWork, machine Transitioner, logger *log.Entry, options ...Option) *Reconciler {
	if logger == nil {
		logger = log.WithField("component", "payment-reconciler")
	}
	r := &Reconciler{
		uow:     uow,
		machine: machine,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// PayCash принимает наличные. Проверка PENDING, погашение ваучера, запись платежа и
// переход в PAID выполняются одной транзакцией под блокировкой строки заказа.
func (r *Reconciler) PayCash(ctx context.Context, req CashRequest) (domain.Order, error) {
	start := r.now()
	if req.Amount < 0 {
		return domain.Order{}, domain.ErrPaymentAmountNegative
	}

	var outcome fulfillment.Outcome
	err := r.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := r.lockPending(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if req.VoucherCode != "" {
			if order, err = r.redeemVoucher(ctx, tx, order, req.VoucherCode); err != nil {
				return err
			}
		}
		if req.Amount < order.FinalPrice {
			return fmt.Errorf("tendered %d, due %d: %w", req.Amount, order.FinalPrice, domain.ErrInsufficientAmount)
		}

		detail := domain.PaymentDetail{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Method:    domain.PaymentMethodCash,
			Amount:    req.Amount,
			Change:    req.Amount - order.FinalPrice,
			CreatedAt: r.now(),
		}
		if err := tx.Payments().CreateDetail(ctx, detail); err != nil {
			return fmt.Errorf("create payment detail: %w", err)
		}

		outcome, err = r.machine.Apply(ctx, tx, fulfillment.TransitionRequest{
			OrderID:         order.ID,
			Status:          domain.OrderStatusPaid,
			PaymentDetailID: detail.ID,
			StaffID:         req.StaffID,
		})
		return err
	})
	if err != nil {
		r.metrics.RecordPayment(string(domain.PaymentMethodCash), "rejected")
		r.logger.WithError(err).WithField("order_id", req.OrderID).Warn("cash payment rejected")
		return domain.Order{}, err
	}

	r.metrics.RecordPayment(string(domain.PaymentMethodCash), "success")
	r.machine.Observe(outcome, start)
	return outcome.Order, nil
}

// PayOnline применяет ваучер, регистрирует попытку с новым txn ref и возвращает ссылку
// на шлюз. Статус заказа не меняется: это делает только IPN.
func (r *Reconciler) PayOnline(ctx context.Context, req OnlineRequest) (string, error) {
	if r.gateway == nil {
		return "", domain.ErrGatewayNotConfigured
	}

	var paymentURL string
	err := r.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := r.lockPending(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if req.VoucherCode != "" {
			if order, err = r.redeemVoucher(ctx, tx, order, req.VoucherCode); err != nil {
				return err
			}
		}

		attempt := domain.PaymentAttempt{
			TxnRef:    strings.ReplaceAll(uuid.NewString(), "-", ""),
			OrderID:   order.ID,
			Amount:    order.FinalPrice,
			CreatedAt: r.now(),
		}
		if err := tx.Payments().CreateAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("create payment attempt: %w", err)
		}

		paymentURL, err = r.gateway.BuildPaymentURL(vnpay.PaymentRequest{
			TxnRef:    attempt.TxnRef,
			Amount:    attempt.Amount,
			OrderInfo: "Payment for order #" + order.ID,
			IPAddr:    req.IPAddr,
			CreatedAt: attempt.CreatedAt,
		})
		return err
	})
	if err != nil {
		r.metrics.RecordPayment(string(domain.PaymentMethodOnline), "rejected")
		return "", err
	}

	r.metrics.RecordPayment(string(domain.PaymentMethodOnline), "initiated")
	return paymentURL, nil
}

// VerifyReturn проверяет подпись браузерного редиректа. Ничего не записывает:
// параметры редиректа контролирует клиент.
func (r *Reconciler) VerifyReturn(query url.Values) ReturnResult {
	if r.gateway == nil {
		return ReturnResult{Message: domain.ErrGatewayNotConfigured.Error()}
	}

	cb, err := r.gateway.Verify(query)
	if err != nil {
		r.logger.WithError(err).Warn("gateway return verification failed")
		return ReturnResult{Message: "Invalid payment signature"}
	}

	result := ReturnResult{Verified: true, Success: cb.Success(), TxnRef: cb.TxnRef, Amount: cb.Amount}
	if result.Success {
		result.Message = "Payment successfully"
	} else {
		result.Message = "Payment failure"
	}
	return result
}

// HandleIPN обрабатывает серверное уведомление шлюза. Всегда возвращает ответ протокола;
// запись платежа и переход в PAID происходят только при коде 00.
func (r *Reconciler) HandleIPN(ctx context.Context, query url.Values) vnpay.IPNResponse {
	start := r.now()
	response, orderID := r.handleIPN(ctx, query, start)

	r.metrics.RecordIPNResponse(response.RspCode)
	entry := r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"txn_ref":  query.Get("vnp_TxnRef"),
		"rsp_code": response.RspCode,
	})
	if response.RspCode == vnpay.IPNSuccess.RspCode {
		entry.Info("ipn confirmed")
	} else {
		entry.Warn("ipn rejected")
	}
	return response
}

func (r *Reconciler) handleIPN(ctx context.Context, query url.Values, start time.Time) (vnpay.IPNResponse, string) {
	if r.gateway == nil {
		return vnpay.IPNUnknownError, ""
	}

	cb, err := r.gateway.Verify(query)
	switch {
	case errors.Is(err, vnpay.ErrInvalidChecksum):
		return vnpay.IPNFailChecksum, ""
	case err != nil:
		return vnpay.IPNUnknownError, ""
	}
	if !cb.Success() {
		return vnpay.IPNUnknownError, ""
	}

	var (
		outcome fulfillment.Outcome
		orderID string
	)
	err = r.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		attempt, err := tx.Payments().GetAttempt(ctx, cb.TxnRef)
		if err != nil {
			if domain.IsNotFound(err) {
				return ipnRejection{vnpay.IPNOrderNotFound}
			}
			return err
		}
		orderID = attempt.OrderID

		// Блокировка строки: конкурентная повторная доставка увидит уже PAID.
		order, err := tx.Orders().GetForUpdate(ctx, attempt.OrderID)
		if err != nil {
			if domain.IsNotFound(err) {
				return ipnRejection{vnpay.IPNOrderNotFound}
			}
			return err
		}
		if !cb.Matches(order.FinalPrice) {
			return ipnRejection{vnpay.IPNInvalidAmount}
		}
		if order.Status != domain.OrderStatusPending {
			return ipnRejection{vnpay.IPNAlreadyConfirmed}
		}

		detail := domain.PaymentDetail{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Method:    domain.PaymentMethodOnline,
			Amount:    order.FinalPrice,
			TxnRef:    cb.TxnRef,
			CreatedAt: r.now(),
		}
		if err := tx.Payments().CreateDetail(ctx, detail); err != nil {
			if domain.IsConflict(err) {
				return ipnRejection{vnpay.IPNAlreadyConfirmed}
			}
			return fmt.Errorf("create payment detail: %w", err)
		}

		outcome, err = r.machine.Apply(ctx, tx, fulfillment.TransitionRequest{
			OrderID:         order.ID,
			Status:          domain.OrderStatusPaid,
			PaymentDetailID: detail.ID,
			Reason:          "gateway confirmation " + cb.TxnRef,
		})
		return err
	})

	var rejection ipnRejection
	switch {
	case errors.As(err, &rejection):
		return rejection.response, orderID
	case err != nil:
		r.logger.WithError(err).WithField("order_id", orderID).Error("ipn processing failed")
		return vnpay.IPNUnknownError, orderID
	}

	r.metrics.RecordPayment(string(domain.PaymentMethodOnline), "success")
	r.machine.Observe(outcome, start)
	return vnpay.IPNSuccess, orderID
}

func (r *Reconciler) lockPending(ctx context.Context, tx domain.Tx, orderID string) (domain.Order, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrOrderNotPending)
	}
	return order, nil
}

// redeemVoucher гасит ваучер CAS-ом и пересчитывает final_price в той же транзакции.
func (r *Reconciler) redeemVoucher(ctx context.Context, tx domain.Tx, order domain.Order, code string) (domain.Order, error) {
	if order.VoucherCode != "" {
		return domain.Order{}, domain.ErrVoucherAlreadyApplied
	}

	voucher, err := tx.Vouchers().GetByCode(ctx, code)
	if err != nil {
		return domain.Order{}, err
	}
	if err := voucher.CheckRedeemable(order.OriginalPrice); err != nil {
		return domain.Order{}, fmt.Errorf("voucher %s: %w", code, err)
	}
	if err := tx.Vouchers().Redeem(ctx, voucher.ID); err != nil {
		return domain.Order{}, fmt.Errorf("voucher %s: %w", code, err)
	}

	order.FinalPrice = voucher.Apply(order.OriginalPrice)
	order.VoucherCode = voucher.Code
	order.UpdatedAt = r.now()
	if err := tx.Orders().Save(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("save discounted order: %w", err)
	}
	order.Version++
	return order, nil
}
