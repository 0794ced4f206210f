package payment

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/coffee-oms/internal/invoice"
	"github.com/vladislavdragonenkov/coffee-oms/internal/objectstore"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/inventory"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return logger.WithField("component", "payment-test")
}

type fixture struct {
	store      *memory.Store
	objects    *objectstore.MemoryStore
	gateway    *vnpay.Client
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.PutVoucher(domain.Voucher{ID: 1, Code: "SALE10", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})
	store.PutVoucher(domain.Voucher{ID: 2, Code: "BIG", DiscountPercentage: decimal.NewFromInt(50), IsActive: true, MinAmountOrder: 500_000})
	store.PutVoucher(domain.Voucher{ID: 3, Code: "USED", DiscountPercentage: decimal.NewFromInt(10), IsActive: false})

	gateway, err := vnpay.NewClient(vnpay.Config{
		TmnCode:    "COFFEE01",
		HashSecret: "SECRETKEY",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	objects := objectstore.NewMemoryStore("")
	machine := fulfillment.NewMachine(
		store,
		inventory.NewLedger(testLogger()),
		invoice.NewHTMLRenderer("Test Coffee", time.UTC),
		objects,
		testLogger(),
	)

	return &fixture{
		store:      store,
		objects:    objects,
		gateway:    gateway,
		reconciler: NewReconciler(store, machine, testLogger(), WithGateway(gateway)),
	}
}

func (f *fixture) seedOrder(t *testing.T, id string, price int64) {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID:            id,
		Status:        domain.OrderStatusPending,
		OrderType:     domain.OrderTypePOS,
		OriginalPrice: price,
		FinalPrice:    price,
		Items: []domain.OrderLineItem{
			{ID: id + "-line", ProductID: 1, ProductName: "Latte", Quantity: 1, UnitPrice: price, OriginalUnitPrice: price},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Orders().Create(ctx, order)
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *fixture) order(t *testing.T, id string) (domain.Order, []domain.PaymentDetail) {
	t.Helper()
	var (
		order   domain.Order
		details []domain.PaymentDetail
	)
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		if order, err = tx.Orders().Get(ctx, id); err != nil {
			return err
		}
		details, err = tx.Payments().ListDetails(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order, details
}

// ipnQuery собирает подписанный вызов шлюза для txn ref из ссылки на оплату.
func (f *fixture) ipnQuery(t *testing.T, paymentURL string, amount int64, code string) url.Values {
	t.Helper()
	parsed, err := url.Parse(paymentURL)
	if err != nil {
		t.Fatalf("parse payment url: %v", err)
	}
	values := url.Values{}
	values.Set("vnp_TmnCode", "COFFEE01")
	values.Set("vnp_TxnRef", parsed.Query().Get("vnp_TxnRef"))
	values.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	values.Set("vnp_ResponseCode", code)
	values.Set("vnp_TransactionStatus", code)
	values.Set("vnp_TransactionNo", "14000001")
	values.Set("vnp_SecureHash", f.gateway.Sign(values))
	return values
}

func TestPayCash(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)
	f.seedOrder(t, "order-2", 110_000)
	ctx := context.Background()

	_, err := f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-2", Amount: 100_000})
	if !errors.Is(err, domain.ErrInsufficientAmount) {
		t.Fatalf("expected ErrInsufficientAmount, got %v", err)
	}

	paid, err := f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 110_000, StaffID: "staff-1"})
	if err != nil {
		t.Fatalf("pay cash: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid || paid.InvoiceKey == "" || paid.StaffID != "staff-1" {
		t.Fatalf("unexpected paid order: %+v", paid)
	}

	_, details := f.order(t, "order-1")
	if len(details) != 1 || details[0].Change != 0 || details[0].Method != domain.PaymentMethodCash {
		t.Fatalf("unexpected payment details: %+v", details)
	}
	if paid.PaymentDetailID != details[0].ID {
		t.Fatalf("order not linked to payment detail")
	}

	_, err = f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 110_000})
	if !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending on second payment, got %v", err)
	}
}

func TestPayCash_Voucher(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)
	ctx := context.Background()

	_, err := f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 110_000, VoucherCode: "NOPE"})
	if !errors.Is(err, domain.ErrVoucherNotFound) {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
	_, err = f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 110_000, VoucherCode: "USED"})
	if !errors.Is(err, domain.ErrVoucherInactive) {
		t.Fatalf("expected ErrVoucherInactive, got %v", err)
	}
	_, err = f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 110_000, VoucherCode: "BIG"})
	if !errors.Is(err, domain.ErrVoucherMinAmount) {
		t.Fatalf("expected ErrVoucherMinAmount, got %v", err)
	}

	// Недостаточная сумма откатывает и погашение ваучера.
	_, err = f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 90_000, VoucherCode: "SALE10"})
	if !errors.Is(err, domain.ErrInsufficientAmount) {
		t.Fatalf("expected ErrInsufficientAmount, got %v", err)
	}

	paid, err := f.reconciler.PayCash(ctx, CashRequest{OrderID: "order-1", Amount: 100_000, VoucherCode: "SALE10"})
	if err != nil {
		t.Fatalf("pay with voucher: %v", err)
	}
	if paid.FinalPrice != 99_000 || paid.OriginalPrice != 110_000 || paid.VoucherCode != "SALE10" {
		t.Fatalf("unexpected prices: original=%d final=%d voucher=%s", paid.OriginalPrice, paid.FinalPrice, paid.VoucherCode)
	}
	_, details := f.order(t, "order-1")
	if len(details) != 1 || details[0].Change != 1_000 {
		t.Fatalf("unexpected change: %+v", details)
	}
}

func TestPayCash_ConcurrentVoucherRedemption(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-a", 110_000)
	f.seedOrder(t, "order-b", 110_000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected []error
	)
	for _, id := range []string{"order-a", "order-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.reconciler.PayCash(context.Background(), CashRequest{OrderID: id, Amount: 110_000, VoucherCode: "SALE10"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			rejected = append(rejected, err)
		}(id)
	}
	wg.Wait()

	if success != 1 || len(rejected) != 1 {
		t.Fatalf("expected exactly one redemption, success=%d rejected=%v", success, rejected)
	}
	if !errors.Is(rejected[0], domain.ErrVoucherInactive) && !errors.Is(rejected[0], domain.ErrVoucherAlreadyRedeemed) {
		t.Fatalf("loser must see an inactive voucher, got %v", rejected[0])
	}
}

func TestPayOnline(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)
	ctx := context.Background()

	paymentURL, err := f.reconciler.PayOnline(ctx, OnlineRequest{OrderID: "order-1", VoucherCode: "SALE10"})
	if err != nil {
		t.Fatalf("pay online: %v", err)
	}
	parsed, err := url.Parse(paymentURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if got := parsed.Query().Get("vnp_Amount"); got != "9900000" {
		t.Fatalf("expected discounted amount x100, got %s", got)
	}
	if len(parsed.Query().Get("vnp_TxnRef")) != 32 {
		t.Fatalf("unexpected txn ref %q", parsed.Query().Get("vnp_TxnRef"))
	}

	order, details := f.order(t, "order-1")
	if order.Status != domain.OrderStatusPending || len(details) != 0 {
		t.Fatalf("initiation must not settle the order: status=%s details=%d", order.Status, len(details))
	}
	if order.FinalPrice != 99_000 {
		t.Fatalf("voucher not applied: %d", order.FinalPrice)
	}

	_, err = f.reconciler.PayOnline(ctx, OnlineRequest{OrderID: "order-1", VoucherCode: "SALE10"})
	if !errors.Is(err, domain.ErrVoucherAlreadyApplied) {
		t.Fatalf("expected ErrVoucherAlreadyApplied, got %v", err)
	}
}

func TestPayOnline_NoGateway(t *testing.T) {
	store := memory.NewStore()
	reconciler := NewReconciler(store, nil, testLogger())

	_, err := reconciler.PayOnline(context.Background(), OnlineRequest{OrderID: "order-1"})
	if !errors.Is(err, domain.ErrGatewayNotConfigured) {
		t.Fatalf("expected ErrGatewayNotConfigured, got %v", err)
	}
	if resp := reconciler.HandleIPN(context.Background(), url.Values{}); resp != vnpay.IPNUnknownError {
		t.Fatalf("expected unknown error, got %+v", resp)
	}
}

func TestVerifyReturn_DoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)

	paymentURL, err := f.reconciler.PayOnline(context.Background(), OnlineRequest{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("pay online: %v", err)
	}

	result := f.reconciler.VerifyReturn(f.ipnQuery(t, paymentURL, 110_000, "00"))
	if !result.Verified || !result.Success || result.Amount != 110_000 {
		t.Fatalf("unexpected return result: %+v", result)
	}

	tampered := f.ipnQuery(t, paymentURL, 110_000, "00")
	tampered.Set("vnp_Amount", "1")
	if result := f.reconciler.VerifyReturn(tampered); result.Verified {
		t.Fatalf("tampered return must not verify")
	}

	order, details := f.order(t, "order-1")
	if order.Status != domain.OrderStatusPending || len(details) != 0 {
		t.Fatalf("return redirect mutated the order: status=%s details=%d", order.Status, len(details))
	}
}

func TestHandleIPN(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)
	ctx := context.Background()

	paymentURL, err := f.reconciler.PayOnline(ctx, OnlineRequest{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("pay online: %v", err)
	}

	t.Run("checksum", func(t *testing.T) {
		query := f.ipnQuery(t, paymentURL, 110_000, "00")
		query.Set("vnp_SecureHash", "deadbeef")
		if resp := f.reconciler.HandleIPN(ctx, query); resp != vnpay.IPNFailChecksum {
			t.Fatalf("expected 97, got %+v", resp)
		}
	})

	t.Run("unknown txn", func(t *testing.T) {
		query := url.Values{}
		query.Set("vnp_TxnRef", "missing")
		query.Set("vnp_Amount", "11000000")
		query.Set("vnp_ResponseCode", "00")
		query.Set("vnp_SecureHash", f.gateway.Sign(query))
		if resp := f.reconciler.HandleIPN(ctx, query); resp != vnpay.IPNOrderNotFound {
			t.Fatalf("expected 01, got %+v", resp)
		}
	})

	t.Run("amount mismatch", func(t *testing.T) {
		if resp := f.reconciler.HandleIPN(ctx, f.ipnQuery(t, paymentURL, 100_000, "00")); resp != vnpay.IPNInvalidAmount {
			t.Fatalf("expected 04, got %+v", resp)
		}
	})

	t.Run("amount off by minor units", func(t *testing.T) {
		query := f.ipnQuery(t, paymentURL, 110_000, "00")
		query.Set("vnp_Amount", "11000099")
		query.Del("vnp_SecureHash")
		query.Set("vnp_SecureHash", f.gateway.Sign(query))
		if resp := f.reconciler.HandleIPN(ctx, query); resp != vnpay.IPNInvalidAmount {
			t.Fatalf("expected 04, got %+v", resp)
		}
	})

	t.Run("declined", func(t *testing.T) {
		if resp := f.reconciler.HandleIPN(ctx, f.ipnQuery(t, paymentURL, 110_000, "24")); resp != vnpay.IPNUnknownError {
			t.Fatalf("expected 99, got %+v", resp)
		}
	})

	order, details := f.order(t, "order-1")
	if order.Status != domain.OrderStatusPending || len(details) != 0 {
		t.Fatalf("rejected deliveries mutated the order: status=%s details=%d", order.Status, len(details))
	}

	t.Run("success then duplicate", func(t *testing.T) {
		query := f.ipnQuery(t, paymentURL, 110_000, "00")
		if resp := f.reconciler.HandleIPN(ctx, query); resp != vnpay.IPNSuccess {
			t.Fatalf("expected 00, got %+v", resp)
		}
		if resp := f.reconciler.HandleIPN(ctx, query); resp != vnpay.IPNAlreadyConfirmed {
			t.Fatalf("expected 02 on replay, got %+v", resp)
		}

		order, details := f.order(t, "order-1")
		if order.Status != domain.OrderStatusPaid || len(details) != 1 {
			t.Fatalf("expected one settlement: status=%s details=%d", order.Status, len(details))
		}
		if details[0].Method != domain.PaymentMethodOnline || details[0].TxnRef == "" {
			t.Fatalf("unexpected detail: %+v", details[0])
		}
		if f.objects.Puts() != 1 {
			t.Fatalf("expected exactly one invoice, got %d", f.objects.Puts())
		}
	})
}

func TestHandleIPN_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "order-1", 110_000)
	ctx := context.Background()

	paymentURL, err := f.reconciler.PayOnline(ctx, OnlineRequest{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("pay online: %v", err)
	}
	query := f.ipnQuery(t, paymentURL, 110_000, "00")

	const deliveries = 8
	codes := make(chan string, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- f.reconciler.HandleIPN(ctx, query).RspCode
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[string]int{}
	for code := range codes {
		counts[code]++
	}
	if counts["00"] != 1 || counts["02"] != deliveries-1 {
		t.Fatalf("unexpected ipn codes: %v", counts)
	}

	_, details := f.order(t, "order-1")
	if len(details) != 1 {
		t.Fatalf("expected one payment detail, got %d", len(details))
	}
}
