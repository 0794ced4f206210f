// Package vnpay строит подписанные ссылки на оплату и проверяет обратные вызовы
// платёжного шлюза VNPay (протокол 2.1.0).
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	Version     = "2.1.0"
	CommandPay  = "pay"
	CurrencyVND = "VND"
	OrderOther  = "other"
	LocaleVN    = "vn"

	// yyyyMMddHHmmss
	dateLayout = "20060102150405"

	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"

	responseSuccess = "00"

	// vnp_Amount передаётся в сотых долях донга.
	minorUnits = 100
)

var (
	// ErrNotConfigured возвращается при пустом TmnCode, секрете или адресе шлюза.
	ErrNotConfigured = errors.New("vnpay gateway is not configured")
	// ErrInvalidChecksum: подпись обратного вызова не совпала.
	ErrInvalidChecksum = errors.New("vnpay checksum mismatch")
	// ErrMalformedCallback: нет обязательных полей или сумма не число.
	ErrMalformedCallback = errors.New("vnpay callback is malformed")
)

// Location: часовой пояс шлюза, GMT+7.
var Location = time.FixedZone("GMT+7", 7*60*60)

// Config описывает терминал мерчанта.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	// ExpireAfter ограничивает срок жизни ссылки; по умолчанию сутки.
	ExpireAfter time.Duration
}

// PaymentRequest описывает одну онлайн-оплату.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	IPAddr    string
	CreatedAt time.Time
}

// Callback содержит проверенные поля return/IPN.
type Callback struct {
	TxnRef            string
	Amount            int64
	MinorAmount       int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
}

// Success сообщает, что шлюз подтвердил списание.
func (c Callback) Success() bool {
	if c.ResponseCode != responseSuccess {
		return false
	}
	return c.TransactionStatus == "" || c.TransactionStatus == responseSuccess
}

// Matches сверяет сумму шлюза с amount без округления: 11000099 не равно 110000.
func (c Callback) Matches(amount int64) bool {
	return c.MinorAmount == amount*minorUnits
}

// Client не хранит состояния между вызовами.
type Client struct {
	cfg Config
}

// NewClient проверяет конфигурацию и возвращает клиента.
func NewClient(cfg Config) (*Client, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" || cfg.PayURL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 24 * time.Hour
	}
	return &Client{cfg: cfg}, nil
}

// BuildPaymentURL формирует ссылку перенаправления с подписью HMAC-SHA512.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("%w: txn ref is required", ErrMalformedCallback)
	}
	if req.Amount < 0 {
		return "", fmt.Errorf("%w: negative amount", ErrMalformedCallback)
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.In(Location)

	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", Version)
	params.Set("vnp_Command", CommandPay)
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*minorUnits, 10))
	params.Set("vnp_CurrCode", CurrencyVND)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", OrderOther)
	params.Set("vnp_Locale", LocaleVN)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", created.Format(dateLayout))
	params.Set("vnp_ExpireDate", created.Add(c.cfg.ExpireAfter).Format(dateLayout))
	if c.cfg.ReturnURL != "" {
		params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	}

	signed := params.Encode()
	sep := "?"
	if strings.Contains(c.cfg.PayURL, "?") {
		sep = "&"
	}
	return c.cfg.PayURL + sep + signed + "&" + paramSecureHash + "=" + c.sign(signed), nil
}

// Verify проверяет подпись параметров return/IPN и разбирает их.
func (c *Client) Verify(query url.Values) (Callback, error) {
	got := query.Get(paramSecureHash)
	if got == "" {
		return Callback{}, ErrInvalidChecksum
	}

	params := url.Values{}
	for key, values := range query {
		if key == paramSecureHash || key == paramSecureHashType || !strings.HasPrefix(key, "vnp_") {
			continue
		}
		if len(values) == 0 || values[0] == "" {
			continue
		}
		params.Set(key, values[0])
	}

	want := c.sign(params.Encode())
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return Callback{}, ErrInvalidChecksum
	}

	cb := Callback{
		TxnRef:            params.Get("vnp_TxnRef"),
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		TransactionNo:     params.Get("vnp_TransactionNo"),
		BankCode:          params.Get("vnp_BankCode"),
		PayDate:           params.Get("vnp_PayDate"),
	}
	if cb.TxnRef == "" {
		return Callback{}, fmt.Errorf("%w: vnp_TxnRef is missing", ErrMalformedCallback)
	}

	raw, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: vnp_Amount: %v", ErrMalformedCallback, err)
	}
	cb.MinorAmount = raw
	cb.Amount = raw / minorUnits

	return cb, nil
}

// Sign возвращает подпись набора параметров в том виде, как её считает шлюз.
func (c *Client) Sign(values url.Values) string {
	return c.sign(values.Encode())
}

func (c *Client) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
