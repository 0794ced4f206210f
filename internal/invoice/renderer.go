// Package invoice формирует документ счёта по снимку заказа.
package invoice

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const invoiceTemplate = `<!DOCTYPE html>
<html lang="vi">
<head><meta charset="utf-8"><title>Invoice {{.ID}}</title></head>
<body>
<h1>{{.Shop}}</h1>
<p>Invoice #{{.ID}}<br>Date: {{.Date}}<br>Type: {{.OrderType}}{{if .CustomerPhone}}<br>Customer: {{.CustomerPhone}}{{end}}</p>
<table>
<thead><tr><th>Item</th><th>Qty</th><th>Unit</th><th>Total</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>{{.Name}}{{range .Toppings}}<br>+ {{.}}{{end}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{- end}}
</tbody>
</table>
<p>Subtotal: {{.Original}}</p>
{{- if .Discounted}}
<p>Voucher {{.VoucherCode}}: -{{.Discount}}</p>
{{- end}}
<p><strong>Total: {{.Final}}</strong></p>
</body>
</html>
`

type lineView struct {
	Name      string
	Toppings  []string
	Quantity  int32
	UnitPrice string
	Total     string
}

type invoiceView struct {
	Shop          string
	ID            string
	Date          string
	OrderType     domain.OrderType
	CustomerPhone string
	Lines         []lineView
	Original      string
	Discounted    bool
	VoucherCode   string
	Discount      string
	Final         string
}

// HTMLRenderer рендерит счёт в HTML.
type HTMLRenderer struct {
	shop     string
	location *time.Location
	tmpl     *template.Template
}

// NewHTMLRenderer создаёт рендерер; location задаёт часовой пояс даты в счёте.
func NewHTMLRenderer(shop string, location *time.Location) *HTMLRenderer {
	if location == nil {
		location = time.UTC
	}
	return &HTMLRenderer{
		shop:     shop,
		location: location,
		tmpl:     template.Must(template.New("invoice").Parse(invoiceTemplate)),
	}
}

// ContentType возвращает MIME-тип документа.
func (r *HTMLRenderer) ContentType() string {
	return "text/html; charset=utf-8"
}

// Render строит документ по зафиксированным в заказе ценам.
func (r *HTMLRenderer) Render(order domain.Order) ([]byte, error) {
	view := invoiceView{
		Shop:          r.shop,
		ID:            order.ID,
		Date:          order.CreatedAt.In(r.location).Format("02/01/2006 15:04"),
		OrderType:     order.OrderType,
		CustomerPhone: order.CustomerPhone,
		Original:      FormatVND(order.OriginalPrice),
		Final:         FormatVND(order.FinalPrice),
	}
	if order.FinalPrice < order.OriginalPrice {
		view.Discounted = true
		view.VoucherCode = order.VoucherCode
		view.Discount = FormatVND(order.OriginalPrice - order.FinalPrice)
	}

	for _, line := range order.Items {
		lv := lineView{
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: FormatVND(line.UnitPrice + line.ToppingTotal),
			Total:     FormatVND(line.LineTotal()),
		}
		if lv.Name == "" {
			lv.Name = "#" + strconv.FormatInt(line.ProductID, 10)
		}
		for _, topping := range line.Toppings {
			lv.Toppings = append(lv.Toppings, fmt.Sprintf("%s x%d", topping.Name, topping.Quantity))
		}
		view.Lines = append(view.Lines, lv)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", order.ID, err)
	}
	return buf.Bytes(), nil
}

// Key возвращает ключ объекта: invoices/{yyyy}/{mm}/invoice-{orderId}.html.
func Key(order domain.Order, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	created := order.CreatedAt.In(location)
	return fmt.Sprintf("invoices/%04d/%02d/invoice-%s.html", created.Year(), int(created.Month()), order.ID)
}

// FormatVND форматирует сумму с разделителем тысяч: 110000 -> "110.000 ₫".
func FormatVND(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var out []byte
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, digits[i])
	}
	return sign + string(out) + " ₫"
}

var _ domain.InvoiceRenderer = (*HTMLRenderer)(nil)
