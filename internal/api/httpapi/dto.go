package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/ordering"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/pricing"
)

type toppingRequest struct {
	ToppingID int64 `json:"topping_id"`
	Quantity  int32 `json:"quantity"`
}

type lineRequest struct {
	ProductID int64            `json:"product_id"`
	SizeID    int64            `json:"size_id"`
	Quantity  int32            `json:"quantity"`
	Toppings  []toppingRequest `json:"toppings"`
	OptionIDs []int64          `json:"option_ids"`
}

type createOrderRequest struct {
	Lines           []lineRequest `json:"lines"`
	CustomerPhone   string        `json:"customer_phone"`
	OrderType       string        `json:"order_type"`
	Note            string        `json:"note"`
	ShippingAddress string        `json:"shipping_address"`
}

func (r createOrderRequest) toCommand(staffID string) ordering.CreateOrderRequest {
	lines := make([]ordering.LineRequest, 0, len(r.Lines))
	for _, line := range r.Lines {
		toppings := make([]pricing.ToppingSelection, 0, len(line.Toppings))
		for _, t := range line.Toppings {
			toppings = append(toppings, pricing.ToppingSelection{ToppingID: t.ToppingID, Quantity: t.Quantity})
		}
		lines = append(lines, ordering.LineRequest{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Quantity:  line.Quantity,
			Toppings:  toppings,
			OptionIDs: line.OptionIDs,
		})
	}
	return ordering.CreateOrderRequest{
		Lines:           lines,
		CustomerPhone:   r.CustomerPhone,
		OrderType:       r.OrderType,
		Note:            r.Note,
		ShippingAddress: r.ShippingAddress,
		StaffID:         staffID,
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type payCashRequest struct {
	Amount      int64  `json:"amount"`
	VoucherCode string `json:"voucher_code"`
}

type payOnlineRequest struct {
	VoucherCode string `json:"voucher_code"`
}

type toppingResponse struct {
	ToppingID int64  `json:"topping_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type lineResponse struct {
	ID                string            `json:"id"`
	ProductID         int64             `json:"product_id"`
	ProductName       string            `json:"product_name"`
	SizeID            int64             `json:"size_id,omitempty"`
	Quantity          int32             `json:"quantity"`
	UnitPrice         int64             `json:"unit_price"`
	OriginalUnitPrice int64             `json:"original_unit_price"`
	ToppingTotal      int64             `json:"topping_total"`
	LineTotal         int64             `json:"line_total"`
	Toppings          []toppingResponse `json:"toppings"`
	OptionIDs         []int64           `json:"option_ids"`
}

type orderResponse struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	OriginalPrice     int64          `json:"original_price"`
	FinalPrice        int64          `json:"final_price"`
	CustomerPhone     string         `json:"customer_phone,omitempty"`
	CustomerAccountID string         `json:"customer_account_id,omitempty"`
	StaffID           string         `json:"staff_id,omitempty"`
	OrderType         string         `json:"order_type"`
	Note              string         `json:"note,omitempty"`
	ShippingAddress   string         `json:"shipping_address,omitempty"`
	InvoiceKey        string         `json:"invoice_key,omitempty"`
	PaymentDetailID   string         `json:"payment_detail_id,omitempty"`
	VoucherCode       string         `json:"voucher_code,omitempty"`
	Version           int64          `json:"version"`
	Lines             []lineResponse `json:"lines"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	lines := make([]lineResponse, 0, len(order.Items))
	for _, item := range order.Items {
		toppings := make([]toppingResponse, 0, len(item.Toppings))
		for _, t := range item.Toppings {
			toppings = append(toppings, toppingResponse{
				ToppingID: t.ToppingID,
				Name:      t.Name,
				Quantity:  t.Quantity,
				UnitPrice: t.UnitPrice,
			})
		}
		optionIDs := item.OptionIDs
		if optionIDs == nil {
			optionIDs = []int64{}
		}
		lines = append(lines, lineResponse{
			ID:                item.ID,
			ProductID:         item.ProductID,
			ProductName:       item.ProductName,
			SizeID:            item.SizeID,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			OriginalUnitPrice: item.OriginalUnitPrice,
			ToppingTotal:      item.ToppingTotal,
			LineTotal:         item.LineTotal(),
			Toppings:          toppings,
			OptionIDs:         optionIDs,
		})
	}

	return orderResponse{
		ID:                order.ID,
		Status:            string(order.Status),
		OriginalPrice:     order.OriginalPrice,
		FinalPrice:        order.FinalPrice,
		CustomerPhone:     order.CustomerPhone,
		CustomerAccountID: order.CustomerAccountID,
		StaffID:           order.StaffID,
		OrderType:         string(order.OrderType),
		Note:              order.Note,
		ShippingAddress:   order.ShippingAddress,
		InvoiceKey:        order.InvoiceKey,
		PaymentDetailID:   order.PaymentDetailID,
		VoucherCode:       order.VoucherCode,
		Version:           order.Version,
		Lines:             lines,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
