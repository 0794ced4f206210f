package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/coffee-oms/internal/service/payment"
)

const (
	headerStaffID   = "X-Staff-ID"
	headerAccountID = "X-Account-ID"
)

func (a *API) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, errInvalidBody)
		return
	}

	order, err := a.orders.CreateOrder(c.Request.Context(), req.toCommand(c.GetHeader(headerStaffID)))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (a *API) getOrder(c *gin.Context) {
	order, err := a.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (a *API) processingCount(c *gin.Context) {
	count, err := a.orders.ProcessingCount(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, errInvalidBody)
		return
	}

	order, err := a.fulfillment.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status, c.GetHeader(headerStaffID))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (a *API) cancelOrder(c *gin.Context) {
	accountID := strings.TrimSpace(c.GetHeader(headerAccountID))
	if accountID == "" {
		a.writeError(c, errAccountRequired)
		return
	}

	order, err := a.fulfillment.CancelByCustomer(c.Request.Context(), c.Param("id"), accountID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (a *API) payCash(c *gin.Context) {
	var req payCashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, errInvalidBody)
		return
	}

	order, err := a.payments.PayCash(c.Request.Context(), payment.CashRequest{
		OrderID:     c.Param("id"),
		Amount:      req.Amount,
		VoucherCode: req.VoucherCode,
		StaffID:     c.GetHeader(headerStaffID),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (a *API) payOnline(c *gin.Context) {
	var req payOnlineRequest
	// Пустое тело допустимо: оплата без ваучера.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(c, errInvalidBody)
		return
	}

	paymentURL, err := a.payments.PayOnline(c.Request.Context(), payment.OnlineRequest{
		OrderID:     c.Param("id"),
		VoucherCode: req.VoucherCode,
		IPAddr:      c.ClientIP(),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_url": paymentURL})
}

func (a *API) invoiceURL(c *gin.Context) {
	link, err := a.fulfillment.InvoiceURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link})
}

func (a *API) vnpayReturn(c *gin.Context) {
	c.JSON(http.StatusOK, a.payments.VerifyReturn(c.Request.URL.Query()))
}

// vnpayIPN всегда отвечает 200: шлюз читает только RspCode.
func (a *API) vnpayIPN(c *gin.Context) {
	c.JSON(http.StatusOK, a.payments.HandleIPN(c.Request.Context(), c.Request.URL.Query()))
}
