package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// DefaultReceiptTTL — срок, в течение которого ответ команды выдаётся повторно.
	DefaultReceiptTTL = 24 * time.Hour
)

// bodyRecorder дублирует тело ответа в квитанцию.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// withReceipt оборачивает мутирующую команду квитанцией по Idempotency-Key.
// Записанный ответ (2xx-4xx) выдаётся повторно, 5xx освобождает ключ под повтор.
func (a *API) withReceipt() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" || a.receipts == nil {
			c.Next()
			return
		}

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			a.writeError(c, errInvalidBody)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(payload))

		ctx := c.Request.Context()
		now := a.now()
		existing, err := a.receipts.Reserve(ctx, domain.CommandReceipt{
			Key:         key,
			Fingerprint: fingerprint(c.Request.Method, c.Request.URL.Path, payload),
			Route:       c.Request.Method + " " + c.FullPath(),
			ExpiresAt:   now.Add(a.receiptTTL),
			CreatedAt:   now,
		})
		if err != nil {
			a.replay(c, err, existing)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Клиент мог отвалиться, но исход команды всё равно фиксируется.
		storeCtx := context.WithoutCancel(ctx)
		entry := a.logger.WithField("idempotency_key", key)
		state, ok := domain.ReceiptStateFor(recorder.Status())
		if !ok {
			if err := a.receipts.Release(storeCtx, key); err != nil && !errors.Is(err, domain.ErrReceiptNotFound) {
				entry.WithError(err).Warn("failed to release receipt")
			}
			return
		}
		if err := a.receipts.Complete(storeCtx, key, state, recorder.Status(), recorder.body.Bytes()); err != nil {
			entry.WithError(err).Warn("failed to complete receipt")
		}
	}
}

func (a *API) replay(c *gin.Context, reserveErr error, existing domain.CommandReceipt) {
	switch {
	case errors.Is(reserveErr, domain.ErrReceiptFingerprintMismatch):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(reserveErr, domain.ErrReceiptInUse) && existing.Replayable():
		c.Header(headerReplayed, "true")
		c.Data(existing.StatusCode, "application/json; charset=utf-8", existing.Body)
		c.Abort()
	case errors.Is(reserveErr, domain.ErrReceiptInUse):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
	default:
		a.writeError(c, reserveErr)
	}
}

// fingerprint покрывает метод, путь и тело: тот же ключ на другом заказе считается другим запросом.
func fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
