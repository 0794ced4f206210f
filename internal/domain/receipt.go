package domain

import (
	"net/http"
	"time"
)

// ReceiptState — стадия обработки команды, пришедшей с Idempotency-Key.
type ReceiptState string

const (
	// ReceiptInFlight: команда принята, ответ ещё не записан.
	ReceiptInFlight ReceiptState = "in_flight"
	// ReceiptSucceeded: команда выполнена (2xx/3xx), ответ повторяется как есть.
	ReceiptSucceeded ReceiptState = "succeeded"
	// ReceiptRejected: бизнес-отказ (4xx). Повтор с тем же телом получит тот же отказ.
	ReceiptRejected ReceiptState = "rejected"
)

// Valid сообщает, что состояние известно хранилищу.
func (s ReceiptState) Valid() bool {
	switch s {
	case ReceiptInFlight, ReceiptSucceeded, ReceiptRejected:
		return true
	default:
		return false
	}
}

// CommandReceipt — квитанция мутирующей HTTP-команды: отпечаток запроса и сохранённый ответ.
type CommandReceipt struct {
	Key         string
	Fingerprint string
	Route       string
	State       ReceiptState
	StatusCode  int
	Body        []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, что срок квитанции истёк и ключ можно занять заново.
func (r CommandReceipt) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Replayable сообщает, что ответ записан и его можно выдать повторно.
func (r CommandReceipt) Replayable() bool {
	return r.State == ReceiptSucceeded || r.State == ReceiptRejected
}

// ReceiptStateFor отображает HTTP-код ответа в состояние квитанции.
// Для 5xx ok=false: сбой инфраструктуры не запоминается, ключ освобождается под повтор.
func ReceiptStateFor(statusCode int) (state ReceiptState, ok bool) {
	switch {
	case statusCode >= http.StatusInternalServerError || statusCode <= 0:
		return "", false
	case statusCode >= http.StatusBadRequest:
		return ReceiptRejected, true
	default:
		return ReceiptSucceeded, true
	}
}
