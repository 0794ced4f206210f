package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

var (
	errAccountRequired = errors.New("X-Account-ID header is required")
	errInvalidBody     = errors.New("invalid request body")
)

// statusFor переводит доменную ошибку в HTTP-код.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errAccountRequired), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		a.logger.WithError(err).
			WithField("request_id", requestID(c)).
			WithField("path", c.FullPath()).
			Error("request failed")
		message = "internal error"
	}
	c.AbortWithStatusJSON(code, errorResponse{Error: message})
}
