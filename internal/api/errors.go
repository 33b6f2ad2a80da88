package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paymnee/paygate/internal/core/amount"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/gate"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/verify"
)

// writeError maps engine errors onto HTTP statuses. Verification
// failures carry their reason so clients can distinguish "not mined
// yet" from "wrong amount" without parsing message text.
func writeError(c *gin.Context, err error) {
	if reason, ok := verify.ReasonOf(err); ok {
		status := http.StatusUnprocessableEntity
		switch reason {
		case verify.ReasonNotFound:
			status = http.StatusNotFound
		case verify.ReasonTransientNetwork:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "reason": string(reason)})
		return
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, gate.ErrPriceLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gate.ErrChunkQueueUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidTxHash),
		errors.Is(err, amount.ErrInvalidAmount),
		errors.Is(err, domain.ErrPriceRequired),
		errors.Is(err, domain.ErrPriceForbidden),
		errors.Is(err, domain.ErrPriceInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
