package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 64 * 1024
)

type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

type WebhookHandler struct {
	reconciler WebhookReconciler
}

func NewWebhookHandler(reconciler WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Receive обслуживает POST /webhooks/processor. Подпись проверяется по сырому телу.
// 2xx подтверждает доставку, 5xx просит процессор повторить.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		response.BadRequest(c, "некорректное тело запроса")
		return
	}

	err = h.reconciler.Handle(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case apperror.HasCode(err, apperror.ErrCodeSignatureInvalid):
		response.BadRequest(c, "подпись не прошла проверку")
	default:
		response.Error(c, err)
	}
}
