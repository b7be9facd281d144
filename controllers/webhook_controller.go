package controllers

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/services"

	"github.com/gin-gonic/gin"
)

// WebhookController handles inbound BigCommerce webhook deliveries.
type WebhookController struct {
	dispatcher   services.Dispatcher
	maxBodyBytes int64
}

func NewWebhookController(dispatcher services.Dispatcher, maxBodyBytes int64) *WebhookController {
	return &WebhookController{dispatcher: dispatcher, maxBodyBytes: maxBodyBytes}
}

// HandleBigCommerce handles POST /webhooks/bigcommerce
func (wc *WebhookController) HandleBigCommerce(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, wc.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apperrors.Wrap(apperrors.ErrPayloadTooLarge, err))
			return
		}
		_ = c.Error(apperrors.Wrap(apperrors.ErrBadRequest, err))
		return
	}

	result := wc.dispatcher.Dispatch(c.Request.Context(), body, c.GetHeader(services.SignatureHeader))

	resp := gin.H{
		"status":     statusText(result.HTTPStatus),
		"state":      result.State,
		"deliveries": deliveriesOrEmpty(result.Deliveries),
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	c.JSON(result.HTTPStatus, resp)
}

// Health handles GET /health
func (wc *WebhookController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "attribution-service"})
}

func statusText(code int) string {
	switch {
	case code < http.StatusMultipleChoices:
		return "ok"
	case code == http.StatusUnauthorized:
		return "rejected"
	default:
		return "retry"
	}
}

func deliveriesOrEmpty(d []services.DeliveryResult) []services.DeliveryResult {
	if d == nil {
		return []services.DeliveryResult{}
	}
	return d
}
