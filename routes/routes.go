package routes

import (
	"github.com/moneyflowz367/affilync-bigcommerce/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterWebhookRoutes sets up the webhook endpoint and the health check. The optional
// middleware applies to the webhook group only.
func RegisterWebhookRoutes(r *gin.Engine, wc *controllers.WebhookController, webhookMiddleware ...gin.HandlerFunc) {
	r.GET("/health", wc.Health)

	webhooks := r.Group("/webhooks")
	webhooks.Use(webhookMiddleware...)
	webhooks.POST("/bigcommerce", wc.HandleBigCommerce)
}
