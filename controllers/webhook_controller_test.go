package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/controllers"
	"github.com/moneyflowz367/affilync-bigcommerce/models"
	"github.com/moneyflowz367/affilync-bigcommerce/routes"
	"github.com/moneyflowz367/affilync-bigcommerce/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- concrete mock implementing services.Dispatcher ----

type mockDispatcher struct {
	result        services.DispatchResult
	calls         int
	lastBody      []byte
	lastSignature string
}

func (m *mockDispatcher) Dispatch(_ context.Context, body []byte, signature string) services.DispatchResult {
	m.calls++
	m.lastBody = body
	m.lastSignature = signature
	return m.result
}

// ---- helpers ----

func setupRouter(d services.Dispatcher, maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	routes.RegisterWebhookRoutes(r, controllers.NewWebhookController(d, maxBody))
	return r
}

func post(r *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bigcommerce", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(services.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- tests ----

func TestHandleBigCommerce_Committed(t *testing.T) {
	d := &mockDispatcher{result: services.DispatchResult{
		State:      models.StateCommitted,
		HTTPStatus: http.StatusOK,
		Deliveries: []services.DeliveryResult{{
			Scope:   "store/order/statusUpdated",
			EventID: "evt-1",
			State:   models.StateCommitted,
			Outcome: &models.Outcome{Status: models.OutcomeAttributed, OrderID: "118"},
		}},
	}}
	r := setupRouter(d, 1024)

	body := `{"scope":"store/order/statusUpdated","producer":"stores/abc123"}`
	w := post(r, body, "deadbeef")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, body, string(d.lastBody))
	assert.Equal(t, "deadbeef", d.lastSignature)

	var resp struct {
		Status     string                    `json:"status"`
		State      string                    `json:"state"`
		Deliveries []services.DeliveryResult `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "committed", resp.State)
	require.Len(t, resp.Deliveries, 1)
	assert.Equal(t, "evt-1", resp.Deliveries[0].EventID)
	assert.Equal(t, models.OutcomeAttributed, resp.Deliveries[0].Outcome.Status)
}

func TestHandleBigCommerce_RejectedCarriesReason(t *testing.T) {
	d := &mockDispatcher{result: services.DispatchResult{
		State:      models.StateRejected,
		HTTPStatus: http.StatusUnauthorized,
		Reason:     services.ReasonSignatureMismatch,
	}}
	r := setupRouter(d, 1024)

	w := post(r, `{}`, "00")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rejected", resp["status"])
	assert.Equal(t, services.ReasonSignatureMismatch, resp["reason"])
	assert.Equal(t, []interface{}{}, resp["deliveries"])
}

func TestHandleBigCommerce_FailedAsksForRedelivery(t *testing.T) {
	d := &mockDispatcher{result: services.DispatchResult{
		State:      models.StateFailed,
		HTTPStatus: http.StatusServiceUnavailable,
		Deliveries: []services.DeliveryResult{{Scope: "store/order/statusUpdated", State: models.StateFailed, Error: "Storage unavailable"}},
	}}
	r := setupRouter(d, 1024)

	w := post(r, `{}`, "00")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"retry"`)
	assert.Contains(t, w.Body.String(), `"error":"Storage unavailable"`)
}

func TestHandleBigCommerce_PayloadTooLarge(t *testing.T) {
	d := &mockDispatcher{}
	r := setupRouter(d, 16)

	w := post(r, string(bytes.Repeat([]byte("x"), 64)), "00")

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, d.calls)
	assert.Contains(t, w.Body.String(), "Payload too large")
}

func TestHealth(t *testing.T) {
	r := setupRouter(&mockDispatcher{}, 1024)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK","service":"attribution-service"}`, w.Body.String())
}
