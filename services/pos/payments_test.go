package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentClient_RequiresToken(t *testing.T) {
	assert.Nil(t, NewPaymentClient("https://provider.test", "", ""))
	assert.NotNil(t, NewPaymentClient("https://provider.test", "token", ""))
}

func TestCreatePaymentLink(t *testing.T) {
	var received preferenceRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/preferences", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "pref-1",
			"init_point": "https://provider.test/pay/pref-1",
			"qr_code":    map[string]string{"url": "https://provider.test/qr/pref-1"},
		})
	}))
	defer server.Close()

	product := &Product{ID: uuid.New(), Name: "Yerba Mate 1kg", SKU: "A-1", UnitPrice: decimal.NewFromInt(100)}
	sale := NewSale(uuid.New(), PaymentMethodCreditCard, []SaleItem{NewSaleItem(product, decimal.NewFromInt(2))})
	client := NewPaymentClient(server.URL, "test-token", "https://pos.test/api/payments/webhook")

	link, err := client.CreatePaymentLink(context.Background(), sale)

	require.NoError(t, err)
	assert.Equal(t, "pref-1", link.PreferenceID)
	assert.Equal(t, "https://provider.test/pay/pref-1", link.InitPoint)
	assert.Equal(t, "https://provider.test/qr/pref-1", link.QRCodeURL)

	assert.Equal(t, sale.ID.String(), received.ExternalReference)
	assert.Equal(t, "https://pos.test/api/payments/webhook", received.NotificationURL)
	assert.Equal(t, "200", received.Total)
	require.Len(t, received.Items, 1)
	assert.Equal(t, "Yerba Mate 1kg", received.Items[0].Title)
	assert.Equal(t, "100", received.Items[0].UnitPrice)
}

func TestCreatePaymentLink_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sale := NewSale(uuid.New(), PaymentMethodCreditCard, []SaleItem{})
	client := NewPaymentClient(server.URL, "bad-token", "")

	_, err := client.CreatePaymentLink(context.Background(), sale)

	assert.ErrorContains(t, err, "status 401")
}

func TestGetPayment(t *testing.T) {
	saleID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay-42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PaymentInfo{
			ID:                "pay-42",
			Status:            providerStatusApproved,
			ExternalReference: saleID.String(),
		})
	}))
	defer server.Close()

	client := NewPaymentClient(server.URL, "test-token", "")

	payment, err := client.GetPayment(context.Background(), "pay-42")

	require.NoError(t, err)
	assert.Equal(t, "pay-42", payment.ID)
	assert.Equal(t, providerStatusApproved, payment.Status)
	assert.Equal(t, saleID.String(), payment.ExternalReference)
}
