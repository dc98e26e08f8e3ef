package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/pkg/config"
)

func newTestClient(serverURL string) *Client {
	return NewClient(config.GatewayConfig{
		BaseURL:      serverURL,
		APIKey:       "test-key",
		AuthToken:    "test-token",
		StoreName:    "GESCO",
		StoreWebsite: "https://gesco.example.com",
		Timeout:      2 * time.Second,
	}, zap.NewNop())
}

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		Amount:        285000,
		Description:   "Frais d'inscription CAND2024ESTINFO0001",
		CustomerName:  "Awa Traoré",
		CustomerEmail: "awa@example.com",
		CustomerPhone: "+22670000001",
		ExternalID:    "PAY20240829143501X7K2QD",
		PaiementID:    "pay-1",
		CallbackURL:   "https://gesco.example.com/api/v1/paiements/webhook/ligdicash",
		ReturnURL:     "https://gesco.example.com/retour",
		CancelURL:     "https://gesco.example.com/annulation",
	}
}

func TestCreateCheckoutInvoice(t *testing.T) {
	var received checkoutPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, checkoutPath, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Apikey"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(checkoutResponse{
			ResponseCode: "00",
			ResponseText: "https://pay.ligdicash.com/abc",
			Token:        "gw-token",
		})
	}))
	defer server.Close()

	session, err := newTestClient(server.URL).CreateCheckoutInvoice(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.ligdicash.com/abc", session.PaymentURL)
	assert.Equal(t, "gw-token", session.Token)

	invoice := received.Commande.Invoice
	assert.Equal(t, int64(285000), invoice.TotalAmount)
	assert.Equal(t, "XOF", invoice.Devise)
	assert.Equal(t, "PAY20240829143501X7K2QD", invoice.ExternalID)
	assert.Equal(t, "pay-1", received.Commande.CustomData.PaiementID)
}

func TestCreateCheckoutInvoiceRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(checkoutResponse{ResponseCode: "01", Description: "solde marchand insuffisant"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateCheckoutInvoice(context.Background(), checkoutRequest())
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "01", rejected.Code)
}

func TestCreateCheckoutInvoiceHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateCheckoutInvoice(context.Background(), checkoutRequest())
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "HTTP_401", rejected.Code)
}

func TestCreateCheckoutInvoiceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := newTestClient(server.URL).CreateCheckoutInvoice(context.Background(), checkoutRequest())
	require.Error(t, err)
	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected))
}

func TestCreateCheckoutInvoiceRejectsNonPositiveAmount(t *testing.T) {
	req := checkoutRequest()
	req.Amount = 0

	_, err := newTestClient("https://example.com").CreateCheckoutInvoice(context.Background(), req)
	require.Error(t, err)
}

func TestValidateActionURL(t *testing.T) {
	assert.NoError(t, validateActionURL("https://gesco.example.com/retour"))
	assert.NoError(t, validateActionURL("http://localhost:8080/retour"))
	assert.NoError(t, validateActionURL("http://127.0.0.1:8080/retour"))
	assert.Error(t, validateActionURL("http://gesco.example.com/retour"))
	assert.Error(t, validateActionURL("ftp://gesco.example.com/retour"))
	assert.Error(t, validateActionURL("/relatif"))
}
