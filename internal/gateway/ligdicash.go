// Package gateway implements the LigdiCash hosted-checkout client used to
// collect enrollment fees.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/pkg/config"
)

const checkoutPath = "/pay/v01/redirect/checkout-invoice/create"

// RejectedError is returned when the gateway answers but refuses to open a
// checkout session.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected checkout: code=%s message=%s", e.Code, e.Message)
}

// CheckoutRequest describes the session to open.
type CheckoutRequest struct {
	Amount        int64
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ExternalID    string
	PaiementID    string
	CallbackURL   string
	ReturnURL     string
	CancelURL     string
}

// CheckoutSession is the opened hosted-checkout session.
type CheckoutSession struct {
	PaymentURL string
	Token      string
}

// Client talks to the LigdiCash REST API.
type Client struct {
	baseURL      string
	apiKey       string
	authToken    string
	storeName    string
	storeWebsite string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		authToken:    cfg.AuthToken,
		storeName:    cfg.StoreName,
		storeWebsite: cfg.StoreWebsite,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
	}
}

type invoiceItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	TotalPrice  int64  `json:"total_price"`
}

type invoicePayload struct {
	Items             []invoiceItem `json:"items"`
	TotalAmount       int64         `json:"total_amount"`
	Devise            string        `json:"devise"`
	Description       string        `json:"description"`
	Customer          string        `json:"customer"`
	CustomerFirstname string        `json:"customer_firstname"`
	CustomerLastname  string        `json:"customer_lastname"`
	CustomerEmail     string        `json:"customer_email"`
	ExternalID        string        `json:"external_id"`
	Otp               string        `json:"otp"`
}

type storePayload struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url"`
}

type actionsPayload struct {
	CancelURL   string `json:"cancel_url"`
	ReturnURL   string `json:"return_url"`
	CallbackURL string `json:"callback_url"`
}

type customDataPayload struct {
	PaiementID string `json:"paiement_id"`
}

type checkoutPayload struct {
	Commande struct {
		Invoice    invoicePayload    `json:"invoice"`
		Store      storePayload      `json:"store"`
		Actions    actionsPayload    `json:"actions"`
		CustomData customDataPayload `json:"custom_data"`
	} `json:"commande"`
}

type checkoutResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Description  string `json:"description"`
	Token        string `json:"token"`
}

// CreateCheckoutInvoice opens a hosted checkout session and returns the page
// URL the payer must be redirected to. Amounts are whole XOF.
func (c *Client) CreateCheckoutInvoice(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", req.Amount)
	}
	for _, u := range []string{req.CallbackURL, req.ReturnURL, req.CancelURL} {
		if err := validateActionURL(u); err != nil {
			return nil, err
		}
	}

	var payload checkoutPayload
	payload.Commande.Invoice = invoicePayload{
		Items: []invoiceItem{{
			Name:        req.Description,
			Description: req.Description,
			Quantity:    1,
			UnitPrice:   req.Amount,
			TotalPrice:  req.Amount,
		}},
		TotalAmount:       req.Amount,
		Devise:            "XOF",
		Description:       req.Description,
		Customer:          req.CustomerPhone,
		CustomerFirstname: req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		ExternalID:        req.ExternalID,
	}
	payload.Commande.Store = storePayload{Name: c.storeName, WebsiteURL: c.storeWebsite}
	payload.Commande.Actions = actionsPayload{
		CancelURL:   req.CancelURL,
		ReturnURL:   req.ReturnURL,
		CallbackURL: req.CallbackURL,
	}
	payload.Commande.CustomData = customDataPayload{PaiementID: req.PaiementID}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkoutPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.authToken)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("ligdicash unreachable",
			zap.String("paiement_id", req.PaiementID),
			zap.Error(err))
		return nil, fmt.Errorf("ligdicash unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ligdicash http error",
			zap.Int("status", resp.StatusCode),
			zap.String("paiement_id", req.PaiementID))
		return nil, &RejectedError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: string(raw),
		}
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	if parsed.ResponseCode != "00" {
		return nil, &RejectedError{Code: parsed.ResponseCode, Message: parsed.Description}
	}
	if parsed.ResponseText == "" || parsed.Token == "" {
		return nil, &RejectedError{Code: parsed.ResponseCode, Message: "réponse incomplète de la passerelle"}
	}

	c.logger.Info("ligdicash checkout created",
		zap.String("paiement_id", req.PaiementID),
		zap.Int64("montant", req.Amount),
		zap.Duration("latency", time.Since(start)))

	return &CheckoutSession{PaymentURL: parsed.ResponseText, Token: parsed.Token}, nil
}

// validateActionURL requires absolute HTTPS URLs for gateway redirects.
// Plain HTTP is tolerated for loopback hosts so local setups keep working.
func validateActionURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("invalid gateway action url %q", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("gateway action url %q must use https", raw)
	default:
		return fmt.Errorf("gateway action url %q has unsupported scheme", raw)
	}
}
