package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// PaymentLink is what the cashier shows the customer after checkout: a
// redirect URL and, when the provider supports it, a QR code.
type PaymentLink struct {
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
	QRCodeURL    string `json:"qr_code_url,omitempty"`
}

// PaymentProvider hands a committed sale off to the external payment
// collaborator. The provider later reports the outcome through the webhook;
// this client never mutates sales itself.
type PaymentProvider interface {
	CreatePaymentLink(ctx context.Context, sale *Sale) (*PaymentLink, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
}

// PaymentInfo is the provider's view of a payment, fetched when a webhook
// arrives.
type PaymentInfo struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
}

// Provider-side payment statuses.
const (
	providerStatusApproved = "approved"
	providerStatusRejected = "rejected"
)

// RestyPaymentClient talks to the payment provider's REST API.
type RestyPaymentClient struct {
	client      *resty.Client
	baseURL     string
	accessToken string
	webhookURL  string
}

// NewPaymentClient creates the provider client. Returns nil when no access
// token is configured, in which case payment links are unavailable but
// checkout still works (cash sales).
func NewPaymentClient(baseURL, accessToken, webhookURL string) *RestyPaymentClient {
	if accessToken == "" {
		return nil
	}
	return &RestyPaymentClient{
		client:      resty.New().SetTimeout(10 * time.Second),
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		webhookURL:  webhookURL,
	}
}

type preferenceItem struct {
	Title     string `json:"title"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type preferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	Total             string           `json:"total"`
	Items             []preferenceItem `json:"items"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
	QRCode    struct {
		URL string `json:"url"`
	} `json:"qr_code"`
}

// CreatePaymentLink registers a payment preference for the sale. The sale id
// travels as the external reference so the webhook can find its way back.
func (c *RestyPaymentClient) CreatePaymentLink(ctx context.Context, sale *Sale) (*PaymentLink, error) {
	body := preferenceRequest{
		ExternalReference: sale.ID.String(),
		NotificationURL:   c.webhookURL,
		Total:             sale.Total.String(),
		Items:             make([]preferenceItem, len(sale.Items)),
	}
	for i, item := range sale.Items {
		body.Items[i] = preferenceItem{
			Title:     item.ProductName,
			Quantity:  item.Quantity.String(),
			UnitPrice: item.UnitPrice.String(),
		}
	}

	var out preferenceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(c.baseURL + "/v1/preferences")
	if err != nil {
		return nil, fmt.Errorf("creating payment preference for sale %s: %w", sale.ID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment provider rejected preference for sale %s: status %d", sale.ID, resp.StatusCode())
	}

	return &PaymentLink{
		PreferenceID: out.ID,
		InitPoint:    out.InitPoint,
		QRCodeURL:    out.QRCode.URL,
	}, nil
}

// GetPayment fetches the payment named by a webhook notification.
func (c *RestyPaymentClient) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	var out PaymentInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetResult(&out).
		Get(c.baseURL + "/v1/payments/" + paymentID)
	if err != nil {
		return nil, fmt.Errorf("fetching payment %s: %w", paymentID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment provider returned status %d for payment %s", resp.StatusCode(), paymentID)
	}
	return &out, nil
}
