// Package gateway implements the outbound payment-provider client: create a
// hosted payment link, query a link's status and verify webhook signatures.
// Requests are authenticated with client-id/api-key headers and an
// HMAC-SHA256 signature over the payload's sorted key=value pairs.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"ms-lunch/internal/config"
	"ms-lunch/internal/logger"
)

// ErrGateway marks any non-success response from the payment provider.
var ErrGateway = errors.New("payment gateway error")

const successCode = "00"

type Client struct {
	cfg    config.GatewayConfig
	client *http.Client
	log    *logger.Logger
}

func New(cfg config.GatewayConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Configured reports whether all provider credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.APIKey != "" && c.cfg.ChecksumKey != ""
}

// LinkArtifacts are the checkout outputs handed back to the caller after a
// payment link is created.
type LinkArtifacts struct {
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	PaymentLinkID string `json:"paymentLinkId"`
}

// LinkStatus is the provider's current view of a payment link.
type LinkStatus struct {
	Status              string
	Amount              int64
	AmountPaid          int64
	Reference           string
	TransactionDateTime time.Time
	PaymentLinkID       string
}

type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// CreateLink opens a payment request at the provider and returns the
// checkout artifacts.
func (c *Client) CreateLink(ctx context.Context, orderCode int64, amount int64, description, buyerName string) (*LinkArtifacts, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: gateway credentials not configured", ErrGateway)
	}

	payload := map[string]interface{}{
		"orderCode":   orderCode,
		"amount":      amount,
		"description": description,
		"returnUrl":   c.cfg.ReturnURL,
		"cancelUrl":   c.cfg.CancelURL,
		"buyerName":   buyerName,
		"expiredAt":   time.Now().Add(c.cfg.LinkExpiry).Unix(),
	}

	// Only the five fields below participate in the request signature.
	payload["signature"] = c.sign(map[string]interface{}{
		"amount":      amount,
		"cancelUrl":   c.cfg.CancelURL,
		"description": description,
		"orderCode":   orderCode,
		"returnUrl":   c.cfg.ReturnURL,
	})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/payment-requests", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	c.log.LogGateway("CREATE_LINK", fmt.Sprintf("Creating payment link for order code %d (amount %d)", orderCode, amount))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decoding create-link response: %v", ErrGateway, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != successCode {
		return nil, fmt.Errorf("%w: create link failed: %s (%s)", ErrGateway, env.Desc, env.Code)
	}

	var artifacts LinkArtifacts
	if err := json.Unmarshal(env.Data, &artifacts); err != nil {
		return nil, fmt.Errorf("%w: decoding link artifacts: %v", ErrGateway, err)
	}
	return &artifacts, nil
}

// GetLinkStatus queries the provider for a payment link's current state.
func (c *Client) GetLinkStatus(ctx context.Context, orderCode int64) (*LinkStatus, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: gateway credentials not configured", ErrGateway)
	}

	url := fmt.Sprintf("%s/v2/payment-requests/%d", c.cfg.BaseURL, orderCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrGateway, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != successCode {
		return nil, fmt.Errorf("%w: status query failed: %s (%s)", ErrGateway, env.Desc, env.Code)
	}

	var data struct {
		Status        string `json:"status"`
		Amount        int64  `json:"amount"`
		AmountPaid    int64  `json:"amountPaid"`
		PaymentLinkID string `json:"id"`
		Transactions  []struct {
			Reference           string `json:"reference"`
			Amount              int64  `json:"amount"`
			TransactionDateTime string `json:"transactionDateTime"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decoding link status: %v", ErrGateway, err)
	}

	status := &LinkStatus{
		Status:        data.Status,
		Amount:        data.Amount,
		AmountPaid:    data.AmountPaid,
		PaymentLinkID: data.PaymentLinkID,
	}
	if len(data.Transactions) > 0 {
		last := data.Transactions[len(data.Transactions)-1]
		status.Reference = last.Reference
		status.TransactionDateTime = ParseTransactionTime(last.TransactionDateTime)
	}
	return status, nil
}

// VerifySignature checks a webhook body's HMAC against its data object.
// Malformed bodies verify as false, never as an error.
func (c *Client) VerifySignature(body []byte) bool {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	if len(env.Data) == 0 || env.Signature == "" {
		return false
	}

	data, err := decodeSignedFields(env.Data)
	if err != nil {
		return false
	}
	expected := c.sign(data)
	return hmac.Equal([]byte(expected), []byte(env.Signature))
}

// WebhookData extracts the data object from a webhook body.
func WebhookData(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, errors.New("webhook body has no data object")
	}
	return env.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// sign builds the canonical "k=v&k=v" string over sorted keys, skipping
// empty values, and returns its hex HMAC-SHA256.
func (c *Client) sign(payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := formatValue(payload[k])
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+v)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.ChecksumKey))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// decodeSignedFields keeps numbers as json.Number so integer order codes do
// not pick up a float exponent when rendered back to a string.
func decodeSignedFields(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ParseTransactionTime tolerates the provider's two timestamp layouts.
func ParseTransactionTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
