package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukapay/go-shop-backend/internal/config"
)

// Client talks to the Daraja API: OAuth token, STK push initiation, and the
// status query used for manual/background verification. It implements
// shop.PaymentGateway.
type Client struct {
	cfg  config.MpesaConfig
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg config.MpesaConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	return out.AccessToken, nil
}

// password returns the base64(shortcode+passkey+timestamp) pair Daraja wants
// on both the push and the query.
func (c *Client) password() (string, string) {
	ts := c.now().Format("20060102150405")
	raw := c.cfg.ShortCode + c.cfg.Passkey + ts
	return base64.StdEncoding.EncodeToString([]byte(raw)), ts
}

type stkPushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      Code   `json:"ResponseCode"`
	CustomerMessage   string `json:"CustomerMessage"`
}

// InitiateSTKPush fires the payment prompt at the customer's phone and returns
// the CheckoutRequestID that identifies the attempt from then on.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount int64, reference, description string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	password, ts := c.password()
	msisdn := NormalizePhone(phone)

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            msisdn,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       msisdn,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	var out stkPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return "", fmt.Errorf("stk push: %w", err)
	}
	if out.ResponseCode != 0 {
		return "", fmt.Errorf("stk push rejected: response code %d", out.ResponseCode)
	}
	if out.CheckoutRequestID == "" {
		return "", fmt.Errorf("stk push: missing CheckoutRequestID")
	}
	return out.CheckoutRequestID, nil
}

type stkQueryResponse struct {
	ResponseCode      Code   `json:"ResponseCode"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        Code   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// VerifyTransaction queries the final state of an STK push. While the push is
// still in flight Daraja answers with an error body, which surfaces here as an
// error — callers treat that as "ask again later", not as a failed payment.
func (c *Client) VerifyTransaction(ctx context.Context, checkoutRequestID string) (int, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return 0, err
	}
	password, ts := c.password()

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out stkQueryResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return 0, fmt.Errorf("stk query: %w", err)
	}
	return int(out.ResultCode), nil
}

func (c *Client) post(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("daraja %s: %s", resp.Status, bytes.TrimSpace(b))
	}
	return json.Unmarshal(b, out)
}
