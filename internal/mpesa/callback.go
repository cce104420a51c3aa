package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Code tolerates Daraja's habit of sending numeric codes as either JSON
// numbers (callbacks) or strings (query responses).
type Code int

func (c *Code) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("result code %q: %w", s, err)
	}
	*c = Code(n)
	return nil
}

// CallbackResult is what the STK push callback boils down to.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
}

type callbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        Code   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback extracts the checkout request id and result code from the
// Daraja callback payload.
func ParseCallback(body []byte) (CallbackResult, error) {
	var cb callbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return CallbackResult{}, fmt.Errorf("decode callback: %w", err)
	}
	sc := cb.Body.StkCallback
	if sc.CheckoutRequestID == "" {
		return CallbackResult{}, fmt.Errorf("callback missing CheckoutRequestID")
	}
	return CallbackResult{
		CheckoutRequestID: sc.CheckoutRequestID,
		ResultCode:        int(sc.ResultCode),
		ResultDesc:        sc.ResultDesc,
	}, nil
}

// NormalizePhone rewrites a Kenyan MSISDN into the 2547... form Daraja wants.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(p, "+"):
		return p[1:]
	case strings.HasPrefix(p, "0"):
		return "254" + p[1:]
	default:
		return p
	}
}
