package mpesa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallbackSuccess(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"}
					]
				}
			}
		}
	}`)

	cb, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, 0, cb.ResultCode)
	assert.Equal(t, "The service request is processed successfully.", cb.ResultDesc)
}

func TestParseCallbackFailure(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`)

	cb, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, 1032, cb.ResultCode)
}

func TestParseCallbackRejectsBadInput(t *testing.T) {
	_, err := ParseCallback([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseCallback([]byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	assert.ErrorContains(t, err, "CheckoutRequestID")
}

func TestCodeUnmarshal(t *testing.T) {
	var v struct {
		A Code `json:"a"`
		B Code `json:"b"`
		C Code `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1032, "b": "0", "c": null}`), &v))
	assert.Equal(t, Code(1032), v.A)
	assert.Equal(t, Code(0), v.B)
	assert.Equal(t, Code(0), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "nope"}`), &v))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "254712345678", NormalizePhone("0712345678"))
	assert.Equal(t, "254712345678", NormalizePhone("+254712345678"))
	assert.Equal(t, "254712345678", NormalizePhone("254712345678"))
	assert.Equal(t, "254712345678", NormalizePhone(" 0712345678 "))
}
