package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukapay/go-shop-backend/internal/events"
	kafkax "github.com/dukapay/go-shop-backend/internal/kafka"
	"github.com/dukapay/go-shop-backend/internal/metrics"
	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSink builds a Sink whose metrics are unregistered and whose kafka
// producers only buffer (never started). Redis points at a dead address;
// cache writes are best-effort and their errors are ignored.
func testSink() *events.Sink {
	log := testLogger()
	m := &metrics.Shop{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkouts_total"}, []string{"result"}),
		PaymentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_results_total"}, []string{"outcome"}),
		StockRestores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_restores_total"}),
	}
	return &events.Sink{
		Created: kafkax.NewProducer([]string{"127.0.0.1:1"}, shop.TopicOrderCreated, 64, log),
		Paid:    kafkax.NewProducer([]string{"127.0.0.1:1"}, shop.TopicOrderPaid, 64, log),
		Failed:  kafkax.NewProducer([]string{"127.0.0.1:1"}, shop.TopicOrderFailed, 64, log),
		Redis:   redisx.New("127.0.0.1:1"),
		Metrics: m,
		Service: "test",
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

func asAdmin(id string) map[string]string {
	return map[string]string{"X-User-Id": id, "X-User-Role": RoleAdmin}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
