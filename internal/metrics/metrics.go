package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shop holds the counters the checkout and reconciliation paths bump. Labels
// are low-cardinality on purpose: result/outcome values come from a fixed set.
type Shop struct {
	Checkouts      *prometheus.CounterVec // result: ok | insufficient_stock | empty_cart | busy | gateway_error | error
	PaymentResults *prometheus.CounterVec // outcome: paid | failed | cancelled | refunded | already_finalized | unknown_reference
	StockRestores  prometheus.Counter
}

func NewShop(service string) *Shop {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "payment_results_total",
		Help:      "Payment reconciliation outcomes.",
	}, []string{"outcome"})
	restores := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "stock_restores_total",
		Help:      "Orders whose reserved stock was restored.",
	})

	prometheus.MustRegister(checkouts, results, restores)
	return &Shop{Checkouts: checkouts, PaymentResults: results, StockRestores: restores}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
