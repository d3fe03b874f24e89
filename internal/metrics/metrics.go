// Package metrics содержит счётчики Prometheus сервиса barpay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersCreated считает созданные заказы по способу оплаты.
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barpay_orders_created_total",
		Help: "Number of orders created, by payment method.",
	}, []string{"payment_method"})

	// OrdersRedeemed считает успешные погашения заказов на стойке.
	OrdersRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barpay_orders_redeemed_total",
		Help: "Number of orders redeemed at the counter.",
	})

	// WalletOperations считает операции кошелька по типу и результату.
	WalletOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barpay_wallet_operations_total",
		Help: "Number of wallet operations, by operation and result.",
	}, []string{"operation", "result"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barpay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// HTTPMiddleware наблюдает длительность каждого запроса.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpDuration.
			WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
