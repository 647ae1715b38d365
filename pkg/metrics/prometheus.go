package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultNoFunds  = "no_eligible_account"
	// ResultRaceLost 有候选账户，但预留全部被并发请求抢走
	ResultRaceLost = "reservation_lost"
)

// Collector 所有方法对 nil 接收者安全，未开启指标时直接传 nil
type Collector struct {
	registry             *prometheus.Registry
	allocations          *prometheus.CounterVec
	reservationConflicts prometheus.Counter
	settlements          *prometheus.CounterVec
	failovers            prometheus.Counter
	gatewayDuration      *prometheus.HistogramVec
	accountBalance       *prometheus.GaugeVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proxypay_allocations_total",
			Help: "Allocation attempts by routing strategy and result",
		}, []string{"strategy", "result"}),
		reservationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "proxypay_reservation_conflicts_total",
			Help: "Reservations lost to a concurrent writer",
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proxypay_settlements_total",
			Help: "Settled orders by final status",
		}, []string{"status"}),
		failovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "proxypay_failovers_total",
			Help: "Reallocations after a gateway failure",
		}),
		gatewayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxypay_gateway_charge_duration_seconds",
			Help:    "Gateway charge latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		accountBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxypay_proxy_account_balance",
			Help: "Last observed proxy account balance",
		}, []string{"account_id"}),
	}
}

func (m *Collector) RecordAllocation(strategy, result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(strategy, result).Inc()
}

func (m *Collector) RecordReservationConflict() {
	if m == nil {
		return
	}
	m.reservationConflicts.Inc()
}

func (m *Collector) RecordSettlement(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

func (m *Collector) RecordFailover() {
	if m == nil {
		return
	}
	m.failovers.Inc()
}

func (m *Collector) ObserveGateway(d time.Duration, success bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailed
	}
	m.gatewayDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Collector) SetAccountBalance(accountID int64, balance float64) {
	if m == nil {
		return
	}
	m.accountBalance.WithLabelValues(strconv.FormatInt(accountID, 10)).Set(balance)
}

func (m *Collector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Collector) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
