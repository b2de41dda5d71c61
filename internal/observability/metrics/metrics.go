package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dealerpay_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	accrualDayTotal   *prometheus.CounterVec
	accrualDayLatency *prometheus.HistogramVec
	accrualsCreated   prometheus.Counter
	accrualsAdjusted  prometheus.Counter

	settlementCalcTotal   *prometheus.CounterVec
	settlementCalcLatency *prometheus.HistogramVec
	settlementTransitions *prometheus.CounterVec

	loanRepayments prometheus.Counter

	paymentBatchTotal   *prometheus.CounterVec
	paymentBatchLatency *prometheus.HistogramVec
	paymentItems        *prometheus.CounterVec
	ruleRejections      *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		accrualDayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "accrual_day_total",
				Help: "Total daily accrual runs by result",
			},
			[]string{"result"},
		)
		accrualDayLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "accrual_day_latency_seconds",
				Help:    "Daily accrual run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		accrualsCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "accruals_created_total",
				Help: "Total margin accrual records created",
			},
		)
		accrualsAdjusted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "accruals_adjusted_total",
				Help: "Total margin accrual adjustments",
			},
		)

		settlementCalcTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_calc_total",
				Help: "Total settlement calculations by result",
			},
			[]string{"result"},
		)
		settlementCalcLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_calc_latency_seconds",
				Help:    "Settlement calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		settlementTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_transitions_total",
				Help: "Total settlement status transitions by target status",
			},
			[]string{"status"},
		)

		loanRepayments = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "loan_repayments_total",
				Help: "Total loan repayment allocations applied",
			},
		)

		paymentBatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_batch_total",
				Help: "Total payment batch executions by result",
			},
			[]string{"result"},
		)
		paymentBatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "payment_batch_latency_seconds",
				Help:    "Payment batch execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		paymentItems = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_items_total",
				Help: "Total payment batch items by result",
			},
			[]string{"result"},
		)
		ruleRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_rule_rejections_total",
				Help: "Total settlements rejected by automation rules, by reason",
			},
			[]string{"reason"},
		)

		prometheus.MustRegister(
			accrualDayTotal,
			accrualDayLatency,
			accrualsCreated,
			accrualsAdjusted,
			settlementCalcTotal,
			settlementCalcLatency,
			settlementTransitions,
			loanRepayments,
			paymentBatchTotal,
			paymentBatchLatency,
			paymentItems,
			ruleRejections,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveAccrualDay records a daily accrual run duration and result.
func ObserveAccrualDay(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if accrualDayTotal != nil {
		accrualDayTotal.WithLabelValues(result).Inc()
	}
	if accrualDayLatency != nil {
		accrualDayLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddAccrualsCreated increments the created-accruals counter by count.
func AddAccrualsCreated(count int) {
	if count <= 0 {
		return
	}
	if accrualsCreated != nil {
		accrualsCreated.Add(float64(count))
	}
}

// IncAccrualAdjusted increments the adjustment counter.
func IncAccrualAdjusted() {
	if accrualsAdjusted != nil {
		accrualsAdjusted.Inc()
	}
}

// ObserveSettlementCalc records a settlement calculation duration and result.
func ObserveSettlementCalc(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if settlementCalcTotal != nil {
		settlementCalcTotal.WithLabelValues(result).Inc()
	}
	if settlementCalcLatency != nil {
		settlementCalcLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSettlementTransition increments the transition counter for a target status.
func IncSettlementTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if settlementTransitions != nil {
		settlementTransitions.WithLabelValues(status).Inc()
	}
}

// IncLoanRepayment increments the applied loan repayment counter.
func IncLoanRepayment() {
	if loanRepayments != nil {
		loanRepayments.Inc()
	}
}

// ObservePaymentBatch records a batch execution duration and result.
func ObservePaymentBatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if paymentBatchTotal != nil {
		paymentBatchTotal.WithLabelValues(result).Inc()
	}
	if paymentBatchLatency != nil {
		paymentBatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncPaymentItem increments the per-item counter by result.
func IncPaymentItem(result string) {
	if result == "" {
		result = "unknown"
	}
	if paymentItems != nil {
		paymentItems.WithLabelValues(result).Inc()
	}
}

// IncRuleRejection increments the automation rule rejection counter.
func IncRuleRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ruleRejections != nil {
		ruleRejections.WithLabelValues(reason).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
