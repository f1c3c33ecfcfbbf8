// Package metrics provides Prometheus instrumentation for ledger operations
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts ledger operations by name and outcome.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xylem_operations_total",
			Help: "Total number of ledger operations by name and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xylem_operation_duration_seconds",
			Help:    "Duration of ledger operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"operation"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xylem_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)

	return &Collector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		registry:          registry,
	}
}

// RecordOperation records one completed operation
func (c *Collector) RecordOperation(operation, status string, duration time.Duration) {
	c.operationsTotal.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records a typed error for an operation
func (c *Collector) RecordError(operation, errorType string) {
	c.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Gather returns the current metric families for inspection
func (c *Collector) Gather() ([]*OperationCount, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []*OperationCount
	for _, fam := range families {
		if fam.GetName() != "xylem_operations_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			oc := &OperationCount{Count: m.GetCounter().GetValue()}
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "operation":
					oc.Operation = l.GetValue()
				case "status":
					oc.Status = l.GetValue()
				}
			}
			out = append(out, oc)
		}
	}
	return out, nil
}

// OperationCount is one (operation, status) counter snapshot.
type OperationCount struct {
	Operation string
	Status    string
	Count     float64
}
