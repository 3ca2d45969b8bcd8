package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LineItemOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_line_item_operations_total",
		Help: "Total number of committed ticket line item operations",
	}, []string{"kind", "op"})

	LineItemOperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_line_item_operations_failed_total",
		Help: "Total number of rolled back ticket line item operations",
	}, []string{"kind", "op", "reason"})

	TicketsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_created_total",
		Help: "Total number of tickets created",
	})

	TicketStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_status_changes_total",
		Help: "Total number of ticket status transitions",
	}, []string{"status"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	LowStockAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_low_stock_alerts_total",
		Help: "Total number of parts that reached their minimum quantity",
	})

	TxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_tx_retries_total",
		Help: "Total number of transactions retried after a serialization failure or deadlock",
	})

	ConcurrencyConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_concurrency_conflicts_total",
		Help: "Total number of transactions surfaced as concurrency conflicts",
	})

	EventsPublishFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Total number of domain events that could not be published",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
