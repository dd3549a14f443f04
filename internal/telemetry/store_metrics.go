package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// StoreMetrics holds the metric instruments of the store manager.
type StoreMetrics struct {
	OpsStartedCounter       metric.Int64Counter
	OpsHandledCounter       metric.Int64Counter
	OpLatencyHistogram      metric.Int64Histogram
	CommittedPagesCounter   metric.Int64Counter
	BackupBytesCounter      metric.Int64Counter
	OpenStoresUpDownCounter metric.Int64UpDownCounter
}

// NewStoreMetrics creates and registers all the metrics for the store manager.
func NewStoreMetrics(meter metric.Meter) (*StoreMetrics, error) {
	opsStartedCounter, err := meter.Int64Counter(
		"gojostore.store.ops.started_total",
		metric.WithDescription("Total number of store operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandledCounter, err := meter.Int64Counter(
		"gojostore.store.ops.handled_total",
		metric.WithDescription("Total number of store operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Int64Histogram(
		"gojostore.store.ops.duration",
		metric.WithDescription("The latency of store operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	committedPagesCounter, err := meter.Int64Counter(
		"gojostore.store.committed_pages_total",
		metric.WithDescription("Total number of pages written by commits."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	backupBytesCounter, err := meter.Int64Counter(
		"gojostore.store.backup_bytes_total",
		metric.WithDescription("Total number of store file bytes copied by backups."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	openStoresUpDownCounter, err := meter.Int64UpDownCounter(
		"gojostore.store.open_stores",
		metric.WithDescription("Number of open stores."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		OpsStartedCounter:       opsStartedCounter,
		OpsHandledCounter:       opsHandledCounter,
		OpLatencyHistogram:      opLatencyHistogram,
		CommittedPagesCounter:   committedPagesCounter,
		BackupBytesCounter:      backupBytesCounter,
		OpenStoresUpDownCounter: openStoresUpDownCounter,
	}, nil
}
