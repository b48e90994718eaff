package telemetry

// Histogram bucket definitions
var (
	// DispatchBuckets for handler calls (local logging up to remote brokers)
	DispatchBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// CheckpointBuckets for fsync'd checkpoint writes
	CheckpointBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}
)

// Stream Metrics
var (
	// RecordsTotal counts records read from the oplog by kind (insert, update, delete, command, noop, unknown)
	RecordsTotal CounterVec = noopCounterVec{}

	// BatchesTotal counts end-of-batch signals
	BatchesTotal Counter = NoopStat{}

	// CursorOpensTotal counts cursor opens by result (success, failed)
	CursorOpensTotal CounterVec = noopCounterVec{}

	// EngineState tracks the current engine state as its ordinal
	EngineState Gauge = NoopStat{}

	// LagMinutes tracks minutes between now and the last processed position
	LagMinutes Gauge = NoopStat{}

	// LastPositionSeconds tracks the wall clock seconds of the last processed position
	LastPositionSeconds Gauge = NoopStat{}
)

// Dispatch Metrics
var (
	// DispatchTotal counts handler invocations by handler, kind and result (success, failed, skipped)
	DispatchTotal CounterVec = noopCounterVec{}

	// DispatchDurationSeconds measures handler latency by handler
	DispatchDurationSeconds HistogramVec = noopHistogramVec{}

	// UnroutedTotal counts records whose namespace has no handler
	UnroutedTotal Counter = NoopStat{}
)

// Checkpoint Metrics
var (
	// CheckpointWritesTotal counts checkpoint saves by result (success, failed)
	CheckpointWritesTotal CounterVec = noopCounterVec{}

	// CheckpointDurationSeconds measures checkpoint save latency
	CheckpointDurationSeconds HistogramVec = noopHistogramVec{}
)

// Status API Metrics
var (
	// HTTPRequestsTotal counts status API requests by route and status code
	HTTPRequestsTotal CounterVec = noopCounterVec{}

	// HTTPThrottledTotal counts requests rejected by the rate limiter
	HTTPThrottledTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Stream Metrics
	RecordsTotal = NewCounterVec(
		"records_total",
		"Oplog records read by kind",
		[]string{"kind"},
	)
	BatchesTotal = NewCounter(
		"batches_total",
		"End-of-batch signals received from the cursor",
	)
	CursorOpensTotal = NewCounterVec(
		"cursor_opens_total",
		"Cursor opens by result",
		[]string{"result"},
	)
	EngineState = NewGauge(
		"engine_state",
		"Current engine state (0=disconnected 1=connecting 2=streaming 3=waiting 4=shutting_down 5=terminated)",
	)
	LagMinutes = NewGauge(
		"lag_minutes",
		"Minutes between now and the last processed oplog position",
	)
	LastPositionSeconds = NewGauge(
		"last_position_seconds",
		"Wall clock seconds of the last processed oplog position",
	)

	// Dispatch Metrics
	DispatchTotal = NewCounterVec(
		"dispatch_total",
		"Handler invocations by handler, kind and result",
		[]string{"handler", "kind", "result"},
	)
	DispatchDurationSeconds = NewHistogramVec(
		"dispatch_duration_seconds",
		"Handler invocation latency in seconds",
		[]string{"handler"},
		DispatchBuckets,
	)
	UnroutedTotal = NewCounter(
		"unrouted_total",
		"Records whose namespace has no configured handler",
	)

	// Checkpoint Metrics
	CheckpointWritesTotal = NewCounterVec(
		"checkpoint_writes_total",
		"Checkpoint saves by result",
		[]string{"result"},
	)
	CheckpointDurationSeconds = NewHistogramVec(
		"checkpoint_duration_seconds",
		"Checkpoint save latency in seconds",
		[]string{"backend"},
		CheckpointBuckets,
	)

	// Status API Metrics
	HTTPRequestsTotal = NewCounterVec(
		"http_requests_total",
		"Status API requests by route and status code",
		[]string{"route", "code"},
	)
	HTTPThrottledTotal = NewCounter(
		"http_throttled_total",
		"Status API requests rejected by the rate limiter",
	)
}
