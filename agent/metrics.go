package agent

// MetricsSink receives operational metrics from the Agent. Implementations
// must be safe for concurrent use. Unknown metric names may be ignored.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	ObserveHistogram(name string, value float64, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// Metric names emitted by the Agent.
const (
	// MetricOperations counts completed operations, tagged with "op" and
	// "status" (the implementation status name).
	MetricOperations = "xrce_operations_total"
	// MetricOperationDuration observes operation latency in seconds, tagged
	// with "op".
	MetricOperationDuration = "xrce_operation_duration_seconds"
	// MetricClients is the number of admitted sessions.
	MetricClients = "xrce_clients"
	// MetricObjects is the number of live entities across all sessions.
	MetricObjects = "xrce_objects"
	// MetricEventsDropped counts directory changes dropped on a full queue.
	MetricEventsDropped = "xrce_directory_events_dropped_total"
)

// Operation names used for the "op" tag.
const (
	OpCreateClient = "create_client"
	OpDeleteClient = "delete_client"
	OpCreate       = "create"
	OpDelete       = "delete"
)

type nopMetrics struct{}

func (nopMetrics) IncCounter(string, map[string]string)                {}
func (nopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (nopMetrics) SetGauge(string, float64, map[string]string)         {}
