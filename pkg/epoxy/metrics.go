package epoxy

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// ConnectionMetrics is the single record a [Connection] hands its
// [MetricsSink] exactly once, at teardown. Every
// field is final by the time it is emitted; there is no intermediate
// or partial record.
type ConnectionMetrics struct {
	ConnectionID   string
	Role           Role
	LocalEndpoint  string
	RemoteEndpoint string
	ShutdownReason ShutdownReason
	DurationMillis int64
}

// MetricsSink receives one [ConnectionMetrics] record per connection.
// Implementations must not block the caller for long: the engine calls
// Record synchronously from its teardown path, after the connection is
// already fully torn down, so a slow sink delays [Connection.Stop]
// returning but never stalls message delivery.
type MetricsSink interface {
	Record(ConnectionMetrics)
}

// NopMetricsSink discards every record.
type NopMetricsSink struct{}

func (NopMetricsSink) Record(ConnectionMetrics) {}

// ConnectionMetricsSnapshot is the connection_metrics argument threaded
// through to [ServiceHost.DispatchRequest] and
// [ServiceHost.DispatchEvent]: a read-only view of the fields already
// final at dispatch time. ShutdownReason and DurationMillis aren't
// included, since the connection hasn't torn down yet.
type ConnectionMetricsSnapshot struct {
	ConnectionID   string
	Role           Role
	LocalEndpoint  string
	RemoteEndpoint string
}

// newConnectionID generates a short, URL-safe, globally unique
// identifier for a new connection.
func newConnectionID() string {
	return shortuuid.New()
}

// metricsRecorder accumulates the pieces of a [ConnectionMetrics]
// record across a connection's lifetime and builds the final value at
// teardown.
type metricsRecorder struct {
	connectionID   string
	role           Role
	localEndpoint  string
	remoteEndpoint string
	startedAt      time.Time
}

func newMetricsRecorder(role Role, local, remote string, startedAt time.Time) *metricsRecorder {
	return &metricsRecorder{
		connectionID:   newConnectionID(),
		role:           role,
		localEndpoint:  local,
		remoteEndpoint: remote,
		startedAt:      startedAt,
	}
}

// snapshot returns the fields already final before teardown. Safe to
// call from any goroutine: every field it reads is set once, in
// [newMetricsRecorder], and never mutated afterward.
func (m *metricsRecorder) snapshot() ConnectionMetricsSnapshot {
	return ConnectionMetricsSnapshot{
		ConnectionID:   m.connectionID,
		Role:           m.role,
		LocalEndpoint:  m.localEndpoint,
		RemoteEndpoint: m.remoteEndpoint,
	}
}

func (m *metricsRecorder) finish(reason ShutdownReason, now time.Time) ConnectionMetrics {
	return ConnectionMetrics{
		ConnectionID:   m.connectionID,
		Role:           m.role,
		LocalEndpoint:  m.localEndpoint,
		RemoteEndpoint: m.remoteEndpoint,
		ShutdownReason: reason,
		DurationMillis: now.Sub(m.startedAt).Milliseconds(),
	}
}
