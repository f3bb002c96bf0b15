// Package metrics provides file-backed implementations of
// [github.com/epoxyrpc/epoxy/pkg/epoxy.MetricsSink].
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tzrikka/xdg"

	"github.com/epoxyrpc/epoxy/pkg/epoxy"
)

const (
	// DefaultFilePattern is formatted with a time.DateOnly-formatted
	// date, so records roll onto a new file once a day.
	DefaultFilePattern = "epoxy_connections_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

// CSVSink appends one line per [epoxy.ConnectionMetrics] record to a
// daily-rotated CSV file under the XDG config directory, in the
// subdirectory passed to [NewCSVSink]. It implements
// [epoxy.MetricsSink].
type CSVSink struct {
	mu      sync.Mutex
	dirName string
	pattern string
	logger  zerolog.Logger
}

// NewCSVSink creates a sink that stores its files under dirName inside
// the user's XDG config home (e.g. "epoxy"). It does not create any
// file until the first [CSVSink.Record] call.
func NewCSVSink(dirName string, logger zerolog.Logger) *CSVSink {
	return &CSVSink{dirName: dirName, pattern: DefaultFilePattern, logger: logger}
}

// Record appends m as one CSV line. Failures are logged, not returned:
// per the epoxy.MetricsSink contract, a sink must not block or fail the
// connection teardown that's emitting the record.
func (s *CSVSink) Record(m epoxy.ConnectionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	filename := fmt.Sprintf(s.pattern, now.Format(time.DateOnly))

	path, err := xdg.CreateFile(xdg.ConfigHome, s.dirName, filename)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to resolve connection metrics file")
		return
	}

	f, err := os.OpenFile(path, fileFlags, filePerms) //gosec:disable G304 // Path is resolved by xdg.CreateFile.
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to open connection metrics file")
		return
	}
	defer f.Close()

	record := []string{
		now.Format(time.RFC3339),
		m.ConnectionID,
		m.Role.String(),
		m.LocalEndpoint,
		m.RemoteEndpoint,
		m.ShutdownReason.String(),
		strconv.FormatInt(m.DurationMillis, 10),
	}

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		s.logger.Error().Err(err).Msg("failed to write connection metrics record")
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush connection metrics file")
	}
}

var _ epoxy.MetricsSink = (*CSVSink)(nil)
