package metrics_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/epoxyrpc/epoxy/pkg/epoxy"
	"github.com/epoxyrpc/epoxy/pkg/metrics"
)

func TestCSVSinkRecordAppendsLine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sink := metrics.NewCSVSink("epoxy-test", zerolog.Nop())
	sink.Record(epoxy.ConnectionMetrics{
		ConnectionID:   "abc123",
		Role:           epoxy.RoleClient,
		LocalEndpoint:  "127.0.0.1:1234",
		RemoteEndpoint: "127.0.0.1:5678",
		ShutdownReason: epoxy.ShutdownClientGraceful,
		DurationMillis: 42,
	})

	filename := fmt.Sprintf(metrics.DefaultFilePattern, time.Now().UTC().Format(time.DateOnly))
	found := findFile(t, os.Getenv("XDG_CONFIG_HOME"), filename)

	contents, err := os.ReadFile(found)
	if err != nil {
		t.Fatalf("os.ReadFile() error = %v", err)
	}

	if !strings.Contains(string(contents), "abc123") {
		t.Errorf("file content = %q, want it to contain the connection id", contents)
	}
	if !strings.Contains(string(contents), "ClientGraceful") {
		t.Errorf("file content = %q, want it to contain the shutdown reason", contents)
	}
}

func findFile(t *testing.T, root, name string) string {
	t.Helper()
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, name) {
			found = path
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to search for %q under %q: %v", name, root, err)
	}
	if found == "" {
		t.Fatalf("did not find %q anywhere under %q", name, root)
	}
	return found
}
