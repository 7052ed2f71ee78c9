package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records every line written to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
	query []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping", "/health":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.query = append(f.query, r.URL.RawQuery)
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d written lines", n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "klw-test-token",
		Org:           "home",
		Bucket:        "klwiot",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	fake := newFakeInflux(t)

	cfg := testConfig(fake.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteDevice(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteDevice(influxdb.DevicePoint{
		Gateway: "villa",
		OID:     "villa.243-199-1-2-5.3",
		Kind:    "sensor",
		Room:    "Living",
		Fields:  map[string]any{"value": 21.5, "on": true},
		Time:    time.Unix(1700000000, 0),
	})
	client.WriteDevice(influxdb.DevicePoint{Gateway: "villa", OID: "skipped"})
	client.WriteGatewayStats("villa", map[string]any{"frames_rx": int64(42)})
	client.Flush()

	lines := fake.waitLines(t, 2)
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2 (point without fields skipped)", lines)
	}

	device := lines[0]
	for _, want := range []string{
		influxdb.MeasurementDevice + ",",
		"gateway=villa",
		"kind=sensor",
		"oid=villa.243-199-1-2-5.3",
		"room=Living",
		"value=21.5",
		"on=true",
		"1700000000000000000",
	} {
		if !strings.Contains(device, want) {
			t.Errorf("device line %q missing %q", device, want)
		}
	}
	if strings.Contains(device, "floor=") {
		t.Errorf("empty floor tag written: %q", device)
	}

	if !strings.HasPrefix(lines[1], influxdb.MeasurementGateway+",gateway=villa frames_rx=42i") {
		t.Errorf("gateway line = %q", lines[1])
	}

	fake.mu.Lock()
	query := fake.query[0]
	fake.mu.Unlock()
	if !strings.Contains(query, "bucket=klwiot") || !strings.Contains(query, "org=home") {
		t.Errorf("write query = %q", query)
	}
}

func TestCloseStopsWrites(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(fake.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}

	// No-ops after Close.
	client.WritePoint("x", nil, map[string]any{"v": 1})
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client = %v", err)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			http.Error(w, `{"code":"invalid","message":"bad line"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	got := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	client.WriteGatewayStats("villa", map[string]any{"frames_rx": int64(1)})
	client.Flush()

	select {
	case err := <-got:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write error callback not called")
	}
	if client.WriteErrors() == 0 {
		t.Error("WriteErrors() = 0 after a rejected batch")
	}
}
