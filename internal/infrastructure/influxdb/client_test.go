package influxdb

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

	"github.com/nerrad567/smartbulb-core/internal/infrastructure/config"
)

// fakeServer answers /ping and records the line protocol sent to /api/v2/write.
type fakeServer struct {
	mu        sync.Mutex
	lines     []string
	writeCode int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		code := f.writeCode
		f.mu.Unlock()
		if code == 0 {
			code = http.StatusNoContent
		}
		if code >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			io.WriteString(w, `{"code":"invalid","message":"rejected"}`) //nolint:errcheck // Test helper
			return
		}
		w.WriteHeader(code)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeServer) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "token",
		Org:           "smartbulb",
		Bucket:        "bulbs",
		BatchSize:     10,
		FlushInterval: 60,
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(testConfig(url))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWritePointAndFlush(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.WritePoint("bulb_state",
		map[string]string{"device_id": "abc"},
		map[string]any{"brightness": 128},
		at)
	c.Flush()

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("written lines = %v, want 1", lines)
	}
	if !strings.HasPrefix(lines[0], "bulb_state,device_id=abc brightness=128i") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	fake := &fakeServer{writeCode: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	errs := make(chan error, 1)
	c.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	c.WritePoint("bulb_state", map[string]string{"device_id": "abc"}, map[string]any{"power": true}, time.Now())
	c.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error not delivered")
	}
}

func TestClosedClient(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() twice error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	// Dropped silently.
	c.WritePoint("bulb_state", nil, map[string]any{"power": true}, time.Now())
	c.Flush()
	if len(fake.written()) != 0 {
		t.Error("point written after Close()")
	}
}
