package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "droidpilot-dev-token",
		Org:           "droidpilot",
		Bucket:        "runs",
		BatchSize:     50,
		FlushInterval: 2,
	}
}

// fakeWriter records points and flushes.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, p := range w.points {
		out = append(out, p.Name())
	}
	return out
}

func tagsOf(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestSearchPoint(t *testing.T) {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		image     string
		found     bool
		wantImage string
		wantFound string
	}{
		{name: "found", image: "start.png", found: true, wantImage: "start.png", wantFound: "true"},
		{name: "not found", image: "", found: false, wantImage: "none", wantFound: "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := searchPoint("farm", tt.image, tt.found, 0.91, 1500*time.Millisecond, ts)

			if p.Name() != MeasurementImageSearch {
				t.Errorf("Name() = %q, want %q", p.Name(), MeasurementImageSearch)
			}
			want := map[string]string{"bot": "farm", "image": tt.wantImage, "found": tt.wantFound}
			if diff := cmp.Diff(want, tagsOf(p)); diff != "" {
				t.Errorf("tags mismatch (-want +got):\n%s", diff)
			}
			fields := fieldsOf(p)
			if fields["confidence"] != 0.91 || fields["duration_ms"] != int64(1500) {
				t.Errorf("fields = %v", fields)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v, want %v", p.Time(), ts)
			}
		})
	}
}

func TestCyclePoint(t *testing.T) {
	tests := []struct {
		name       string
		failed     bool
		wantErrors int64
	}{
		{name: "clean cycle", failed: false, wantErrors: 0},
		{name: "failed cycle", failed: true, wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := cyclePoint("farm", 7, 42*time.Second, tt.failed, time.Now())

			want := map[string]interface{}{
				"cycle":       int64(7),
				"duration_ms": int64(42000),
				"errors":      tt.wantErrors,
			}
			if diff := cmp.Diff(want, fieldsOf(p)); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCrashPoint(t *testing.T) {
	p := crashPoint("farm", "com.example.game", "continue_bot", true, time.Now())

	wantTags := map[string]string{"bot": "farm", "package": "com.example.game", "action": "continue_bot"}
	if diff := cmp.Diff(wantTags, tagsOf(p)); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	fields := fieldsOf(p)
	if fields["count"] != int64(1) || fields["dropped"] != true {
		t.Errorf("fields = %v", fields)
	}
}

func TestQueueJobPoint(t *testing.T) {
	p := queueJobPoint("daily", "advanced", 42, 3, 90*time.Second, time.Now())

	if p.Name() != MeasurementQueueJob {
		t.Errorf("Name() = %q", p.Name())
	}
	if diff := cmp.Diff(map[string]string{"bot": "daily", "result": "advanced"}, tagsOf(p)); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	want := map[string]interface{}{"exit_code": int64(42), "pass": int64(3), "duration_ms": int64(90000)}
	if diff := cmp.Diff(want, fieldsOf(p)); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *config.InfluxDBConfig)
		session   string
		wantBatch uint
		wantFlush uint
		wantTags  map[string]string
	}{
		{
			name:      "configured",
			mutate:    func(*config.InfluxDBConfig) {},
			session:   "farm",
			wantBatch: 50,
			wantFlush: 2000,
			wantTags:  map[string]string{"session": "farm"},
		},
		{
			name: "defaults",
			mutate: func(c *config.InfluxDBConfig) {
				c.BatchSize = 0
				c.FlushInterval = 0
			},
			session:   "queue",
			wantBatch: 100,
			wantFlush: 10000,
			wantTags:  map[string]string{"session": "queue"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			opts := clientOptions(cfg, tt.session)

			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
			if diff := cmp.Diff(tt.wantTags, opts.WriteOptions().DefaultTags()); diff != "" {
				t.Errorf("default tags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClient_WritesUntilClosed(t *testing.T) {
	w := &fakeWriter{}
	released := 0
	c := newClient(w, func() { released++ })

	c.WriteSearchMetric("farm", "start.png", true, 0.9, time.Second)
	c.WriteCycleMetric("farm", 1, time.Second, false)
	c.WriteCrashMetric("farm", "com.example.game", "clear_stop", false)
	c.WriteQueueJobMetric("farm", "completed", 0, 1, time.Minute)
	c.Flush()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	c.WriteCycleMetric("farm", 2, time.Second, false)
	c.Flush()

	want := []string{MeasurementImageSearch, MeasurementCycle, MeasurementCrash, MeasurementQueueJob}
	if diff := cmp.Diff(want, w.names()); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	if w.flushes != 2 {
		t.Errorf("flushes = %d, want 2 (explicit and on Close)", w.flushes)
	}
	if released != 1 {
		t.Errorf("released %d times, want 1", released)
	}
}

func TestClient_ZeroValueIsInert(t *testing.T) {
	c := &Client{}
	c.WriteCycleMetric("farm", 1, time.Second, false)
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(context.Background(), cfg, "farm")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg, "farm"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_WriteAndFlush(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run InfluxDB-backed tests")
	}
	client, err := Connect(context.Background(), testConfig(), "integration")
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup

	client.WriteSearchMetric("integration", "start.png", true, 0.95, 800*time.Millisecond)
	client.WriteCycleMetric("integration", 1, 3*time.Second, false)
	client.WriteCrashMetric("integration", "com.example.game", "continue_bot", false)
	client.Flush()
}
