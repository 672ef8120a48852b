package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
)

const (
	pingTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the part of api.WriteAPI the client drives.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Logger receives asynchronous write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client batches droidpilot metrics to one InfluxDB bucket. Every point
// carries a "session" tag naming the process that wrote it: the bot for
// a run, "queue" for the queue.
//
// Writes never block and never fail the caller; the library batches them
// and failures surface on the logger.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	w       pointWriter
	release func()
	closed  atomic.Bool

	mu     sync.RWMutex
	logger Logger
}

// Connect pings cfg.URL and returns a client writing to cfg.Bucket. ctx
// bounds the ping; without a deadline it is capped at 10s.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, session string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	lib := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, session))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	ok, err := lib.Ping(ctx)
	switch {
	case err != nil:
		lib.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	case !ok:
		lib.Close()
		return nil, fmt.Errorf("%w: %s reports unhealthy", ErrConnectionFailed, cfg.URL)
	}

	api := lib.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(api, lib.Close)
	go func() {
		for err := range api.Errors() {
			c.log().Warn("InfluxDB write failed", "bucket", cfg.Bucket, "error", err)
		}
	}()
	return c, nil
}

// clientOptions maps the config section onto library options, applying
// defaults for unset batch settings.
func clientOptions(cfg config.InfluxDBConfig, session string) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
	if session != "" {
		opts.AddDefaultTag("session", session)
	}
	return opts
}

func newClient(w pointWriter, release func()) *Client {
	return &Client{w: w, release: release, logger: noopLogger{}}
}

// SetLogger sets where asynchronous write failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Flush sends buffered points now. A no-op after Close.
func (c *Client) Flush() {
	if c.w == nil || c.closed.Load() {
		return
	}
	c.w.Flush()
}

// Close flushes buffered points and releases the connection. Later
// writes are dropped. Safe to call more than once.
func (c *Client) Close() error {
	if c.w == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.w.Flush()
	if c.release != nil {
		c.release()
	}
	return nil
}

func (c *Client) write(p *write.Point) {
	if c.w == nil || c.closed.Load() {
		return
	}
	c.w.WritePoint(p)
}
