package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client records twin telemetry in an InfluxDB v2 bucket. It satisfies
// the reconciler's Telemetry interface and the API's health checker.
//
// Writes go through the library's non-blocking write API. Points written
// after Close are dropped and counted.
type Client struct {
	raw    influxdb2.Client
	writer api.WriteAPI
	bucket string

	closed  atomic.Bool
	dropped atomic.Uint64

	cbMu    sync.RWMutex
	onError func(error)
}

// writeOptions turns the configured batch size (points) and flush
// interval (seconds) into client options, substituting defaults for
// non-positive values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
}

// Connect opens a client against cfg.URL and pings it once.
//
// Returns ErrDisabled when telemetry is switched off, or an error wrapping
// ErrConnectionFailed when the server is unreachable or reports itself
// unhealthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		raw:    raw,
		writer: raw.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}
	go c.forwardErrors()
	return c, nil
}

func ping(ctx context.Context, raw influxdb2.Client) error {
	ok, err := raw.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errServerUnhealthy
	}
	return nil
}

// forwardErrors hands asynchronous write failures to the callback until
// the write API's error channel closes.
func (c *Client) forwardErrors() {
	for err := range c.writer.Errors() {
		c.cbMu.RLock()
		cb := c.onError
		c.cbMu.RUnlock()
		if cb != nil {
			cb(fmt.Errorf("%w: bucket %s: %w", ErrWriteFailed, c.bucket, err))
		}
	}
}

// SetOnError installs the callback for asynchronous write failures. The
// error it receives wraps ErrWriteFailed.
func (c *Client) SetOnError(cb func(error)) {
	c.cbMu.Lock()
	c.onError = cb
	c.cbMu.Unlock()
}

// IsConnected reports whether Close has not been called yet. It does not
// contact the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Dropped returns how many points were discarded because the client was
// closed.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.raw); err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	return nil
}

// Flush blocks until buffered points are sent. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes buffered points and releases the client. Calling it more
// than once, or on a nil client, is harmless.
func (c *Client) Close() error {
	if c == nil || c.raw == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.raw.Close()
	return nil
}

// accept reports whether a point may be written, counting it as dropped
// when the client is closed.
func (c *Client) accept() bool {
	if c.IsConnected() {
		return true
	}
	c.dropped.Add(1)
	return false
}
