// Package client implements a pipelined MySQL client speaking the
// binary prepared-statement protocol over a reconnecting transport.
// Tasks run strictly one at a time in submission order; prepared
// statements are cached per (database, sql) for the life of a session.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/sqlwire/sqlwire/internal/metrics"
	"github.com/sqlwire/sqlwire/internal/protocol"
	"github.com/sqlwire/sqlwire/internal/transport"
)

// Config is the immutable per-client connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Charset selects the connection character set: "utf8" or
	// "utf8mb4" (the default).
	Charset string

	// ConvertToTimestamp makes date-family columns decode to epoch
	// milliseconds instead of time.Time.
	ConvertToTimestamp bool

	// RetryDelay and MaxRetries feed the transport's reconnect
	// policy. MaxRetries zero means unlimited, negative disables
	// reconnection.
	RetryDelay time.Duration
	MaxRetries int
}

func (c Config) addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (c Config) charsetID() byte {
	if c.Charset == "utf8" {
		return protocol.CharsetUTF8
	}
	return protocol.CharsetUTF8MB4
}

// Handlers are optional observer callbacks. All fire on the engine
// goroutine; they must not block.
type Handlers struct {
	OnHandshake       func(hs *protocol.Handshake)
	OnLoginError      func(code uint16, msg string)
	OnConnected       func(connectTimes int)
	OnPrepareCached   func(sql string, h PreparedHandle)
	OnColumnDescribed func(col *protocol.Column, sql string)
}

// Connection states, exposed for status reporting.
const (
	StateConnecting    = "connecting"
	StateAuthenticated = "authenticated"
	StateClosed        = "closed"
)

// Client is one logical MySQL connection with a FIFO task pipeline.
type Client struct {
	cfg      Config
	name     string
	handlers Handlers
	log      *slog.Logger
	metrics  *metrics.Collector

	tr    *transport.Transport
	dial  func(ctx context.Context, addr string) (net.Conn, error)
	queue *taskQueue
	state atomic.Value // string
	done  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHandlers installs observer callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// WithMetrics attaches a metrics collector; name labels the series.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDial overrides the transport dialer. Tests inject pipes here.
func WithDial(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// New creates a Client named name for logging/metrics and starts its
// engine goroutine. No connection is made until the first submission.
func New(name string, cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		name:  name,
		log:   slog.Default(),
		queue: newTaskQueue(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("target", name)
	c.state.Store(StateConnecting)

	c.tr = transport.New(transport.Config{
		Addr:       cfg.addr(),
		RetryDelay: cfg.RetryDelay,
		MaxRetries: cfg.MaxRetries,
		Dial:       c.dial,
	}, c.log)
	c.tr.OnConnect = func(_ net.Conn, times int) {
		if c.metrics != nil {
			c.metrics.Reconnect(c.name)
		}
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected(times)
		}
	}

	go c.run()
	return c
}

// Name returns the client's label.
func (c *Client) Name() string { return c.name }

// State returns the connection state for status reporting.
func (c *Client) State() string { return c.state.Load().(string) }

// Submit queues sql with params and waits for its resolution. Exactly
// one of Reply.Result / Reply.Resultset is set. Stream parameters are
// io.Reader values.
func (c *Client) Submit(ctx context.Context, sql string, params ...any) (*Reply, error) {
	return c.submit(ctx, newTask(taskQuery, sql, params, nil))
}

// Exec runs a statement expected to produce no result set.
func (c *Client) Exec(ctx context.Context, sql string, params ...any) (*Result, error) {
	reply, err := c.Submit(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	if reply.Resultset != nil {
		return nil, fmt.Errorf("mysql: statement returned a result set")
	}
	return reply.Result, nil
}

// Query runs a statement and returns its result set. A statement that
// produced only an OK yields an empty Resultset.
func (c *Client) Query(ctx context.Context, sql string, params ...any) (*Resultset, error) {
	reply, err := c.Submit(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	if reply.Resultset == nil {
		return &Resultset{}, nil
	}
	return reply.Resultset, nil
}

// QueryWithSinks runs a statement routing oversized variable-length
// columns through onLongData. Cells accepted by a sink carry a
// placeholder string in the returned matrix.
func (c *Client) QueryWithSinks(ctx context.Context, sql string, params []any, onLongData LongDataFunc) (*Resultset, error) {
	reply, err := c.submit(ctx, newTask(taskQuery, sql, params, onLongData))
	if err != nil {
		return nil, err
	}
	if reply.Resultset == nil {
		return &Resultset{}, nil
	}
	return reply.Resultset, nil
}

// SelectDatabase switches the session's current database via
// COM_INIT_DB. Cached statements stay reachable only under their
// original database key.
func (c *Client) SelectDatabase(ctx context.Context, name string) (*Result, error) {
	reply, err := c.submit(ctx, newTask(taskUse, name, nil, nil))
	if err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// Ping round-trips a COM_PING.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.submit(ctx, newTask(taskPing, "", nil, nil))
	return err
}

func (c *Client) submit(ctx context.Context, t *task) (*Reply, error) {
	if !c.queue.push(t) {
		return nil, ErrDisconnected
	}
	if c.metrics != nil {
		c.metrics.SetQueueDepth(c.name, c.queue.depth())
	}
	select {
	case out := <-t.done:
		return out.reply, out.err
	case <-ctx.Done():
		// Tasks cannot be cancelled in flight; the engine's eventual
		// resolution lands in the buffered channel and is dropped.
		return nil, ctx.Err()
	}
}

// Close shuts the client down. Queued tasks fail with ErrDisconnected;
// subsequent submissions fail synchronously.
func (c *Client) Close() error {
	c.queue.close()
	err := c.tr.Close()
	c.state.Store(StateClosed)
	<-c.done
	return err
}

// run is the engine goroutine: pull one task, ensure an authenticated
// session, execute, repeat. It owns the transport handle while a task
// is in flight.
func (c *Client) run() {
	defer close(c.done)
	var sess *session

	for {
		t, ok := c.queue.pull()
		if !ok {
			c.failRemaining(nil)
			return
		}
		if c.metrics != nil {
			c.metrics.SetQueueDepth(c.name, c.queue.depth())
		}

		if sess == nil {
			var err error
			sess, err = c.openSession()
			if err != nil {
				t.resolve(nil, err)
				// A connection lost mid-handshake fails this task and
				// everything queued behind it; the transport will
				// redial for later submissions.
				if errors.Is(err, ErrDisconnected) && !c.tr.Closed() {
					for _, q := range c.queue.drain() {
						q.resolve(nil, ErrDisconnected)
					}
					continue
				}
				// Closed transport or rejected login: terminal.
				c.queue.close()
				c.failRemaining(t)
				c.state.Store(StateClosed)
				c.tr.Close()
				return
			}
		}

		start := time.Now()
		fatal := sess.runTask(t)

		if fatal != nil {
			c.log.Warn("session lost", "task", t.id, "err", fatal)
			t.resolve(nil, ErrDisconnected)
			for _, q := range c.queue.drain() {
				q.resolve(nil, ErrDisconnected)
			}
			c.tr.MarkDead(sess.conn)
			sess = nil
			c.state.Store(StateConnecting)
			if c.metrics != nil {
				c.metrics.SetPreparedCacheSize(c.name, 0)
			}
		}
		c.observeTask(t, start)
	}
}

func (c *Client) observeTask(t *task, start time.Time) {
	if c.metrics == nil {
		return
	}
	kind := "query"
	switch t.kind {
	case taskUse:
		kind = "use"
	case taskPing:
		kind = "ping"
	}
	status := "ok"
	if t.failed {
		status = "error"
	}
	c.metrics.TaskCompleted(c.name, kind, status, time.Since(start))
}

// failRemaining fails every queued task except skip with
// ErrDisconnected.
func (c *Client) failRemaining(skip *task) {
	for _, q := range c.queue.drain() {
		if q != skip {
			q.resolve(nil, ErrDisconnected)
		}
	}
}

// openSession acquires a connection and authenticates. Auth failures
// are terminal: the loginError observer fires and the error is
// returned.
func (c *Client) openSession() (*session, error) {
	c.state.Store(StateConnecting)
	conn, err := c.tr.Acquire(context.Background())
	if err != nil {
		return nil, ErrDisconnected
	}

	sess := newSession(c, conn)
	if err := sess.authenticate(); err != nil {
		if c.metrics != nil {
			c.metrics.AuthFailure(c.name)
		}
		c.tr.MarkDead(conn)
		return nil, err
	}
	c.state.Store(StateAuthenticated)
	return sess, nil
}
