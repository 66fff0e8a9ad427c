// Package transport talks to the motion controller over its line protocol.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Greeting is the first line the controller sends on a new connection.
const Greeting = "RTS ready"

const terminator = "\r\n"

// ErrBadGreeting is returned when the controller greets with anything
// other than Greeting.
var ErrBadGreeting = errors.New("unexpected greeting from controller")

// ConnectionError is returned for every dial, greeting, read, write or
// response-timeout failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("controller connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// Config configures a Client.
type Config struct {
	Address             string
	ConnectTimeout      time.Duration
	ResponseTimeout     time.Duration
	ReconnectMaxRetries int
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration

	// Repeatable reports whether cmd may be sent again after it was
	// written but its reply never arrived. Nil repeats nothing.
	Repeatable func(cmd string) bool
}

// Client is a persistent command/response connection. Commands are
// serialized; each one gets exactly one reply line.
type Client struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	dial        func(ctx context.Context, network, address string) (net.Conn, error)
	onReconnect func()
}

// NewClient creates a client. It does not connect.
func NewClient(cfg Config, log *zap.Logger) *Client {
	d := &net.Dialer{}
	return &Client{
		cfg:  cfg,
		log:  log.Named("transport"),
		dial: d.DialContext,
	}
}

// OnReconnect registers a hook run after every successful reconnect.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Connect dials the controller and checks its greeting.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.closeLocked()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(dctx, "tcp", c.cfg.Address)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	reader := bufio.NewReader(conn)
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		conn.Close()
		return &ConnectionError{Op: "greeting", Err: err}
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return &ConnectionError{Op: "greeting", Err: err}
	}
	if got := strings.TrimSpace(line); got != Greeting {
		conn.Close()
		return &ConnectionError{Op: "greeting", Err: fmt.Errorf("%w: %q", ErrBadGreeting, got)}
	}

	c.conn = conn
	c.reader = reader
	c.log.Info("connected to controller", zap.String("address", c.cfg.Address))
	return nil
}

// Send writes cmd and its arguments, each followed by CRLF, and returns
// the trimmed reply line. A broken connection is re-established with
// exponential backoff and the command is sent once more. A command the
// controller may already have acted on is only sent again when
// Config.Repeatable allows it; otherwise the ConnectionError is returned
// and the next Send reconnects.
func (c *Client) Send(ctx context.Context, cmd string, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.reconnectLocked(ctx); err != nil {
			return "", err
		}
	}

	reply, err := c.exchangeLocked(ctx, cmd, args)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if delivered(err) && (c.cfg.Repeatable == nil || !c.cfg.Repeatable(cmd)) {
		c.log.Error("no reply to command, not sending it again",
			zap.String("command", cmd),
			zap.Error(err),
		)
		return "", err
	}

	c.log.Warn("command failed, reconnecting",
		zap.String("command", cmd),
		zap.Error(err),
	)
	if rerr := c.reconnectLocked(ctx); rerr != nil {
		return "", rerr
	}
	return c.exchangeLocked(ctx, cmd, args)
}

// delivered reports whether err came after the command was written.
func delivered(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Op == "read"
}

func (c *Client) exchangeLocked(ctx context.Context, cmd string, args []string) (string, error) {
	conn := c.conn
	if err := conn.SetDeadline(time.Now().Add(c.cfg.ResponseTimeout)); err != nil {
		c.closeLocked()
		return "", &ConnectionError{Op: "deadline", Err: err}
	}

	// A cancelled context unblocks the pending read.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	var b strings.Builder
	b.WriteString(cmd)
	b.WriteString(terminator)
	for _, a := range args {
		b.WriteString(a)
		b.WriteString(terminator)
	}
	if _, err := conn.Write([]byte(b.String())); err != nil {
		c.closeLocked()
		return "", &ConnectionError{Op: "write", Err: err}
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.closeLocked()
		return "", &ConnectionError{Op: "read", Err: err}
	}

	reply := strings.TrimSpace(line)
	c.log.Debug("command",
		zap.String("command", cmd),
		zap.Strings("args", args),
		zap.String("reply", reply),
	)
	return reply, nil
}

func (c *Client) reconnectLocked(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectBaseDelay
	bo.MaxInterval = c.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.ReconnectMaxRetries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.connectLocked(ctx)
		if err != nil && errors.Is(err, ErrBadGreeting) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		c.log.Error("reconnect failed", zap.Int("attempts", attempt), zap.Error(err))
		var ce *ConnectionError
		if errors.As(err, &ce) {
			return err
		}
		return &ConnectionError{Op: "reconnect", Err: err}
	}

	c.log.Info("reconnected to controller", zap.Int("attempts", attempt))
	if c.onReconnect != nil {
		c.onReconnect()
	}
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}
