package motion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/serial"
)

const (
	defaultCommandTimeout   = 2 * time.Second
	defaultHomePollInterval = 100 * time.Millisecond
	defaultConnectTimeout   = 5 * time.Second
)

// Ensure Client and Simulator implement Controller.
var (
	_ Controller = (*Client)(nil)
	_ Controller = (*Simulator)(nil)
)

// readDeadliner is implemented by network transports.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Client speaks the Zaber ASCII protocol over a serial line or a TCP
// serial bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Request/reply exchanges are serialised; Home releases the link
//     between status polls so monitors keep running while an axis homes.
type Client struct {
	cfg Config

	mu     sync.Mutex
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	nextID int
	closed bool

	logger   Logger
	loggerMu sync.RWMutex
}

// Open connects to the controller named by cfg.Connection.
//
// The connection URL determines the transport:
//   - "serial:///dev/ttyUSB0" → raw serial line
//   - "tcp://host:port" → serial-over-ethernet bridge
//   - "sim://" → in-process Simulator
//
// For serial and tcp the controller on the XY device must answer a status
// poll before Open returns.
func Open(ctx context.Context, cfg Config) (Controller, error) {
	u, err := url.Parse(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrConnection, err)
	}

	if u.Scheme == "sim" {
		return NewSimulator(SimulatorConfig{}), nil
	}

	var rw io.ReadWriteCloser
	switch u.Scheme {
	case "serial":
		port, err := serial.Open(serial.Config{
			Device:      u.Path,
			BaudRate:    cfg.BaudRate,
			ReadTimeout: commandTimeout(cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		_ = port.Flush() //nolint:errcheck // Stale bytes only cost a skipped reply
		rw = port
	case "tcp":
		dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: dial failed: %w", ErrConnection, err)
		}
		rw = conn
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (use serial, tcp or sim)", ErrConnection, u.Scheme)
	}

	client := NewClient(rw, cfg)
	if err := client.ping(ctx); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return client, nil
}

// NewClient wraps an already-open transport.
func NewClient(rw io.ReadWriteCloser, cfg Config) *Client {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.HomePollInterval <= 0 {
		cfg.HomePollInterval = defaultHomePollInterval
	}
	if cfg.Axes == (AxisMap{}) {
		cfg.Axes = DefaultAxisMap()
	}
	return &Client{
		cfg:    cfg,
		rw:     rw,
		reader: bufio.NewReader(rw),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for protocol traces.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// MoveAbsolute starts an absolute move and returns once it is accepted.
func (c *Client) MoveAbsolute(ctx context.Context, axis Axis, target int64) error {
	addr, err := c.cfg.Axes.Axis(axis)
	if err != nil {
		return err
	}
	_, err = c.command(ctx, addr, fmt.Sprintf("move abs %d", target))
	if err != nil {
		return fmt.Errorf("move %v to %d: %w", axis, target, err)
	}
	return nil
}

// Home starts homing and polls until the axis reports idle.
func (c *Client) Home(ctx context.Context, axis Axis) error {
	addr, err := c.cfg.Axes.Axis(axis)
	if err != nil {
		return err
	}
	if _, err := c.command(ctx, addr, "home"); err != nil {
		return fmt.Errorf("home %v: %w", axis, err)
	}

	ticker := time.NewTicker(c.cfg.HomePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("home %v: %w", axis, ctx.Err())
		case <-ticker.C:
		}
		r, err := c.command(ctx, addr, "")
		if err != nil {
			return fmt.Errorf("home %v: %w", axis, err)
		}
		if r.Idle {
			return nil
		}
	}
}

// Position reads the current step position of an axis.
func (c *Client) Position(ctx context.Context, axis Axis) (int64, error) {
	addr, err := c.cfg.Axes.Axis(axis)
	if err != nil {
		return 0, err
	}
	r, err := c.command(ctx, addr, "get pos")
	if err != nil {
		return 0, fmt.Errorf("get position %v: %w", axis, err)
	}
	return parsePosition(r.Data)
}

// DigitalInputs reads every digital input of a device.
func (c *Client) DigitalInputs(ctx context.Context, dev Device) ([]bool, error) {
	return c.readBits(ctx, dev, "io get di")
}

// DigitalOutputs reads every digital output of a device.
func (c *Client) DigitalOutputs(ctx context.Context, dev Device) ([]bool, error) {
	return c.readBits(ctx, dev, "io get do")
}

// SetDigitalOutput drives one output channel (1-based).
func (c *Client) SetDigitalOutput(ctx context.Context, dev Device, channel int, value bool) error {
	if channel < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	num, err := c.cfg.Axes.Device(dev)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("io set do %d %s", channel, bitString(value))
	if _, err := c.command(ctx, Address{Device: num}, body); err != nil {
		return fmt.Errorf("set %v output %d: %w", dev, channel, err)
	}
	return nil
}

// SetAllDigitalOutputs drives every output of a device to value.
func (c *Client) SetAllDigitalOutputs(ctx context.Context, dev Device, value bool) error {
	current, err := c.DigitalOutputs(ctx, dev)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}
	num, err := c.cfg.Axes.Device(dev)
	if err != nil {
		return err
	}
	bits := make([]string, len(current))
	for i := range bits {
		bits[i] = bitString(value)
	}
	body := "io set do port " + strings.Join(bits, " ")
	if _, err := c.command(ctx, Address{Device: num}, body); err != nil {
		return fmt.Errorf("set %v outputs: %w", dev, err)
	}
	return nil
}

// Close closes the transport. Further calls return ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}

func (c *Client) ping(ctx context.Context) error {
	num, err := c.cfg.Axes.Device(DeviceXY)
	if err != nil {
		return err
	}
	if _, err := c.command(ctx, Address{Device: num}, ""); err != nil {
		if errors.Is(err, ErrCommandTimeout) {
			return fmt.Errorf("%w: controller did not answer: %w", ErrConnection, err)
		}
		return err
	}
	return nil
}

func (c *Client) readBits(ctx context.Context, dev Device, body string) ([]bool, error) {
	num, err := c.cfg.Axes.Device(dev)
	if err != nil {
		return nil, err
	}
	r, err := c.command(ctx, Address{Device: num}, body)
	if err != nil {
		return nil, fmt.Errorf("%s on %v: %w", body, dev, err)
	}
	return parseBits(r.Data)
}

// command performs one request/reply exchange and checks the reply flags.
func (c *Client) command(ctx context.Context, addr Address, body string) (reply, error) {
	r, err := c.exchange(ctx, addr, body)
	if err != nil {
		return reply{}, err
	}
	if r.Rejected {
		return r, fmt.Errorf("%w: %q (%s)", ErrRejected, body, r.Data)
	}
	if r.Fault() {
		return r, fmt.Errorf("%w: flag %s", ErrAxisFault, r.Warning)
	}
	return r, nil
}

func (c *Client) exchange(ctx context.Context, addr Address, body string) (reply, error) {
	if err := ctx.Err(); err != nil {
		return reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return reply{}, ErrNotConnected
	}

	id := c.nextID
	c.nextID = (c.nextID + 1) % maxMessageID

	deadline := time.Now().Add(c.cfg.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if rd, ok := c.rw.(readDeadliner); ok {
		_ = rd.SetReadDeadline(deadline) //nolint:errcheck // Unsupported deadlines fall back to the loop check
	}

	line := formatCommand(addr.Device, addr.Axis, id, body)
	c.log().Debug("controller tx", "line", strings.TrimSpace(line))
	if _, err := io.WriteString(c.rw, line); err != nil {
		return reply{}, fmt.Errorf("%w: write: %w", ErrConnection, err)
	}

	for {
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			return reply{}, classifyReadError(err)
		}
		r, ok, err := parseReply(raw)
		if !ok {
			continue
		}
		if err != nil {
			c.log().Warn("discarding malformed reply", "line", strings.TrimSpace(raw), "error", err)
		} else if r.Device == addr.Device && (r.ID == id || r.ID == -1) && (r.Axis == addr.Axis || addr.Axis == 0) {
			c.log().Debug("controller rx", "line", strings.TrimSpace(raw))
			return r, nil
		}
		if time.Now().After(deadline) {
			return reply{}, ErrCommandTimeout
		}
	}
}

func classifyReadError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, serial.ErrTimeout),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ErrCommandTimeout
	default:
		return fmt.Errorf("%w: read: %w", ErrConnection, err)
	}
}

func commandTimeout(cfg Config) time.Duration {
	if cfg.CommandTimeout > 0 {
		return cfg.CommandTimeout
	}
	return defaultCommandTimeout
}
