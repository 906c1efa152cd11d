package rabbitmq

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"usersync/pkg/metrics"
)

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("rabbitmq: not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("rabbitmq: connection closed")
)

// ConnectionConfig holds the broker address, credentials and recovery timing.
type ConnectionConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	VHost            string
	RecoveryInterval time.Duration
	ConnectTimeout   time.Duration
}

// URL renders the config as an amqp:// URI.
func (c ConnectionConfig) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

func (c ConnectionConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type brokerConnection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

type dialFunc func(url string, cfg amqp.Config) (brokerConnection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string, cfg amqp.Config) (brokerConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Connection owns the process-wide broker connection. A supervisor goroutine
// redials every RecoveryInterval after an unexpected closure; callers only
// ever see channels through OpenChannel.
type Connection struct {
	cfg  ConnectionConfig
	dial dialFunc
	log  *zap.Logger

	mu     sync.RWMutex
	conn   brokerConnection
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect dials the broker once. A failure here is meant to abort startup.
func Connect(cfg ConnectionConfig, log *zap.Logger) (*Connection, error) {
	return connect(cfg, log, dialAMQP)
}

func connect(cfg ConnectionConfig, log *zap.Logger, dial dialFunc) (*Connection, error) {
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	c := &Connection{
		cfg:  cfg,
		dial: dial,
		log:  log.With(zap.String("component", "rabbitmq"), zap.String("broker", cfg.address())),
		done: make(chan struct{}),
	}

	c.log.Info("establishing broker connection")
	conn, notify, err := c.dialOnce()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: connect to %s: %w", cfg.address(), err)
	}
	c.conn = conn
	c.log.Info("broker connection established")

	c.wg.Add(1)
	go c.supervise(conn, notify)
	return c, nil
}

func (c *Connection) dialOnce() (brokerConnection, chan *amqp.Error, error) {
	conn, err := c.dial(c.cfg.URL(), amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(c.cfg.ConnectTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	return conn, notify, nil
}

func (c *Connection) supervise(conn brokerConnection, notify chan *amqp.Error) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case amqpErr := <-notify:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.mu.Unlock()

			if amqpErr != nil {
				c.log.Warn("broker connection lost", zap.Int("code", amqpErr.Code), zap.String("reason", amqpErr.Reason))
			} else {
				c.log.Warn("broker connection closed unexpectedly")
			}
		}

		conn, notify = c.reconnect()
		if conn == nil {
			return
		}
	}
}

// reconnect redials every RecoveryInterval until it succeeds or Close is called.
func (c *Connection) reconnect() (brokerConnection, chan *amqp.Error) {
	timer := time.NewTimer(c.cfg.RecoveryInterval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return nil, nil
		case <-timer.C:
		}

		conn, notify, err := c.dialUnlessClosed()
		if errors.Is(err, ErrClosed) {
			return nil, nil
		}
		metrics.ObserveReconnect(err)
		if err != nil {
			c.log.Warn("broker reconnect failed", zap.Int("attempt", attempt), zap.Error(err),
				zap.Duration("retry_in", c.cfg.RecoveryInterval))
			timer.Reset(c.cfg.RecoveryInterval)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, nil
		}
		c.conn = conn
		c.mu.Unlock()

		c.log.Info("broker connection recovered", zap.Int("attempt", attempt))
		return conn, notify
	}
}

type dialResult struct {
	conn   brokerConnection
	notify chan *amqp.Error
	err    error
}

// dialUnlessClosed runs one dial but gives up as soon as Close is called. A
// connection that completes after Close is closed when it arrives.
func (c *Connection) dialUnlessClosed() (brokerConnection, chan *amqp.Error, error) {
	result := make(chan dialResult, 1)
	go func() {
		conn, notify, err := c.dialOnce()
		result <- dialResult{conn: conn, notify: notify, err: err}
	}()

	select {
	case r := <-result:
		return r.conn, r.notify, r.err
	case <-c.done:
		go func() {
			if r := <-result; r.err == nil {
				_ = r.conn.Close()
			}
		}()
		return nil, nil, ErrClosed
	}
}

// OpenChannel returns a fresh channel on the current connection. The caller
// owns the channel and must close it.
func (c *Connection) OpenChannel() (Channel, error) {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrNotConnected, err)
	}
	return ch, nil
}

// Connected reports whether a broker connection is currently established.
func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Close stops reconnection and closes the connection together with every
// channel opened on it. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		close(c.done)
		if conn != nil && !conn.IsClosed() {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = cerr
			}
		}
		c.wg.Wait()
		c.log.Info("broker connection closed")
	})
	return err
}
