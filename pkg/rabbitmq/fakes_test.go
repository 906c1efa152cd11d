package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	Name string
	Args amqp.Table
}

type publishedMsg struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

// fakeChannel implements Channel in memory.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []declaredQueue
	published  []publishedMsg
	prefetch   int
	autoAck    *bool
	closed     bool
	notify     []chan *amqp.Error
	deliveries chan amqp.Delivery

	publishErr error
	declareErr error
	consumeErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if !durable || autoDelete || exclusive {
		return amqp.Queue{}, errors.New("fake: queue must be durable, shared and persistent")
	}
	f.declared = append(f.declared, declaredQueue{Name: name, Args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func (f *fakeChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.autoAck = &autoAck
	return f.deliveries, nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = append(f.notify, c)
	return c
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) publishedMessages() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMsg(nil), f.published...)
}

func (f *fakeChannel) declaredQueues() []declaredQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]declaredQueue(nil), f.declared...)
}

// fakeOpener hands out the queued channels in order, then fresh ones.
type fakeOpener struct {
	mu       sync.Mutex
	channels []*fakeChannel
	opened   []*fakeChannel
	err      error
}

func (o *fakeOpener) OpenChannel() (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	var ch *fakeChannel
	if len(o.channels) > 0 {
		ch, o.channels = o.channels[0], o.channels[1:]
	} else {
		ch = newFakeChannel()
	}
	o.opened = append(o.opened, ch)
	return ch, nil
}

func (o *fakeOpener) openedChannels() []*fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeChannel(nil), o.opened...)
}

// fakeAcknowledger records acknowledgement calls by delivery tag.
type fakeAcknowledger struct {
	mu     sync.Mutex
	events []string
	acks   []uint64
	nacks  []nackCall
}

type nackCall struct {
	Tag     uint64
	Requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	a.events = append(a.events, "ack")
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, nackCall{Tag: tag, Requeue: requeue})
	a.events = append(a.events, "nack")
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) record(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAcknowledger) snapshot() ([]uint64, []nackCall, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...), append([]nackCall(nil), a.nacks...), append([]string(nil), a.events...)
}

// fakeConn implements brokerConnection.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := newFakeChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drop simulates a network failure reported by the broker client.
func (c *fakeConn) drop(err *amqp.Error) {
	c.shutdown(err)
}

func (c *fakeConn) shutdown(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		_ = ch.Close()
	}
	for _, n := range c.notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
	c.notify = nil
}

// fakeDialer returns a new fakeConn per successful dial. While hold is set,
// dials block until it is closed, like a dial to an unreachable host.
type fakeDialer struct {
	mu    sync.Mutex
	fail  error
	hold  chan struct{}
	conns []*fakeConn
	urls  []string
	cfgs  []amqp.Config
}

func (d *fakeDialer) dial(url string, cfg amqp.Config) (brokerConnection, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.cfgs = append(d.cfgs, cfg)
	hold := d.hold
	d.mu.Unlock()

	if hold != nil {
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	conn := &fakeConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setHold(hold chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = hold
}

func (d *fakeDialer) connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
