package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/npezzotti/chatcore/internal/stomp"
)

type sentFrame struct {
	destination string
	body        []byte
}

type fakeConn struct {
	mu        sync.Mutex
	nextId    int
	active    map[string]string
	subscribe []string
	sent      []sentFrame
	events    chan stomp.Event
	closed    bool
	failOn    map[string]error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		active: make(map[string]string),
		events: make(chan stomp.Event, 32),
		failOn: make(map[string]error),
	}
}

func (c *fakeConn) Subscribe(destination string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", stomp.ErrClosed
	}
	if err := c.failOn[destination]; err != nil {
		return "", err
	}

	c.nextId++
	id := fmt.Sprintf("sub-%d", c.nextId)
	c.active[id] = destination
	c.subscribe = append(c.subscribe, destination)
	return id, nil
}

func (c *fakeConn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return stomp.ErrClosed
	}
	delete(c.active, id)
	return nil
}

func (c *fakeConn) Send(destination, contentType string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return stomp.ErrClosed
	}
	c.sent = append(c.sent, sentFrame{destination: destination, body: body})
	return nil
}

func (c *fakeConn) Events() <-chan stomp.Event {
	return c.events
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// drop simulates the broker going away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.events <- stomp.Event{Kind: stomp.EventClosed, Err: errors.New("connection reset by peer")}
	}
}

// deliver pushes a MESSAGE frame for destination through the
// subscription that covers it.
func (c *fakeConn) deliver(destination string, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	for id, dest := range c.active {
		if dest == destination {
			c.events <- stomp.Event{
				Kind:         stomp.EventMessage,
				Destination:  destination,
				Subscription: id,
				Body:         []byte(body),
			}
			return true
		}
	}
	return false
}

func (c *fakeConn) activeDestinations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.active))
	for _, dest := range c.active {
		out = append(out, dest)
	}
	slices.Sort(out)
	return out
}

func (c *fakeConn) subscribeCount(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, d := range c.subscribe {
		if d == destination {
			n++
		}
	}
	return n
}

func (c *fakeConn) sentTo(destination string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]byte
	for _, f := range c.sent {
		if f.destination == destination {
			out = append(out, f.body)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	tokens   []string
	failures int
	dialed   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (BrokerConn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}

	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// failNext makes the next n dials fail. A negative n fails forever.
func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}
