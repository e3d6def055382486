package stomp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 45 * time.Second
	sendQueueSize    = 256
	eventQueueSize   = 256
	maxMessageSize   = 1 << 20
)

var (
	ErrClosed         = errors.New("stomp: connection closed")
	ErrSendQueueFull  = errors.New("stomp: send queue full")
	ErrNotStompServer = errors.New("stomp: unexpected handshake reply")
)

type EventKind int

const (
	EventMessage EventKind = iota
	EventError
	EventClosed
)

// Event is everything the broker connection reports after the handshake.
// The callbacks of a typical STOMP client (message, broker error,
// socket close) all arrive here, in order, on one channel.
type Event struct {
	Kind         EventKind
	Destination  string
	Subscription string
	Body         []byte
	// Message is the broker's error description for EventError.
	Message string
	// Err is the cause of an EventClosed, nil when Close was called.
	Err error
}

// BrokerError is returned by Dial when the broker rejects the CONNECT frame.
type BrokerError struct {
	Message string
}

func (e *BrokerError) Error() string {
	return "stomp: broker error: " + e.Message
}

type Options struct {
	Token string
	// Heartbeat is the interval both sides agree to send heart-beats at.
	// Zero disables heart-beating.
	Heartbeat time.Duration
	Logger    *log.Logger
}

type Conn struct {
	ws        *websocket.Conn
	log       *log.Logger
	send      chan []byte
	events    chan Event
	heartbeat time.Duration
	// readTimeout is how long the broker may stay silent before the
	// connection is considered dead. Zero means no limit.
	readTimeout time.Duration
	nextSubId atomic.Int64
	stop      chan struct{}
	stopOnce  sync.Once
	writeDone chan struct{}
}

// Dial opens the websocket at rawURL and performs the STOMP handshake.
// It returns once the broker has answered with CONNECTED.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp"},
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	hb := strconv.FormatInt(opts.Heartbeat.Milliseconds(), 10)
	connected, err := handshake(ctx, ws, connectFrame(u.Hostname(), opts.Token, hb+","+hb))
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:        ws,
		log:       logger,
		send:      make(chan []byte, sendQueueSize),
		events:    make(chan Event, eventQueueSize),
		heartbeat:   opts.Heartbeat,
		readTimeout: readTimeout(connected, opts.Heartbeat, logger),
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// handshake sends CONNECT and returns the broker's CONNECTED frame.
func handshake(ctx context.Context, ws *websocket.Conn, connect *frame.Frame) (*frame.Frame, error) {
	raw, err := encodeFrame(connect)
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	// unblock the read below if the caller gives up
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-finished:
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read CONNECTED: %w", err)
		}

		frames, err := decodeFrames(raw)
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			continue
		}

		switch f := frames[0]; f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, &BrokerError{Message: errorMessage(f)}
		default:
			return nil, fmt.Errorf("%w: %s", ErrNotStompServer, f.Command)
		}
	}
}

// readTimeout negotiates the incoming heart-beat interval from the
// CONNECTED heart-beat header and allows twice that much silence. It is
// zero when either side does not heart-beat.
func readTimeout(connected *frame.Frame, heartbeat time.Duration, logger *log.Logger) time.Duration {
	value, ok := connected.Header.Contains(frame.HeartBeat)
	if !ok || heartbeat <= 0 {
		return 0
	}

	serverSends, _, err := frame.ParseHeartBeat(value)
	if err != nil {
		logger.Printf("stomp: ignoring heart-beat header %q: %v", value, err)
		return 0
	}
	if serverSends <= 0 {
		return 0
	}

	return 2 * max(serverSends, heartbeat)
}

func errorMessage(f *frame.Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	return string(f.Body)
}

// Events returns the connection's event stream. It is closed after the
// single EventClosed has been delivered.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Subscribe asks the broker for messages sent to destination and returns
// the subscription id used to unsubscribe.
func (c *Conn) Subscribe(destination string) (string, error) {
	id := "sub-" + strconv.FormatInt(c.nextSubId.Add(1), 10)
	f := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
	if err := c.queueFrame(f); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Conn) Unsubscribe(id string) error {
	return c.queueFrame(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (c *Conn) Send(destination, contentType string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, contentType,
	)
	f.Body = body
	return c.queueFrame(f)
}

// Close disconnects from the broker. It is safe to call more than once.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.writeDone
	return nil
}

func (c *Conn) queueFrame(f *frame.Frame) error {
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}

	select {
	case <-c.stop:
		return ErrClosed
	default:
	}

	select {
	case c.send <- raw:
	default:
		c.log.Println("stomp: send queue full, dropping", f.Command)
		return ErrSendQueueFull
	}

	return nil
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		c.ws.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case raw := <-c.send:
			if !c.write(websocket.TextMessage, raw) {
				return
			}
		case <-tick:
			if !c.write(websocket.TextMessage, heartbeatFrame) {
				return
			}
		case <-c.stop:
			if raw, err := encodeFrame(frame.New(frame.DISCONNECT)); err == nil {
				c.write(websocket.TextMessage, raw)
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) write(msgType int, raw []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(msgType, raw); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.log.Printf("stomp: write: %v", err)
		}
		return false
	}
	return true
}

func (c *Conn) readPump() {
	var closeErr error
	defer func() {
		c.stopOnce.Do(func() {
			close(c.stop)
		})
		c.emitClosed(closeErr)
		close(c.events)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		if c.readTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !c.stopped() {
				closeErr = err
			}
			return
		}

		frames, err := decodeFrames(raw)
		if err != nil {
			c.log.Printf("stomp: %v", err)
		}

		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				c.emit(Event{
					Kind:         EventMessage,
					Destination:  f.Header.Get(frame.Destination),
					Subscription: f.Header.Get(frame.Subscription),
					Body:         f.Body,
				})
			case frame.ERROR:
				c.emit(Event{Kind: EventError, Message: errorMessage(f)})
			case frame.RECEIPT:
			default:
				c.log.Printf("stomp: ignoring %s frame", f.Command)
			}
		}
	}
}

func (c *Conn) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *Conn) emitClosed(err error) {
	select {
	case c.events <- Event{Kind: EventClosed, Err: err}:
	default:
		c.log.Println("stomp: event queue full, close event dropped")
	}
}
