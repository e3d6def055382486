package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/chatcore/internal/auth"
	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/stomp"
	"github.com/npezzotti/chatcore/internal/types"
)

var errConnClosed = errors.New("connection closed by broker")

// BrokerConn is one live, authenticated broker connection.
type BrokerConn interface {
	Subscribe(destination string) (string, error)
	Unsubscribe(id string) error
	Send(destination, contentType string, body []byte) error
	Events() <-chan stomp.Event
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, token string) (BrokerConn, error)
}

// DialFunc adapts a plain function to a Dialer.
type DialFunc func(ctx context.Context, token string) (BrokerConn, error)

func (f DialFunc) Dial(ctx context.Context, token string) (BrokerConn, error) {
	return f(ctx, token)
}

// NewStompDialer dials the broker at url over a STOMP websocket.
func NewStompDialer(url string, heartbeat time.Duration, logger *log.Logger) Dialer {
	return DialFunc(func(ctx context.Context, token string) (BrokerConn, error) {
		conn, err := stomp.Dial(ctx, url, stomp.Options{
			Token:     token,
			Heartbeat: heartbeat,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

type ConnEventKind int

const (
	EventStateChanged ConnEventKind = iota
	EventInbound
)

// ConnEvent is published by the ConnectionManager in the order things
// happened on the wire. Conn is set only when State is Connected.
type ConnEvent struct {
	Kind         ConnEventKind
	State        types.ConnectionState
	Conn         BrokerConn
	Destination  string
	Subscription string
	Body         []byte
}

// ValidateCredential rejects a token that cannot possibly authenticate
// userNo.
func ValidateCredential(token string, userNo int64) error {
	if token == "" {
		return ErrInvalidCredential
	}
	if err := auth.CheckToken(token, userNo, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

type ConnectionManagerOptions struct {
	Dialer         Dialer
	Logger         *log.Logger
	Stats          stats.StatsProvider
	ReconnectDelay time.Duration
	// MaxReconnectAttempts stops retrying after that many consecutive
	// failures. Zero retries forever.
	MaxReconnectAttempts int
}

// ConnectionManager owns the broker connection for one user. It dials,
// watches the connection, and redials after a fixed delay when it drops.
// State changes and inbound messages go to a single channel.
type ConnectionManager struct {
	log            *log.Logger
	dialer         Dialer
	stats          stats.StatsProvider
	reconnectDelay time.Duration
	maxAttempts    int
	out            chan<- ConnEvent
	quit           <-chan struct{}

	startMu sync.Mutex

	mu     sync.Mutex
	state  types.ConnectionState
	token  string
	userNo int64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConnectionManager publishes to out until quit is closed.
func NewConnectionManager(opts ConnectionManagerOptions, out chan<- ConnEvent, quit <-chan struct{}) *ConnectionManager {
	return &ConnectionManager{
		log:            opts.Logger,
		dialer:         opts.Dialer,
		stats:          opts.Stats,
		reconnectDelay: opts.ReconnectDelay,
		maxAttempts:    opts.MaxReconnectAttempts,
		out:            out,
		quit:           quit,
		state:          types.Disconnected,
	}
}

func (m *ConnectionManager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start connects as userNo. Calling it again with the same credential is
// a no-op; any other credential tears the current connection down first.
// It returns once the first attempt has either connected or failed over
// to reconnecting.
func (m *ConnectionManager) Start(ctx context.Context, token string, userNo int64) error {
	if err := ValidateCredential(token, userNo); err != nil {
		return err
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	running := m.cancel != nil && m.state != types.Failed
	same := m.token == token && m.userNo == userNo
	m.mu.Unlock()
	if running && same {
		return nil
	}

	m.stop()

	runCtx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})
	done := make(chan struct{})

	m.mu.Lock()
	m.token = token
	m.userNo = userNo
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, token, first, done)

	select {
	case <-first:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the connection and cancels any pending reconnect.
func (m *ConnectionManager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stop()
}

func (m *ConnectionManager) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.token, m.userNo = "", 0
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	m.setState(context.Background(), types.Disconnected, nil)
	m.log.Println("broker connection stopped")
}

func (m *ConnectionManager) run(ctx context.Context, token string, first, done chan struct{}) {
	defer close(done)

	var firstOnce sync.Once
	signalFirst := func() { firstOnce.Do(func() { close(first) }) }
	defer signalFirst()

	m.setState(ctx, types.Connecting, nil)

	attempts := 0
	for {
		conn, err := m.dialer.Dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			attempts++
			m.log.Printf("attempt %d: %v", attempts, &TransportError{Err: err})
			if m.maxAttempts > 0 && attempts >= m.maxAttempts {
				m.log.Printf("giving up after %d attempts", attempts)
				m.setState(ctx, types.Failed, nil)
				return
			}

			m.setState(ctx, types.Reconnecting, nil)
			signalFirst()
			if !m.wait(ctx) {
				return
			}
			m.stats.Incr(stats.NumReconnects)
			continue
		}

		attempts = 0
		m.log.Println("connected to broker")
		m.setState(ctx, types.Connected, conn)
		signalFirst()

		err = m.pump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		m.log.Printf("lost broker connection: %v", err)
		m.setState(ctx, types.Reconnecting, nil)
		if !m.wait(ctx) {
			return
		}
		m.stats.Incr(stats.NumReconnects)
	}
}

// pump forwards broker events until the connection ends.
func (m *ConnectionManager) pump(ctx context.Context, conn BrokerConn) error {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return &TransportError{Err: errConnClosed}
			}

			switch ev.Kind {
			case stomp.EventMessage:
				m.emit(ctx, ConnEvent{
					Kind:         EventInbound,
					Destination:  ev.Destination,
					Subscription: ev.Subscription,
					Body:         ev.Body,
				})
			case stomp.EventError:
				return &TransportError{Err: fmt.Errorf("broker error: %s", ev.Message)}
			case stomp.EventClosed:
				if ev.Err == nil {
					return &TransportError{Err: errConnClosed}
				}
				return &TransportError{Err: ev.Err}
			}
		}
	}
}

func (m *ConnectionManager) wait(ctx context.Context) bool {
	t := time.NewTimer(m.reconnectDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *ConnectionManager) setState(ctx context.Context, state types.ConnectionState, conn BrokerConn) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.mu.Unlock()

	if prev == state && state != types.Connected {
		return
	}

	m.emit(ctx, ConnEvent{Kind: EventStateChanged, State: state, Conn: conn})
}

func (m *ConnectionManager) emit(ctx context.Context, ev ConnEvent) {
	select {
	case m.out <- ev:
	case <-ctx.Done():
	case <-m.quit:
	}
}
