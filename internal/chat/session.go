package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/npezzotti/chatcore/internal/chatapi"
	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/types"
)

const (
	DefaultBotDisplayName = "요픽"
	botFailureBody        = "서버 오류 발생"

	errorQueueSize = 64
)

type Options struct {
	Logger  *log.Logger
	Dialer  Dialer
	Backend chatapi.Backend
	Stats   stats.StatsProvider

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	// NotificationAutoClose starts closing a notification after this long.
	// Zero keeps notifications until the user dismisses them.
	NotificationAutoClose time.Duration
	BotDisplayName        string
}

// Status is a snapshot of the session as the UI sees it.
type Status struct {
	State      types.ConnectionState `json:"state"`
	User       types.User            `json:"user"`
	ActiveRoom types.RoomId          `json:"activeRoom,omitempty"`
	Alerts     bool                  `json:"newMessageAlerts"`
	// Subscribed lists the rooms with live broker subscriptions.
	Subscribed []types.RoomId        `json:"subscribedRooms,omitempty"`
}

// Session is the single entry point for the UI. All room, message and
// notification state is owned by one goroutine (Run) and every public
// method is executed on it.
type Session struct {
	log     *log.Logger
	backend chatapi.Backend
	stats   stats.StatsProvider
	opts    Options

	manager       *ConnectionManager
	reconciler    *SubscriptionReconciler
	rooms         *RoomStore
	reads         *ReadTracker
	notifications *NotificationQueue
	dispatcher    *MessageDispatcher
	feed          *updateFeed

	// loop owned
	state      types.ConnectionState
	conn       BrokerConn
	activeRoom types.RoomId
	alerts     bool

	idMu  sync.RWMutex
	user  types.User
	token string

	events    chan ConnEvent
	cmds      chan func()
	errs      chan error
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSession(opts Options) *Session {
	if opts.BotDisplayName == "" {
		opts.BotDisplayName = DefaultBotDisplayName
	}

	s := &Session{
		log:     opts.Logger,
		backend: opts.Backend,
		stats:   opts.Stats,
		opts:    opts,
		state:   types.Disconnected,
		alerts:  true,
		events:  make(chan ConnEvent),
		cmds:    make(chan func()),
		errs:    make(chan error, errorQueueSize),
		feed:    newUpdateFeed(opts.Logger),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, m := range []string{
		stats.NumReconnects,
		stats.NumActiveSubscriptions,
		stats.NumMessagesReceived,
		stats.NumMalformedMessages,
		stats.NumNotifications,
		stats.NumPersistFailures,
	} {
		s.stats.RegisterMetric(m)
	}

	s.manager = NewConnectionManager(ConnectionManagerOptions{
		Dialer:               opts.Dialer,
		Logger:               opts.Logger,
		Stats:                opts.Stats,
		ReconnectDelay:       opts.ReconnectDelay,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
	}, s.events, s.stop)
	s.reconciler = NewSubscriptionReconciler(opts.Logger, opts.Stats)
	s.rooms = NewRoomStore()
	s.reads = NewReadTracker(opts.Logger, opts.Stats, s.persistLastRead, s.publishError, opts.RequestTimeout)
	s.notifications = NewNotificationQueue()
	s.dispatcher = NewMessageDispatcher(opts.Logger, opts.Stats, s.rooms, s.reads, s.notifications)

	return s
}

func (s *Session) Run() {
	s.log.Println("chat session started")
	defer close(s.done)

	for {
		select {
		case ev := <-s.events:
			s.handleConnEvent(ev)
		case cmd := <-s.cmds:
			cmd()
		case <-s.stop:
			s.log.Println("chat session stopped")
			return
		}
	}
}

// Shutdown disconnects, waits for background writes and stops the loop.
func (s *Session) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.manager.Stop()

	finished := make(chan struct{})
	go func() {
		s.reads.Close()
		s.wg.Wait()
		<-s.done
		s.feed.close()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors delivers failures of background work: REST writes after a
// send or a read, and room refreshes triggered by Start.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Updates registers a listener for session changes. The channel is
// closed by the returned cancel func or on Shutdown.
func (s *Session) Updates() (<-chan Update, func()) {
	return s.feed.subscribe()
}

func (s *Session) publishError(err error) {
	s.feed.publish(Update{Kind: UpdateError, Error: err.Error()})
	select {
	case s.errs <- err:
	default:
		s.log.Printf("error queue full, dropping: %v", err)
	}
}

// do runs fn on the session loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	select {
	case s.cmds <- func() { defer close(finished); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return ErrSessionClosed
	}

	<-finished
	return nil
}

// background runs fn in a goroutine Shutdown waits for.
func (s *Session) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) identity() (types.User, string) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.user, s.token
}

func (s *Session) requestContext(ctx context.Context, token string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(chatapi.WithToken(ctx, token), s.opts.RequestTimeout)
}

func (s *Session) handleConnEvent(ev ConnEvent) {
	switch ev.Kind {
	case EventStateChanged:
		s.log.Printf("connection state: %s", ev.State)
		s.state = ev.State
		s.feed.publish(stateUpdate(ev.State))
		if ev.State == types.Connected {
			s.conn = ev.Conn
			s.reconcile()
			return
		}
		s.conn = nil
		s.reconciler.Reset()
	case EventInbound:
		s.handleInbound(ev)
	}
}

func (s *Session) handleInbound(ev ConnEvent) {
	roomId, kind, ok := s.reconciler.Route(ev.Destination, ev.Subscription)
	if !ok {
		s.log.Printf("dropping message on unsubscribed destination %s", ev.Destination)
		return
	}

	if kind == topicRemoval {
		s.log.Printf("room %s removed by broker", roomId)
		s.removeRoom(roomId)
		s.feed.publish(Update{Kind: UpdateRoomRemoved, RoomId: roomId})
		s.reconcile()
		return
	}

	s.afterDelivery(s.dispatcher.Dispatch(roomId, ev.Destination, ev.Body, s.currentViewer()))
}

func (s *Session) afterDelivery(res dispatchResult) {
	if !res.inserted {
		return
	}
	s.feed.publish(messageUpdate(res.message))

	if res.message.RoomId == s.activeRoom && res.message.HasId() {
		s.reads.MarkRead(res.message.RoomId, res.message.MessageId)
	}

	if res.notification == nil {
		return
	}
	s.feed.publish(Update{Kind: UpdateNotification, RoomId: res.message.RoomId, Notification: res.notification})

	if s.opts.NotificationAutoClose > 0 {
		id := res.notification.Id
		time.AfterFunc(s.opts.NotificationAutoClose, func() {
			s.do(context.Background(), func() { s.closeNotification(id) })
		})
	}
}

func (s *Session) currentViewer() viewer {
	user, _ := s.identity()
	return viewer{userNo: user.Id, activeRoom: s.activeRoom, alerts: s.alerts}
}

func (s *Session) reconcile() {
	if err := s.reconciler.Reconcile(s.rooms.Desired(), s.state, s.conn); err != nil {
		s.log.Printf("reconcile subscriptions: %v", err)
	}
}

func (s *Session) removeRoom(id types.RoomId) {
	if !s.rooms.Remove(id) {
		return
	}
	s.forgetRoom(id)
}

func (s *Session) forgetRoom(id types.RoomId) {
	s.reads.Forget(id)
	s.notifications.RemoveRoom(id)
	if s.activeRoom == id {
		s.activeRoom = ""
	}
}

func (s *Session) persistLastRead(ctx context.Context, roomId types.RoomId, messageId int64) error {
	user, token := s.identity()
	return s.backend.UpdateLastRead(chatapi.WithToken(ctx, token), user.Id, roomId, messageId)
}

// Start authenticates the session as user and connects to the broker.
// Switching to another user drops all local state first. The room list
// is then fetched in the background.
func (s *Session) Start(ctx context.Context, token string, user types.User) error {
	if err := ValidateCredential(token, user.Id); err != nil {
		return err
	}

	err := s.do(ctx, func() {
		s.idMu.Lock()
		switched := s.user.Id != user.Id
		s.user = user
		s.token = token
		s.idMu.Unlock()

		if switched {
			s.rooms.SetRooms(nil)
			s.reads.Reset()
			s.notifications.Clear()
			s.activeRoom = ""
			s.feed.publish(Update{Kind: UpdateRooms})
		}
	})
	if err != nil {
		return err
	}

	if err := s.manager.Start(ctx, token, user.Id); err != nil {
		return err
	}

	s.background(func() {
		if err := s.RefreshRooms(context.Background()); err != nil {
			s.publishError(err)
		}
	})

	return nil
}

// Stop disconnects from the broker. Rooms and messages are kept.
func (s *Session) Stop() {
	s.manager.Stop()
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		user, _ := s.identity()
		st = Status{
			State:      s.state,
			User:       user,
			ActiveRoom: s.activeRoom,
			Alerts:     s.alerts,
			Subscribed: s.reconciler.Subscribed(),
		}
	})
	return st, err
}

// SetRoomList replaces the known rooms and reconciles subscriptions.
func (s *Session) SetRoomList(ctx context.Context, rooms []types.Room) error {
	return s.do(ctx, func() {
		for _, id := range s.rooms.SetRooms(rooms) {
			s.forgetRoom(id)
		}
		for _, r := range rooms {
			if r.LastReadMessageId > 0 {
				s.reads.Sync(r.Id, r.LastReadMessageId)
			}
		}
		s.reconcile()
		s.feed.publish(Update{Kind: UpdateRooms})
	})
}

// Reconcile re-runs subscription reconciliation against the current room
// list. It is also run on every room list change and reconnect.
func (s *Session) Reconcile(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() {
		err = s.reconciler.Reconcile(s.rooms.Desired(), s.state, s.conn)
	}); doErr != nil {
		return doErr
	}
	return err
}

// RefreshRooms fetches the room list from the server.
func (s *Session) RefreshRooms(ctx context.Context) error {
	user, token := s.identity()
	if token == "" {
		return ErrInvalidCredential
	}

	reqCtx, cancel := s.requestContext(ctx, token)
	defer cancel()

	rooms, err := s.backend.GetRooms(reqCtx, user.Id)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}

	return s.SetRoomList(ctx, rooms)
}

func (s *Session) Rooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	err := s.do(ctx, func() {
		rooms = s.rooms.List()
		for i := range rooms {
			s.decorate(&rooms[i])
		}
	})
	return rooms, err
}

func (s *Session) Room(ctx context.Context, id types.RoomId) (types.Room, error) {
	var (
		room types.Room
		ok   bool
	)
	err := s.do(ctx, func() {
		room, ok = s.rooms.Snapshot(id)
		if ok {
			s.decorate(&room)
		}
	})
	if err != nil {
		return types.Room{}, err
	}
	if !ok {
		return types.Room{}, ErrRoomNotFound
	}
	return room, nil
}

func (s *Session) decorate(room *types.Room) {
	user, _ := s.identity()
	room.LastReadMessageId, _ = s.reads.LastRead(room.Id)
	room.UnreadCount = s.reads.UnreadCount(room.Id, user.Id, room.Messages)
}

// OpenRoom makes roomId the active room. The server's read pointer is
// fetched first so the unread divider reflects reads from other devices.
func (s *Session) OpenRoom(ctx context.Context, roomId types.RoomId) error {
	if _, err := s.Room(ctx, roomId); err != nil {
		return err
	}

	user, token := s.identity()
	reqCtx, cancel := s.requestContext(ctx, token)
	serverRead, err := s.backend.GetLastRead(reqCtx, user.Id, roomId)
	cancel()
	if err != nil {
		s.log.Printf("fetch last read for room %s: %v", roomId, err)
	}

	var found bool
	err = s.do(ctx, func() {
		if _, found = s.rooms.Get(roomId); !found {
			return
		}
		s.reads.Sync(roomId, serverRead)
		s.reads.BeginView(roomId)
		s.activeRoom = roomId
		s.reads.MarkRead(roomId, s.rooms.NewestMessageId(roomId))
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	return nil
}

func (s *Session) CloseRoom(ctx context.Context) error {
	return s.do(ctx, func() { s.activeRoom = "" })
}

// MarkRead records that the user has seen messageId in roomId, for
// example after scrolling to the bottom.
func (s *Session) MarkRead(ctx context.Context, roomId types.RoomId, messageId int64) error {
	var found bool
	err := s.do(ctx, func() {
		if _, found = s.rooms.Get(roomId); found {
			s.reads.MarkRead(roomId, messageId)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	return nil
}

// Messages returns the room's log and the index of the unread divider,
// or -1 when there is none.
func (s *Session) Messages(ctx context.Context, roomId types.RoomId) ([]types.Message, int, error) {
	room, err := s.Room(ctx, roomId)
	if err != nil {
		return nil, -1, err
	}

	divider, ok := s.reads.UnreadDivider(roomId, room.Messages)
	if !ok {
		divider = -1
	}
	return room.Messages, divider, nil
}

// SendMessage sends body to roomId. Regular rooms publish to the broker
// and show the message when the broker echoes it back. Bot rooms show the
// question right away and append the bot's answer when it arrives.
func (s *Session) SendMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error) {
	if strings.TrimSpace(body) == "" {
		return types.Message{}, &SendError{RoomId: roomId, Err: ErrEmptyMessage}
	}

	var (
		kind    types.RoomKind
		found   bool
		sent    types.Message
		sendErr error
	)
	err := s.do(ctx, func() {
		room, ok := s.rooms.Get(roomId)
		if !ok {
			return
		}
		found, kind = true, room.Kind

		user, _ := s.identity()
		msg := types.Message{
			RoomId:            roomId,
			SenderUserId:      user.Id,
			SenderDisplayName: user.Username,
			Body:              body,
			CreatedAt:         time.Now().UTC(),
		}

		if kind == types.RoomKindBot {
			if s.rooms.Insert(roomId, msg) {
				s.feed.publish(messageUpdate(msg))
			}
			sent = msg
			return
		}

		msg.CorrelationId = uuid.NewString()
		sent, sendErr = msg, s.publish(sendDestination(roomId), msg)
	})
	if err != nil {
		return types.Message{}, err
	}
	if !found {
		return types.Message{}, ErrRoomNotFound
	}
	if sendErr != nil {
		return types.Message{}, &SendError{RoomId: roomId, Err: sendErr}
	}
	if kind != types.RoomKindBot {
		return sent, nil
	}

	return s.askBot(ctx, sent)
}

func (s *Session) askBot(ctx context.Context, question types.Message) (types.Message, error) {
	user, token := s.identity()

	reqCtx, cancel := s.requestContext(ctx, token)
	reply, botErr := s.backend.AskBot(reqCtx, user.Id, question.Body)
	cancel()

	answer := types.Message{
		RoomId:            question.RoomId,
		SenderUserId:      user.Id,
		SenderDisplayName: s.opts.BotDisplayName,
		Body:              reply.Answer,
		ActionLink:        reply.Button,
		CreatedAt:         time.Now().UTC(),
	}
	if !answer.CreatedAt.After(question.CreatedAt) {
		answer.CreatedAt = question.CreatedAt.Add(time.Millisecond)
	}
	if botErr != nil {
		s.log.Printf("ask bot: %v", botErr)
		answer.Body = botFailureBody
		answer.ActionLink = nil
	}

	err := s.do(ctx, func() {
		if s.rooms.Insert(answer.RoomId, answer) {
			s.feed.publish(messageUpdate(answer))
		}
	})
	if err != nil {
		return types.Message{}, err
	}

	s.background(func() {
		for _, m := range []types.Message{question, answer} {
			s.saveMessage(types.RoomKindBot, m)
		}
	})

	if botErr != nil {
		return answer, &SendError{RoomId: question.RoomId, Err: botErr}
	}
	return answer, nil
}

func (s *Session) saveMessage(kind types.RoomKind, msg types.Message) {
	_, token := s.identity()
	ctx, cancel := s.requestContext(context.Background(), token)
	defer cancel()

	if _, err := s.backend.SaveMessage(ctx, kind, msg.RoomId, msg); err != nil {
		s.stats.Incr(stats.NumPersistFailures)
		s.publishError(&PersistenceError{Op: "save message", RoomId: msg.RoomId, Err: err})
	}
}

// publish must run on the loop.
func (s *Session) publish(destination string, v any) error {
	if s.conn == nil || s.state != types.Connected {
		return ErrNotConnected
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return s.conn.Send(destination, contentTypeJSON, b)
}

// PostSystemMessage stores a system message for roomId and broadcasts
// the stored copy.
func (s *Session) PostSystemMessage(ctx context.Context, roomId types.RoomId, body string) (types.Message, error) {
	room, err := s.Room(ctx, roomId)
	if err != nil {
		return types.Message{}, err
	}

	_, token := s.identity()
	msg := types.Message{
		RoomId:       roomId,
		SenderUserId: types.SystemUserId,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}

	reqCtx, cancel := s.requestContext(ctx, token)
	saved, err := s.backend.SaveMessage(reqCtx, room.Kind, roomId, msg)
	cancel()
	if err != nil {
		s.stats.Incr(stats.NumPersistFailures)
		return types.Message{}, &PersistenceError{Op: "save system message", RoomId: roomId, Err: err}
	}
	if saved.RoomId == "" {
		saved.RoomId = roomId
	}

	var sendErr error
	if err := s.do(ctx, func() { sendErr = s.publish(sendDestination(roomId), saved) }); err != nil {
		return types.Message{}, err
	}
	if sendErr != nil {
		return saved, &SendError{RoomId: roomId, Err: sendErr}
	}
	return saved, nil
}

// RemoveRoom asks the broker to remove roomId for all members. The room
// disappears locally once the broker announces the removal.
func (s *Session) RemoveRoom(ctx context.Context, roomId types.RoomId) error {
	var (
		found   bool
		sendErr error
	)
	err := s.do(ctx, func() {
		if _, found = s.rooms.Get(roomId); found {
			sendErr = s.publish(removeRoomDestination(roomId), removalNotice)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	if sendErr != nil {
		return &SendError{RoomId: roomId, Err: sendErr}
	}
	return nil
}

func (s *Session) Notifications(ctx context.Context) ([]types.NotificationEntry, error) {
	var entries []types.NotificationEntry
	err := s.do(ctx, func() { entries = s.notifications.List() })
	return entries, err
}

var errNotificationNotFound = errors.New("notification not found")

// CloseNotification starts closing a notification; RemoveNotification
// drops it once the UI is done animating.
func (s *Session) CloseNotification(ctx context.Context, id string) error {
	return s.notificationOp(ctx, func() bool { return s.closeNotification(id) })
}

// closeNotification reports whether id exists. Closing an entry that is
// already closing changes nothing.
func (s *Session) closeNotification(id string) bool {
	if !s.notifications.StartClosing(id) {
		return s.notifications.Has(id)
	}
	s.feed.publish(Update{Kind: UpdateNotificationClosing, NotificationId: id})
	return true
}

func (s *Session) RemoveNotification(ctx context.Context, id string) error {
	return s.notificationOp(ctx, func() bool {
		if !s.notifications.Remove(id) {
			return false
		}
		s.feed.publish(Update{Kind: UpdateNotificationRemoved, NotificationId: id})
		return true
	})
}

func (s *Session) notificationOp(ctx context.Context, op func() bool) error {
	var ok bool
	if err := s.do(ctx, func() { ok = op() }); err != nil {
		return err
	}
	if !ok {
		return errNotificationNotFound
	}
	return nil
}

// SetNewMessageAlerts toggles notifications for the whole session.
func (s *Session) SetNewMessageAlerts(ctx context.Context, enabled bool) error {
	return s.do(ctx, func() { s.alerts = enabled })
}

// IsNotFound reports whether err means the room or notification does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, errNotificationNotFound)
}
