package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/types"
)

// ReadPersister writes a room's last-read pointer to the server.
type ReadPersister func(ctx context.Context, roomId types.RoomId, messageId int64) error

type readState struct {
	lastRead int64
	// baseline is lastRead as it was when the room was opened. The unread
	// divider is drawn against it so it stays put while the user reads.
	baseline int64
	opened   bool
	pending  int64
	// gen identifies this state across Forget and Reset.
	gen uint64
}

// ReadTracker holds the per-room last-read pointers. The local pointer
// only ever grows. Writes to the server run in the background, at most
// one per room at a time, and the newest pointer that arrived during a
// write is sent once it completes. A room that is forgotten and added back
// while a write is running waits for that write before sending its own.
type ReadTracker struct {
	log     *log.Logger
	stats   stats.StatsProvider
	persist ReadPersister
	onError func(error)
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[types.RoomId]*readState
	// writing marks rooms with a write in flight. It outlives the room's
	// readState.
	writing map[types.RoomId]bool
	gen     uint64
}

func NewReadTracker(logger *log.Logger, st stats.StatsProvider, persist ReadPersister, onError func(error), timeout time.Duration) *ReadTracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReadTracker{
		log:     logger,
		stats:   st,
		persist: persist,
		onError: onError,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[types.RoomId]*readState),
		writing: make(map[types.RoomId]bool),
	}
}

func (t *ReadTracker) room(id types.RoomId) *readState {
	st, ok := t.rooms[id]
	if !ok {
		t.gen++
		st = &readState{gen: t.gen}
		t.rooms[id] = st
	}
	return st
}

// MarkRead advances the pointer for roomId. Calls that would not move it
// forward are ignored.
func (t *ReadTracker) MarkRead(roomId types.RoomId, messageId int64) {
	if messageId <= 0 {
		return
	}

	t.mu.Lock()
	st := t.room(roomId)
	if messageId <= st.lastRead {
		t.mu.Unlock()
		return
	}

	st.lastRead = messageId
	if t.writing[roomId] {
		st.pending = messageId
		t.mu.Unlock()
		return
	}
	t.writing[roomId] = true
	t.mu.Unlock()

	t.startPersist(roomId, st.gen, messageId)
}

// startPersist writes messageId for the state generation gen. When it
// completes it sends the newest pending pointer of whatever state the room
// has now. Within one generation only a larger pointer is sent.
func (t *ReadTracker) startPersist(roomId types.RoomId, gen uint64, messageId int64) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
		err := t.persist(ctx, roomId, messageId)
		cancel()

		if err != nil {
			t.stats.Incr(stats.NumPersistFailures)
			t.log.Printf("update last read for room %s: %v", roomId, err)
			t.onError(&PersistenceError{
				Op:        "update last read",
				RoomId:    roomId,
				MessageId: messageId,
				Err:       err,
			})
		}

		t.mu.Lock()
		var next int64
		st, ok := t.rooms[roomId]
		if ok {
			next = st.pending
			st.pending = 0
			if st.gen == gen && next <= messageId {
				next = 0
			}
		}
		if next <= 0 || t.ctx.Err() != nil {
			delete(t.writing, roomId)
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.startPersist(roomId, st.gen, next)
	}()
}

// Sync raises the local pointer to one fetched from the server without
// writing it back.
func (t *ReadTracker) Sync(roomId types.RoomId, messageId int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.room(roomId)
	st.lastRead = max(st.lastRead, messageId)
}

// BeginView records the divider baseline for a room being opened.
func (t *ReadTracker) BeginView(roomId types.RoomId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.room(roomId)
	st.opened = true
	st.baseline = st.lastRead
}

func (t *ReadTracker) LastRead(roomId types.RoomId) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rooms[roomId]
	if !ok {
		return 0, false
	}
	return st.lastRead, true
}

// IsUnread reports whether messageId is newer than the room's pointer.
func (t *ReadTracker) IsUnread(roomId types.RoomId, messageId int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rooms[roomId]
	if !ok {
		return true
	}
	return messageId > st.lastRead
}

// UnreadCount counts messages from other users past the room's pointer.
func (t *ReadTracker) UnreadCount(roomId types.RoomId, userNo int64, messages []types.Message) int {
	t.mu.Lock()
	st, ok := t.rooms[roomId]
	var lastRead int64
	if ok {
		lastRead = st.lastRead
	}
	t.mu.Unlock()

	n := 0
	for _, m := range messages {
		if m.HasId() && m.MessageId > lastRead && m.SenderUserId != userNo && !m.IsSystem() {
			n++
		}
	}
	return n
}

// UnreadDivider returns the index of the first message newer than the
// baseline whose predecessor is not. It returns false if the room was
// never opened or nothing had been read when it was.
func (t *ReadTracker) UnreadDivider(roomId types.RoomId, messages []types.Message) (int, bool) {
	t.mu.Lock()
	st, ok := t.rooms[roomId]
	var baseline int64
	if ok && st.opened {
		baseline = st.baseline
	}
	t.mu.Unlock()

	if baseline == 0 {
		return 0, false
	}

	var prev int64
	for i, m := range messages {
		if m.MessageId > baseline && prev <= baseline {
			return i, true
		}
		if m.HasId() {
			prev = m.MessageId
		}
	}
	return 0, false
}

func (t *ReadTracker) Forget(roomId types.RoomId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomId)
}

func (t *ReadTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = make(map[types.RoomId]*readState)
}

// Wait blocks until no writes are in flight.
func (t *ReadTracker) Wait() {
	t.wg.Wait()
}

// Close cancels in-flight writes and waits for them to return.
func (t *ReadTracker) Close() {
	t.cancel()
	t.wg.Wait()
}
