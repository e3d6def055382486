package chat

import (
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/npezzotti/chatcore/internal/stats"
	"github.com/npezzotti/chatcore/internal/types"
)

// Subscriber is the part of a broker connection the reconciler needs.
type Subscriber interface {
	Subscribe(destination string) (string, error)
	Unsubscribe(id string) error
}

// subscription is the logical subscription for one room: its message
// topic and its removal topic.
type subscription struct {
	roomId   types.RoomId
	messages string
	removal  string
}

type route struct {
	roomId types.RoomId
	kind   topicKind
}

// SubscriptionReconciler keeps the broker subscriptions equal to the set
// of eligible rooms while connected. Handles belong to a single
// connection and are forgotten when it goes away. It is owned by the
// session loop.
type SubscriptionReconciler struct {
	log    *log.Logger
	stats  stats.StatsProvider
	subs   map[types.RoomId]*subscription
	routes map[string]route
}

func NewSubscriptionReconciler(logger *log.Logger, st stats.StatsProvider) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		log:    logger,
		stats:  st,
		subs:   make(map[types.RoomId]*subscription),
		routes: make(map[string]route),
	}
}

// Reconcile diffs the eligible rooms against the active subscriptions.
// It does nothing unless state is Connected.
func (r *SubscriptionReconciler) Reconcile(rooms []types.Room, state types.ConnectionState, conn Subscriber) error {
	if state != types.Connected || conn == nil {
		return nil
	}

	want := make(map[types.RoomId]struct{}, len(rooms))
	for _, room := range rooms {
		if room.Kind.Subscribable() {
			want[room.Id] = struct{}{}
		}
	}

	var errs []error
	for id, sub := range r.subs {
		if _, ok := want[id]; ok {
			continue
		}
		if err := r.unsubscribe(conn, sub); err != nil {
			errs = append(errs, err)
		}
	}

	for _, room := range rooms {
		if _, ok := want[room.Id]; !ok {
			continue
		}
		if _, ok := r.subs[room.Id]; ok {
			continue
		}
		if err := r.subscribe(conn, room.Id); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *SubscriptionReconciler) subscribe(conn Subscriber, id types.RoomId) error {
	msgHandle, err := conn.Subscribe(topicDestination(id))
	if err != nil {
		return fmt.Errorf("subscribe room %s: %w", id, err)
	}

	removalHandle, err := conn.Subscribe(removalDestination(id))
	if err != nil {
		conn.Unsubscribe(msgHandle)
		return fmt.Errorf("subscribe room %s removals: %w", id, err)
	}

	r.subs[id] = &subscription{roomId: id, messages: msgHandle, removal: removalHandle}
	r.routes[msgHandle] = route{roomId: id, kind: topicMessages}
	r.routes[removalHandle] = route{roomId: id, kind: topicRemoval}
	r.stats.Incr(stats.NumActiveSubscriptions)
	r.log.Printf("subscribed to room %s", id)

	return nil
}

// unsubscribe forgets the handles even when the broker call fails, since
// a failed call means the connection is on its way out anyway.
func (r *SubscriptionReconciler) unsubscribe(conn Subscriber, sub *subscription) error {
	r.forget(sub)

	err := errors.Join(conn.Unsubscribe(sub.messages), conn.Unsubscribe(sub.removal))
	if err != nil {
		return fmt.Errorf("unsubscribe room %s: %w", sub.roomId, err)
	}

	r.log.Printf("unsubscribed from room %s", sub.roomId)
	return nil
}

func (r *SubscriptionReconciler) forget(sub *subscription) {
	delete(r.subs, sub.roomId)
	delete(r.routes, sub.messages)
	delete(r.routes, sub.removal)
	r.stats.Decr(stats.NumActiveSubscriptions)
}

// Reset drops every handle without talking to the broker. Call it when
// the connection that owned them is gone.
func (r *SubscriptionReconciler) Reset() {
	for _, sub := range r.subs {
		r.forget(sub)
	}
}

// Route resolves an inbound message to its room. Messages for rooms that
// are not subscribed are rejected.
func (r *SubscriptionReconciler) Route(destination, handle string) (types.RoomId, topicKind, bool) {
	if rt, ok := r.routes[handle]; ok {
		return rt.roomId, rt.kind, true
	}

	id, kind, ok := parseTopic(destination)
	if !ok {
		return "", 0, false
	}
	if _, subscribed := r.subs[id]; !subscribed {
		return "", 0, false
	}
	return id, kind, true
}

func (r *SubscriptionReconciler) Subscribed() []types.RoomId {
	ids := make([]types.RoomId, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
