package events

// Typed notification bus. The emulator publishes topology notifications
// (connect/handover/disconnect); other categories and Fields are available
// for telemetry events, which the collector's own subsystems do not publish.
// Subscribers receive events over buffered channels with drop accounting so
// a slow consumer never blocks the emulation.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	metrics "orrery/collector/internal/telemetry/metrics"
)

const (
	CategoryTopology  = "topology"
	CategoryPoller    = "poller"
	CategoryHandover  = "handover"
	CategoryLifecycle = "lifecycle"
)

const (
	TypeConnect    = "connect"
	TypeHandover   = "handover"
	TypeDisconnect = "disconnect"
)

// Event is one bus message. Topology events carry the GS/satellite fields;
// telemetry events use Fields.
type Event struct {
	Time     time.Time      `json:"time"`
	Category string         `json:"category"`
	Type     string         `json:"type"`
	Severity string         `json:"severity,omitempty"`
	GSID     string         `json:"gs_id,omitempty"`
	FromSat  *int           `json:"from_sat,omitempty"`
	ToSat    *int           `json:"to_sat,omitempty"`
	SimTime  float64        `json:"sim_time_s,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// IsTopology reports whether the event is a topology notification.
func (e Event) IsTopology() bool { return e.Category == CategoryTopology }

// Subscription is a receiver handle. Close is idempotent.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// BusStats summarizes bus activity.
type BusStats struct {
	Subscribers int64
	Published   uint64
	Dropped     uint64
}

// Bus fans events out to subscribers.
type Bus interface {
	Publish(ev Event) error
	PublishCtx(ctx context.Context, ev Event) error
	Subscribe(buffer int) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Stats() BusStats
}

// NewBus constructs a bus; provider may be a noop provider.
func NewBus(provider metrics.Provider) Bus {
	b := &eventBus{subs: make(map[int64]*subscriber)}
	if provider != nil {
		b.mPublished = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "events", Name: "published_total", Help: "Total events published"}})
		b.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "events", Name: "dropped_total", Help: "Total events dropped due to slow subscribers"}})
	}
	return b
}

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	mPublished metrics.Counter
	mDropped   metrics.Counter
}

type subscriber struct {
	id  int64
	ch  chan Event
	bus *eventBus

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }

// send delivers without blocking; a full buffer drops the event. The
// per-subscriber mutex makes send/Close safe against each other so a
// publisher racing an unsubscribe never hits a closed channel.
func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	s.bus.remove(s.id)
	return nil
}

func (b *eventBus) Publish(ev Event) error {
	if ev.Category == "" {
		return errors.New("event missing category")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1)
	}
	for _, s := range subs {
		if !s.send(ev) {
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1)
			}
		}
	}
	return nil
}

func (b *eventBus) PublishCtx(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Publish(ev)
}

func (b *eventBus) Subscribe(buffer int) (Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	b.nextID++
	s := &subscriber{id: b.nextID, ch: make(chan Event, buffer), bus: b}
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

func (b *eventBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return errors.New("nil subscription")
	}
	return sub.Close()
}

func (b *eventBus) remove(id int64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *eventBus) Stats() BusStats {
	b.mu.RLock()
	n := int64(len(b.subs))
	b.mu.RUnlock()
	return BusStats{Subscribers: n, Published: b.published.Load(), Dropped: b.dropped.Load()}
}

// Connect builds a topology connect notification.
func Connect(gs string, sat int, simTime float64) Event {
	s := sat
	return Event{Category: CategoryTopology, Type: TypeConnect, GSID: gs, ToSat: &s, SimTime: simTime}
}

// Handover builds a topology handover notification.
func Handover(gs string, fromSat, toSat int, simTime float64) Event {
	f, t := fromSat, toSat
	return Event{Category: CategoryTopology, Type: TypeHandover, GSID: gs, FromSat: &f, ToSat: &t, SimTime: simTime}
}

// Disconnect builds a topology disconnect notification.
func Disconnect(gs string, simTime float64) Event {
	return Event{Category: CategoryTopology, Type: TypeDisconnect, GSID: gs, SimTime: simTime}
}
