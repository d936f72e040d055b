package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "travelmaps"
	realtimeBufferSize     = 16
)

// RealtimeMessage is one place store change delivered to the user's event streams.
type RealtimeMessage struct {
	UserKey   places.UserKey
	EventType string
	PlaceID   string
	Timestamp time.Time
}

// RealtimeDispatcher fans store changes out to the event streams of their owner.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[places.UserKey]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[places.UserKey]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for the user until ctx is done or the returned
// cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userKey places.UserKey) (<-chan RealtimeMessage, func()) {
	if userKey == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userKey, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userKey, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of its user. Slow subscribers
// drop messages instead of blocking the publisher.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserKey == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserKey]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishChange adapts a store change event. It is safe to use as a
// places.StoreConfig OnChange callback.
func (d *RealtimeDispatcher) PublishChange(event places.ChangeEvent) {
	d.Publish(RealtimeMessage{
		UserKey:   event.UserKey,
		EventType: string(event.Kind),
		PlaceID:   event.PlaceID,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userKey places.UserKey, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userKey]; !ok {
		d.subscribers[userKey] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userKey][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userKey places.UserKey, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userKey]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userKey)
		}
	}
	d.mu.Unlock()
}
