package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const subscriberQueueSize = 1024

// Hub is an in-process relay. It stores regular and addressable events,
// never stores ephemeral ones, and fans published events out to every
// subscriber whose filter matches.
type Hub struct {
	subscribers map[string]*Subscriber
	stored      []*nostr.Event
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
	}
}

func (h *Hub) Subscribe(filter nostr.Filter) *Subscriber {
	s := NewSubscriber(filter)

	h.mu.Lock()
	h.subscribers[s.id] = s
	// replay stored events like a relay answering a REQ
	for _, evt := range h.stored {
		if filter.Matches(evt) {
			s.signal(evt)
		}
	}
	h.mu.Unlock()

	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s.id)
	h.mu.Unlock()
	s.Close()
}

// Publish stores evt when its kind is storable and delivers it to
// matching subscribers in publish order.
func (h *Hub) Publish(evt *nostr.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.store(evt)
	for _, s := range h.subscribers {
		if s.filter.Matches(evt) {
			s.signal(evt)
		}
	}
}

// Events returns the stored events matching filter.
func (h *Hub) Events(filter nostr.Filter) []*nostr.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var events []*nostr.Event
	for _, evt := range h.stored {
		if filter.Matches(evt) {
			events = append(events, evt)
		}
	}
	return events
}

func (h *Hub) store(evt *nostr.Event) {
	switch {
	case isEphemeralKind(evt.Kind):
		return
	case isAddressableKind(evt.Kind):
		d, _ := firstTagValue(evt, "d")
		for i, stored := range h.stored {
			storedD, _ := firstTagValue(stored, "d")
			if stored.Kind == evt.Kind && stored.PubKey == evt.PubKey && storedD == d {
				h.stored[i] = evt
				return
			}
		}
	}
	h.stored = append(h.stored, evt)
}

func isEphemeralKind(kind int) bool {
	return kind >= 20000 && kind < 30000
}

func isAddressableKind(kind int) bool {
	return kind >= 30000 && kind < 40000
}

func firstTagValue(evt *nostr.Event, key string) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

type Subscriber struct {
	id       string
	filter   nostr.Filter
	messages chan *nostr.Event
	active   bool
	mu       sync.RWMutex
}

func NewSubscriber(filter nostr.Filter) *Subscriber {
	id := make([]byte, 32)
	rand.Read(id)

	return &Subscriber{
		id:       hex.EncodeToString(id),
		filter:   filter,
		messages: make(chan *nostr.Event, subscriberQueueSize),
		active:   true,
	}
}

// signal never blocks the publisher. Like a relay, the hub drops events
// for a subscriber that is not keeping up.
func (s *Subscriber) signal(evt *nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	select {
	case s.messages <- evt:
	default:
	}
}

func (s *Subscriber) GetMessages() <-chan *nostr.Event {
	return s.messages
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		close(s.messages)
	}
}

// MemoryPool is a Pool backed by a Hub. Every added relay URL is an
// alias for the same hub.
type MemoryPool struct {
	hub    *Hub
	logger *slog.Logger

	mu            sync.Mutex
	relays        []string
	connected     bool
	connectedCh   chan struct{}
	filters       []nostr.Filter
	subscribers   []*Subscriber
	ctx           context.Context
	cancel        context.CancelFunc
	notifications chan *nostr.Event
}

func NewMemoryPool(hub *Hub, logger *slog.Logger) *MemoryPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryPool{
		hub:           hub,
		logger:        logger,
		connectedCh:   make(chan struct{}),
		notifications: make(chan *nostr.Event, subscriberQueueSize),
	}
}

func (p *MemoryPool) AddRelay(url string) error {
	if len(url) == 0 {
		return ErrInvalidRelayURL
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.relays {
		if r == url {
			return nil
		}
	}
	p.relays = append(p.relays, url)
	return nil
}

func (p *MemoryPool) Connect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected || len(p.relays) == 0 {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.connected = true
	close(p.connectedCh)

	for _, filter := range p.filters {
		p.subscribeLocked(filter)
	}
}

func (p *MemoryPool) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	p.mu.Lock()
	connectedCh := p.connectedCh
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-connectedCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *MemoryPool) Subscribe(ctx context.Context, filter nostr.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filters = append(p.filters, filter)
	if p.connected {
		p.subscribeLocked(filter)
	}
	return nil
}

func (p *MemoryPool) subscribeLocked(filter nostr.Filter) {
	sub := p.hub.Subscribe(filter)
	p.subscribers = append(p.subscribers, sub)

	ctx, out := p.ctx, p.notifications
	go func() {
		messages := sub.GetMessages()
		for {
			select {
			case evt, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *MemoryPool) Publish(ctx context.Context, evt nostr.Event) []PublishResult {
	p.mu.Lock()
	relays := append([]string(nil), p.relays...)
	connected := p.connected
	p.mu.Unlock()

	results := make([]PublishResult, len(relays))
	for i, url := range relays {
		results[i] = PublishResult{RelayURL: url}
		if !connected {
			results[i].Error = ErrNotConnected
		}
	}

	if connected && len(relays) > 0 {
		p.hub.Publish(&evt)
	}
	return results
}

func (p *MemoryPool) Notifications() <-chan *nostr.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifications
}

func (p *MemoryPool) ConnectedRelays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	return append([]string(nil), p.relays...)
}

func (p *MemoryPool) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		p.filters = nil
		return
	}

	p.cancel()
	for _, sub := range p.subscribers {
		p.hub.Unsubscribe(sub)
	}
	p.subscribers = nil
	p.filters = nil
	p.connected = false
	p.connectedCh = make(chan struct{})
	p.notifications = make(chan *nostr.Event, subscriberQueueSize)
}
