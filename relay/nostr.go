package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"
)

const (
	seenCacheSize     = 4096
	notificationsSize = 256

	minRedialDelay = time.Second
	maxRedialDelay = 30 * time.Second
)

type poolRelay struct {
	url   string
	relay *nostr.Relay
	// pool context of the dial loop that owns this relay
	dialCtx context.Context
}

// NostrPool is a Pool over websocket relays. An event delivered by
// several relays is only notified once. Relays that drop are redialed
// until the pool is disconnected.
type NostrPool struct {
	logger *slog.Logger

	mu            sync.Mutex
	relays        []*poolRelay
	filters       []nostr.Filter
	connectedCh   chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	notifications chan *nostr.Event

	seen *lru.Cache[string, struct{}]
}

func NewNostrPool(logger *slog.Logger) (*NostrPool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &NostrPool{
		logger:        logger,
		connectedCh:   make(chan struct{}),
		notifications: make(chan *nostr.Event, notificationsSize),
		seen:          seen,
	}, nil
}

func (p *NostrPool) AddRelay(url string) error {
	normalized := nostr.NormalizeURL(url)
	if len(normalized) == 0 || !(strings.HasPrefix(normalized, "ws://") || strings.HasPrefix(normalized, "wss://")) {
		return fmt.Errorf("%w: %q", ErrInvalidRelayURL, url)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.relays {
		if r.url == normalized {
			return nil
		}
	}
	p.relays = append(p.relays, &poolRelay{url: normalized})
	return nil
}

// Connect starts a dial loop for every relay that does not have one
// yet. Each loop keeps its relay connected until Disconnect, retrying
// with backoff and replaying the pool's filters after every dial.
func (p *NostrPool) Connect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		p.ctx, p.cancel = context.WithCancel(context.Background())
	}
	poolCtx := p.ctx

	for _, r := range p.relays {
		if r.dialCtx == poolCtx {
			continue
		}
		r.dialCtx = poolCtx
		go p.keepConnected(poolCtx, r)
	}
}

// connections live as long as the pool, not the caller of Connect
func (p *NostrPool) keepConnected(poolCtx context.Context, r *poolRelay) {
	delay := minRedialDelay
	for {
		conn, err := nostr.RelayConnect(poolCtx, r.url)
		if err != nil {
			if poolCtx.Err() != nil {
				return
			}
			p.logger.Warn(fmt.Sprintf("could not connect to relay %v, retrying in %v: %v", r.url, delay, err))
			select {
			case <-poolCtx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRedialDelay)
			continue
		}

		if !p.attach(poolCtx, r, conn) {
			conn.Close()
			return
		}
		delay = minRedialDelay

		select {
		case <-poolCtx.Done():
			return
		case <-conn.Context().Done():
		}
		if !p.detach(poolCtx, r, conn) {
			return
		}
		p.logger.Warn(fmt.Sprintf("lost connection to relay %v, redialing in %v", r.url, delay))
		select {
		case <-poolCtx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// attach makes conn the live connection of r and subscribes it to every
// filter of the pool. It reports false when the pool was disconnected
// while dialing.
func (p *NostrPool) attach(poolCtx context.Context, r *poolRelay, conn *nostr.Relay) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != poolCtx || poolCtx.Err() != nil {
		return false
	}

	r.relay = conn
	p.logger.Info(fmt.Sprintf("connected to relay %v", r.url))
	select {
	case <-p.connectedCh:
	default:
		close(p.connectedCh)
	}

	for _, filter := range p.filters {
		if err := p.subscribeRelay(poolCtx, r, filter); err != nil {
			p.logger.Warn(fmt.Sprintf("could not subscribe on relay %v: %v", r.url, err))
		}
	}
	return true
}

// detach forgets a dropped connection. It reports false when the pool
// was disconnected in the meantime.
func (p *NostrPool) detach(poolCtx context.Context, r *poolRelay, conn *nostr.Relay) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != poolCtx || poolCtx.Err() != nil {
		return false
	}
	if r.relay == conn {
		r.relay = nil
	}
	if !p.anyConnected() {
		p.connectedCh = make(chan struct{})
	}
	return true
}

func (p *NostrPool) anyConnected() bool {
	for _, r := range p.relays {
		if r.relay != nil && r.relay.IsConnected() {
			return true
		}
	}
	return false
}

func (p *NostrPool) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
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

func (p *NostrPool) Subscribe(ctx context.Context, filter nostr.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return ErrPoolClosed
	}
	p.filters = append(p.filters, filter)

	var subscribed int
	var lastErr error
	for _, r := range p.relays {
		if r.relay == nil {
			continue
		}
		if err := p.subscribeRelay(p.ctx, r, filter); err != nil {
			p.logger.Warn(fmt.Sprintf("could not subscribe on relay %v: %v", r.url, err))
			lastErr = err
			continue
		}
		subscribed++
	}

	// relays that connect later pick up the filter in attach
	if subscribed == 0 && lastErr != nil {
		p.logger.Warn(fmt.Sprintf("subscription pending until a relay accepts it: %v", lastErr))
	}
	return nil
}

func (p *NostrPool) subscribeRelay(ctx context.Context, r *poolRelay, filter nostr.Filter) error {
	sub, err := r.relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return err
	}

	out := p.notifications
	go func() {
		for {
			select {
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				if seen, _ := p.seen.ContainsOrAdd(evt.ID, struct{}{}); seen {
					continue
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
	return nil
}

// Publish sends evt to every connected relay concurrently and reports
// the outcome per relay. Relays that are not connected report
// ErrNotConnected.
func (p *NostrPool) Publish(ctx context.Context, evt nostr.Event) []PublishResult {
	p.mu.Lock()
	relays := make([]poolRelay, len(p.relays))
	for i, r := range p.relays {
		relays[i] = *r
	}
	p.mu.Unlock()

	results := make([]PublishResult, len(relays))
	var wg sync.WaitGroup
	for i, r := range relays {
		results[i].RelayURL = r.url
		if r.relay == nil || !r.relay.IsConnected() {
			results[i].Error = ErrNotConnected
			continue
		}

		wg.Add(1)
		go func(i int, conn *nostr.Relay) {
			defer wg.Done()
			if err := conn.Publish(ctx, evt); err != nil {
				results[i].Error = err
			}
		}(i, r.relay)
	}
	wg.Wait()

	for _, result := range results {
		if result.Error != nil {
			p.logger.Debug(fmt.Sprintf("event %v not accepted by %v: %v", evt.ID, result.RelayURL, result.Error))
		}
	}
	return results
}

// Notifications returns the channel of the current connection cycle.
// Disconnect replaces it, so callers fetch it again after Connect.
func (p *NostrPool) Notifications() <-chan *nostr.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifications
}

func (p *NostrPool) ConnectedRelays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var urls []string
	for _, r := range p.relays {
		if r.relay != nil && r.relay.IsConnected() {
			urls = append(urls, r.url)
		}
	}
	return urls
}

// Disconnect closes every relay connection and drops all subscriptions
// along with any undelivered notifications. Added relays are kept so
// that Connect can be called again.
func (p *NostrPool) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.ctx, p.cancel = nil, nil

	for _, r := range p.relays {
		if r.relay != nil {
			if err := r.relay.Close(); err != nil {
				p.logger.Debug(fmt.Sprintf("error closing relay %v: %v", r.url, err))
			}
			r.relay = nil
		}
		r.dialCtx = nil
	}
	p.filters = nil
	p.connectedCh = make(chan struct{})
	p.notifications = make(chan *nostr.Event, notificationsSize)
}
