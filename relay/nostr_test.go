package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"
)

// testRelay is a minimal NIP-01 relay: it stores every event, answers
// EVENT with OK and REQ with the stored matches followed by EOSE, and
// forwards new events to open subscriptions.
type testRelay struct {
	server *httptest.Server
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	events  []*nostr.Event
	conns   map[*testConn]struct{}
	refuse  bool
	reject  string
	dialled int
}

type testConn struct {
	conn *websocket.Conn
	subs map[string]nostr.Filters
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{conns: make(map[*testConn]struct{})}
	tr.ctx, tr.cancel = context.WithCancel(context.Background())
	tr.server = httptest.NewServer(http.HandlerFunc(tr.serve))
	t.Cleanup(func() {
		tr.cancel()
		tr.drop()
		tr.server.Close()
	})
	return tr
}

func (tr *testRelay) url() string {
	return "ws" + strings.TrimPrefix(tr.server.URL, "http")
}

func (tr *testRelay) serve(w http.ResponseWriter, r *http.Request) {
	tr.mu.Lock()
	tr.dialled++
	refuse := tr.refuse
	tr.mu.Unlock()
	if refuse {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &testConn{conn: conn, subs: make(map[string]nostr.Filters)}
	tr.mu.Lock()
	tr.conns[c] = struct{}{}
	tr.mu.Unlock()
	defer func() {
		tr.mu.Lock()
		delete(tr.conns, c)
		tr.mu.Unlock()
		conn.CloseNow()
	}()

	for {
		_, message, err := conn.Read(tr.ctx)
		if err != nil {
			return
		}
		switch env := nostr.ParseMessage(message).(type) {
		case *nostr.EventEnvelope:
			tr.mu.Lock()
			reject := tr.reject
			tr.mu.Unlock()
			if reject == "" {
				tr.broadcast(&env.Event)
			}
			c.send(tr.ctx, nostr.OKEnvelope{EventID: env.Event.ID, OK: reject == "", Reason: reject})
		case *nostr.ReqEnvelope:
			var matched []*nostr.Event
			tr.mu.Lock()
			c.subs[env.SubscriptionID] = env.Filters
			for _, evt := range tr.events {
				if env.Filters.Match(evt) {
					matched = append(matched, evt)
				}
			}
			tr.mu.Unlock()
			for _, evt := range matched {
				c.send(tr.ctx, nostr.EventEnvelope{SubscriptionID: &env.SubscriptionID, Event: *evt})
			}
			c.send(tr.ctx, nostr.EOSEEnvelope(env.SubscriptionID))
		case *nostr.CloseEnvelope:
			tr.mu.Lock()
			delete(c.subs, string(*env))
			tr.mu.Unlock()
		}
	}
}

// broadcast stores evt and sends it to every matching subscription.
func (tr *testRelay) broadcast(evt *nostr.Event) {
	type delivery struct {
		conn  *testConn
		subId string
	}
	var deliveries []delivery

	tr.mu.Lock()
	tr.events = append(tr.events, evt)
	for c := range tr.conns {
		for id, filters := range c.subs {
			if filters.Match(evt) {
				deliveries = append(deliveries, delivery{c, id})
			}
		}
	}
	tr.mu.Unlock()

	for _, d := range deliveries {
		subId := d.subId
		d.conn.send(tr.ctx, nostr.EventEnvelope{SubscriptionID: &subId, Event: *evt})
	}
}

// drop closes every open connection without a close handshake.
func (tr *testRelay) drop() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for c := range tr.conns {
		c.conn.CloseNow()
	}
}

func (tr *testRelay) setRefuse(refuse bool) {
	tr.mu.Lock()
	tr.refuse = refuse
	tr.mu.Unlock()
}

func (tr *testRelay) dials() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.dialled
}

func (c *testConn) send(ctx context.Context, env interface{ MarshalJSON() ([]byte, error) }) {
	msg, err := env.MarshalJSON()
	if err != nil {
		return
	}
	c.conn.Write(ctx, websocket.MessageText, msg)
}

func signedEvent(t *testing.T, kind int, content string) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{Kind: kind, Content: content, CreatedAt: nostr.Now(), Tags: nostr.Tags{}}
	if err := evt.Sign(nostr.GeneratePrivateKey()); err != nil {
		t.Fatalf("unexpected error signing event: %v", err)
	}
	return evt
}

func newTestPool(t *testing.T, relays ...*testRelay) *NostrPool {
	t.Helper()
	pool, err := NewNostrPool(discardLogger)
	if err != nil {
		t.Fatalf("unexpected error creating pool: %v", err)
	}
	for _, tr := range relays {
		if err := pool.AddRelay(tr.url()); err != nil {
			t.Fatalf("unexpected error adding relay: %v", err)
		}
	}
	t.Cleanup(pool.Disconnect)
	return pool
}

func waitConnected(t *testing.T, pool *NostrPool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(pool.ConnectedRelays()) == n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %v connected relays but got %v", n, len(pool.ConnectedRelays()))
}

func TestNostrPoolAddRelay(t *testing.T) {
	pool, err := NewNostrPool(discardLogger)
	if err != nil {
		t.Fatalf("unexpected error creating pool: %v", err)
	}

	for _, url := range []string{"", "https://relay.example.com", "memory://relay"} {
		if err := pool.AddRelay(url); !errors.Is(err, ErrInvalidRelayURL) {
			t.Fatalf("expected error '%v' for %q but got '%v'", ErrInvalidRelayURL, url, err)
		}
	}
	if err := pool.AddRelay("wss://relay.example.com"); err != nil {
		t.Fatalf("unexpected error adding relay: %v", err)
	}
	// same relay after normalization
	if err := pool.AddRelay("wss://relay.example.com/"); err != nil {
		t.Fatalf("unexpected error adding relay: %v", err)
	}
	if len(pool.relays) != 1 {
		t.Fatalf("expected 1 relay but got %v", len(pool.relays))
	}

	if err := pool.Subscribe(context.Background(), nostr.Filter{Kinds: []int{1}}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected error '%v' but got '%v'", ErrPoolClosed, err)
	}
}

func TestNostrPoolDeduplicatesAcrossRelays(t *testing.T) {
	ctx := context.Background()
	relay1, relay2 := newTestRelay(t), newTestRelay(t)
	evt := signedEvent(t, 1, "on both relays")
	relay1.broadcast(evt)
	relay2.broadcast(evt)

	pool := newTestPool(t, relay1, relay2)
	pool.Connect(ctx)
	waitConnected(t, pool, 2)
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{1}}); err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}

	if got := receive(t, pool.Notifications()); got.ID != evt.ID {
		t.Fatalf("expected event '%v' but got '%v'", evt.ID, got.ID)
	}
	expectNothing(t, pool.Notifications())
}

func TestNostrPoolReplaysFiltersOnLateConnect(t *testing.T) {
	ctx := context.Background()
	tr := newTestRelay(t)
	tr.setRefuse(true)

	pool := newTestPool(t, tr)
	pool.Connect(ctx)
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{1}}); err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}
	if pool.WaitForConnection(ctx, 100*time.Millisecond) {
		t.Fatal("expected no connection while the relay refuses")
	}

	// the first dial failed, the retry finds the relay up
	tr.setRefuse(false)
	if !pool.WaitForConnection(ctx, 5*time.Second) {
		t.Fatal("expected pool to connect once the relay accepts")
	}
	if tr.dials() < 2 {
		t.Fatalf("expected the relay to be dialled again but got %v dials", tr.dials())
	}

	evt := signedEvent(t, 1, "after connect")
	tr.broadcast(evt)
	if got := receive(t, pool.Notifications()); got.ID != evt.ID {
		t.Fatalf("expected event '%v' but got '%v'", evt.ID, got.ID)
	}
}

func TestNostrPoolPublishResults(t *testing.T) {
	ctx := context.Background()
	accepting, rejecting := newTestRelay(t), newTestRelay(t)
	rejecting.reject = "blocked: no thanks"

	pool := newTestPool(t, accepting, rejecting)
	if err := pool.AddRelay("ws://127.0.0.1:1"); err != nil {
		t.Fatalf("unexpected error adding relay: %v", err)
	}
	pool.Connect(ctx)
	waitConnected(t, pool, 2)

	evt := signedEvent(t, 1, "publish me")
	results := pool.Publish(ctx, *evt)
	if len(results) != 3 {
		t.Fatalf("expected 3 results but got %v", len(results))
	}

	succeeded := Succeeded(results)
	if len(succeeded) != 1 || succeeded[0] != nostr.NormalizeURL(accepting.url()) {
		t.Fatalf("expected only '%v' to accept but got %v", accepting.url(), succeeded)
	}
	failed := Failed(results)
	if err := failed[nostr.NormalizeURL(rejecting.url())]; err == nil || !strings.Contains(err.Error(), "no thanks") {
		t.Fatalf("expected rejection reason but got '%v'", err)
	}
	if err := failed["ws://127.0.0.1:1"]; !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected error '%v' but got '%v'", ErrNotConnected, err)
	}
}

func TestNostrPoolReconnectAfterDrop(t *testing.T) {
	ctx := context.Background()
	tr := newTestRelay(t)

	pool := newTestPool(t, tr)
	pool.Connect(ctx)
	waitConnected(t, pool, 1)
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{1}}); err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}

	tr.drop()
	deadline := time.Now().Add(5 * time.Second)
	for tr.dials() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	waitConnected(t, pool, 1)

	// the subscription was replayed on the new connection
	evt := signedEvent(t, 1, "after redial")
	tr.broadcast(evt)
	if got := receive(t, pool.Notifications()); got.ID != evt.ID {
		t.Fatalf("expected event '%v' but got '%v'", evt.ID, got.ID)
	}
}

func TestNostrPoolDisconnectConnect(t *testing.T) {
	ctx := context.Background()
	tr := newTestRelay(t)

	pool := newTestPool(t, tr)
	pool.Connect(ctx)
	waitConnected(t, pool, 1)
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{1}}); err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}

	// delivered to the pool but never read
	stale := signedEvent(t, 1, "stale")
	tr.broadcast(stale)
	time.Sleep(100 * time.Millisecond)

	pool.Disconnect()
	if urls := pool.ConnectedRelays(); len(urls) != 0 {
		t.Fatalf("expected no connected relays but got %v", urls)
	}
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{1}}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected error '%v' but got '%v'", ErrPoolClosed, err)
	}
	results := pool.Publish(ctx, *signedEvent(t, 1, "offline"))
	if err := Failed(results)[nostr.NormalizeURL(tr.url())]; !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected error '%v' but got '%v'", ErrNotConnected, err)
	}

	pool.Connect(ctx)
	waitConnected(t, pool, 1)
	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{2}}); err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}
	fresh := signedEvent(t, 2, "fresh")
	tr.broadcast(fresh)
	if got := receive(t, pool.Notifications()); got.ID != fresh.ID {
		t.Fatalf("expected event '%v' but got '%v'", fresh.ID, got.ID)
	}
	expectNothing(t, pool.Notifications())
}
