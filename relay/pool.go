// Package relay provides the pub/sub capability the NIP-74 service
// talks to: a pool of Nostr relays, or an in-process hub.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

var (
	ErrInvalidRelayURL = errors.New("invalid relay url")
	ErrNotConnected    = errors.New("relay not connected")
	ErrPoolClosed      = errors.New("relay pool disconnected")
)

// PublishResult is the outcome of publishing one event to one relay.
type PublishResult struct {
	RelayURL string
	Error    error
}

// Pool is a set of relays that events are published to and received from.
type Pool interface {
	AddRelay(url string) error
	// Connect starts connecting to every added relay. It does not wait for
	// connections to be established.
	Connect(ctx context.Context)
	// WaitForConnection blocks until at least one relay is connected or the
	// timeout expires. It reports whether a relay is connected.
	WaitForConnection(ctx context.Context, timeout time.Duration) bool
	// Subscribe registers filter on every relay, including relays that
	// connect later. Matching events are delivered on Notifications.
	Subscribe(ctx context.Context, filter nostr.Filter) error
	Publish(ctx context.Context, evt nostr.Event) []PublishResult
	Notifications() <-chan *nostr.Event
	ConnectedRelays() []string
	Disconnect()
}

// Succeeded returns the relays that accepted the event.
func Succeeded(results []PublishResult) []string {
	var urls []string
	for _, r := range results {
		if r.Error == nil {
			urls = append(urls, r.RelayURL)
		}
	}
	return urls
}

// Failed returns the relays that did not accept the event.
func Failed(results []PublishResult) map[string]error {
	failed := make(map[string]error)
	for _, r := range results {
		if r.Error != nil {
			failed[r.RelayURL] = r.Error
		}
	}
	return failed
}
