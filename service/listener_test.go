package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/purrmint/purrmint/nip74"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/signer"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSigner(t *testing.T) *signer.LocalSigner {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("unexpected error generating key: %v", err)
	}
	return s
}

func connectedPool(t *testing.T, hub *relay.Hub, filters ...nostr.Filter) *relay.MemoryPool {
	t.Helper()
	ctx := context.Background()
	pool := relay.NewMemoryPool(hub, discardLogger)
	if err := pool.AddRelay("memory://relay"); err != nil {
		t.Fatalf("unexpected error adding relay: %v", err)
	}
	pool.Connect(ctx)
	for _, filter := range filters {
		if err := pool.Subscribe(ctx, filter); err != nil {
			t.Fatalf("unexpected error subscribing: %v", err)
		}
	}
	return pool
}

func receive(t *testing.T, ch <-chan *nostr.Event) *nostr.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func expectNothing(t *testing.T, ch <-chan *nostr.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("expected no event but got kind %v", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

var echoHandler = nip74.HandlerFunc(func(ctx context.Context, req nip74.OperationRequest) (nip74.OperationResult, error) {
	return nip74.NewSuccessResult(req, map[string]string{"method": req.Method.String()})
})

type listenerTest struct {
	mint       *signer.LocalSigner
	client     *signer.LocalSigner
	listener   *listener
	clientPool *relay.MemoryPool
}

func setupListener(t *testing.T, handler nip74.RequestHandler) *listenerTest {
	t.Helper()
	hub := relay.NewHub()
	mintSigner := newSigner(t)
	return &listenerTest{
		mint:   mintSigner,
		client: newSigner(t),
		listener: &listener{
			pool:    connectedPool(t, hub, nostr.Filter{Kinds: []int{nip74.KindOperationReq}}),
			signer:  mintSigner,
			handler: handler,
			pubkey:  mintSigner.PublicKey(),
			logger:  discardLogger,
		},
		clientPool: connectedPool(t, hub, nostr.Filter{Kinds: []int{nip74.KindOperationResult}}),
	}
}

func (lt *listenerTest) request(t *testing.T, method nip74.OperationMethod, data string) (*nostr.Event, nip74.OperationRequest) {
	t.Helper()
	req := nip74.OperationRequest{Method: method, RequestId: nip74.NewRequestID()}
	if data != "" {
		req.Data = json.RawMessage(data)
	}
	evt, err := nip74.BuildRequestEvent(context.Background(), req, lt.client, lt.mint.PublicKey())
	if err != nil {
		t.Fatalf("unexpected error building request: %v", err)
	}
	return evt, req
}

func (lt *listenerTest) result(t *testing.T, requestEvt *nostr.Event) nip74.OperationResult {
	t.Helper()
	reply := receive(t, lt.clientPool.Notifications())
	if e, _ := nip74.TagValue(reply, "e"); e != requestEvt.ID {
		t.Fatalf("expected e tag '%v' but got '%v'", requestEvt.ID, e)
	}
	if p, _ := nip74.TagValue(reply, "p"); p != lt.client.PublicKey() {
		t.Fatalf("expected p tag '%v' but got '%v'", lt.client.PublicKey(), p)
	}
	if reply.PubKey != lt.mint.PublicKey() {
		t.Fatalf("expected reply from '%v' but got '%v'", lt.mint.PublicKey(), reply.PubKey)
	}

	result, err := nip74.DecryptResult(context.Background(), reply, lt.client)
	if err != nil {
		t.Fatalf("unexpected error decrypting result: %v", err)
	}
	return result
}

func TestListenerCorrelation(t *testing.T) {
	lt := setupListener(t, echoHandler)
	ctx := context.Background()

	for _, method := range nip74.Methods {
		evt, req := lt.request(t, method, "")
		if outcome := lt.listener.process(ctx, evt); outcome != replied {
			t.Fatalf("expected request to be replied but was %v", outcome)
		}

		result := lt.result(t, evt)
		if result.RequestId != req.RequestId {
			t.Fatalf("expected request id '%v' but got '%v'", req.RequestId, result.RequestId)
		}
		if result.Status != nip74.Success {
			t.Fatalf("expected status '%v' but got '%v'", nip74.Success, result.Status)
		}
		var data map[string]string
		if err := json.Unmarshal(result.Data, &data); err != nil {
			t.Fatalf("unexpected error decoding data: %v", err)
		}
		if data["method"] != method.String() {
			t.Fatalf("expected method '%v' but got '%v'", method, data["method"])
		}
	}
}

func TestListenerIgnoresOtherEvents(t *testing.T) {
	lt := setupListener(t, echoHandler)
	ctx := context.Background()

	note := &nostr.Event{Kind: 1, Content: "hello", CreatedAt: nostr.Now()}
	lt.client.SignEvent(ctx, note)
	if outcome := lt.listener.process(ctx, note); outcome != ignored {
		t.Fatalf("expected kind 1 event to be ignored but was %v", outcome)
	}

	// addressed to another mint
	other := newSigner(t)
	req := nip74.OperationRequest{Method: nip74.Info, RequestId: "x"}
	evt, err := nip74.BuildRequestEvent(ctx, req, lt.client, other.PublicKey())
	if err != nil {
		t.Fatalf("unexpected error building request: %v", err)
	}
	if outcome := lt.listener.process(ctx, evt); outcome != ignored {
		t.Fatalf("expected request for another mint to be ignored but was %v", outcome)
	}
	expectNothing(t, lt.clientPool.Notifications())
}

func TestListenerDecryptFailureIsolation(t *testing.T) {
	lt := setupListener(t, echoHandler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		lt.listener.run(ctx)
	}()

	// encrypted to another key and published without a p tag, so the
	// listener has to try decrypting it
	other := newSigner(t)
	bad, err := nip74.BuildRequestEvent(ctx, nip74.OperationRequest{Method: nip74.Info, RequestId: "bad"}, lt.client, other.PublicKey())
	if err != nil {
		t.Fatalf("unexpected error building request: %v", err)
	}
	bad.Tags = nostr.Tags{}
	if err := lt.client.SignEvent(ctx, bad); err != nil {
		t.Fatalf("unexpected error signing: %v", err)
	}
	if outcome := lt.listener.process(ctx, bad); outcome != dropped {
		t.Fatalf("expected undecryptable request to be dropped but was %v", outcome)
	}

	good, req := lt.request(t, nip74.Info, "")
	for _, evt := range []*nostr.Event{bad, good} {
		if results := lt.clientPool.Publish(ctx, *evt); len(relay.Succeeded(results)) != 1 {
			t.Fatalf("expected publish to succeed but got %v", relay.Failed(results))
		}
	}

	result := lt.result(t, good)
	if result.RequestId != req.RequestId {
		t.Fatalf("expected request id '%v' but got '%v'", req.RequestId, result.RequestId)
	}
	expectNothing(t, lt.clientPool.Notifications())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListenerMalformedRequest(t *testing.T) {
	lt := setupListener(t, echoHandler)
	ctx := context.Background()

	payloads := []string{
		`not json`,
		`{"method":"frobnicate","request_id":"x"}`,
		`{"request_id":"x"}`,
	}
	for _, payload := range payloads {
		ciphertext, err := lt.client.Encrypt(ctx, payload, lt.mint.PublicKey())
		if err != nil {
			t.Fatalf("unexpected error encrypting: %v", err)
		}
		evt := &nostr.Event{
			Kind:      nip74.KindOperationReq,
			CreatedAt: nostr.Now(),
			Tags:      nostr.Tags{{"p", lt.mint.PublicKey()}},
			Content:   ciphertext,
		}
		lt.client.SignEvent(ctx, evt)

		if outcome := lt.listener.process(ctx, evt); outcome != dropped {
			t.Fatalf("expected '%v' to be dropped but was %v", payload, outcome)
		}
	}

	// tampered event
	evt, _ := lt.request(t, nip74.Info, "")
	evt.CreatedAt++
	if outcome := lt.listener.process(ctx, evt); outcome != dropped {
		t.Fatalf("expected event with bad signature to be dropped but was %v", outcome)
	}
	expectNothing(t, lt.clientPool.Notifications())
}

func TestListenerHandlerVsBusinessError(t *testing.T) {
	errIO := errors.New("disk on fire")
	handler := nip74.HandlerFunc(func(ctx context.Context, req nip74.OperationRequest) (nip74.OperationResult, error) {
		if req.Method == nip74.CheckMintQuote {
			return nip74.NewErrorResult(req, "check_mint_quote_failed", "quote does not exist"), nil
		}
		return nip74.OperationResult{}, errIO
	})
	lt := setupListener(t, handler)
	ctx := context.Background()

	evt, req := lt.request(t, nip74.CheckMintQuote, `"a2f5c0a8-8b7d-4d7a-9a39-0f0e6f3a8c11"`)
	if outcome := lt.listener.process(ctx, evt); outcome != replied {
		t.Fatalf("expected business error to be replied but was %v", outcome)
	}
	result := lt.result(t, evt)
	if result.Status != nip74.Error || result.RequestId != req.RequestId {
		t.Fatalf("expected error result for '%v' but got %+v", req.RequestId, result)
	}
	if result.Error == nil || result.Error.Code != "check_mint_quote_failed" {
		t.Fatalf("expected code 'check_mint_quote_failed' but got %+v", result.Error)
	}

	evt, _ = lt.request(t, nip74.Mint, `{}`)
	if outcome := lt.listener.process(ctx, evt); outcome != dropped {
		t.Fatalf("expected handler failure to be dropped but was %v", outcome)
	}
	expectNothing(t, lt.clientPool.Notifications())
}

func TestListenerCancelledDuringHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := nip74.HandlerFunc(func(hctx context.Context, req nip74.OperationRequest) (nip74.OperationResult, error) {
		// stop arrives while the request is being handled
		cancel()
		return nip74.NewSuccessResult(req, nil)
	})
	lt := setupListener(t, handler)

	evt, _ := lt.request(t, nip74.Info, "")
	if outcome := lt.listener.process(ctx, evt); outcome != dropped {
		t.Fatalf("expected in-flight request to be abandoned but was %v", outcome)
	}
	expectNothing(t, lt.clientPool.Notifications())
}

func TestListenerHandlerPanic(t *testing.T) {
	handler := nip74.HandlerFunc(func(ctx context.Context, req nip74.OperationRequest) (nip74.OperationResult, error) {
		if req.Method == nip74.Mint {
			panic("keyset index out of range")
		}
		return echoHandler(ctx, req)
	})
	lt := setupListener(t, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		lt.listener.run(ctx)
	}()

	bad, _ := lt.request(t, nip74.Mint, `{}`)
	if outcome := lt.listener.process(ctx, bad); outcome != dropped {
		t.Fatalf("expected panicking request to be dropped but was %v", outcome)
	}

	good, req := lt.request(t, nip74.Info, "")
	for _, evt := range []*nostr.Event{bad, good} {
		if results := lt.clientPool.Publish(ctx, *evt); len(relay.Succeeded(results)) != 1 {
			t.Fatalf("expected publish to succeed but got %v", relay.Failed(results))
		}
	}

	result := lt.result(t, good)
	if result.RequestId != req.RequestId {
		t.Fatalf("expected request id '%v' but got '%v'", req.RequestId, result.RequestId)
	}
	expectNothing(t, lt.clientPool.Notifications())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}
