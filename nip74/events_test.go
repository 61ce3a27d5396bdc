package nip74

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/purrmint/purrmint/signer"
)

func newTestSigner(t *testing.T) *signer.LocalSigner {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("error generating signer: %v", err)
	}
	return s
}

func TestBuildMintInfoEvent(t *testing.T) {
	ctx := context.Background()
	mintSigner := newTestSigner(t)

	info := map[string]any{"name": "demo-mint", "version": "purrmint/0.1.0"}
	relays := []string{"wss://relay.one", "wss://relay.two"}

	evt, err := BuildMintInfoEvent(ctx, info, mintSigner, "demo", relays, StatusRunning, nostr.Tags{{"t", "cashu"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if evt.Kind != KindMintInfo {
		t.Fatalf("expected kind %v but got %v", KindMintInfo, evt.Kind)
	}
	if evt.PubKey != mintSigner.PublicKey() {
		t.Fatalf("expected pubkey '%v' but got '%v'", mintSigner.PublicKey(), evt.PubKey)
	}
	if ok, err := evt.CheckSignature(); !ok || err != nil {
		t.Fatalf("invalid signature on mint info event: %v", err)
	}

	expectedTags := nostr.Tags{
		{"d", "demo"},
		{"relays", "wss://relay.one", "wss://relay.two"},
		{"status", "running"},
		{"t", "cashu"},
	}
	if !reflect.DeepEqual(expectedTags, evt.Tags) {
		t.Fatalf("expected tags '%v' but got '%v'", expectedTags, evt.Tags)
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(evt.Content), &content); err != nil {
		t.Fatalf("mint info content is not plaintext json: %v", err)
	}
	if content["name"] != "demo-mint" {
		t.Fatalf("expected name 'demo-mint' but got '%v'", content["name"])
	}
}

func TestRequestResultEvents(t *testing.T) {
	ctx := context.Background()
	mintSigner := newTestSigner(t)
	clientSigner := newTestSigner(t)

	req := OperationRequest{
		Method:    Info,
		RequestId: "11111111-1111-1111-1111-111111111111",
		Data:      json.RawMessage(`{}`),
	}

	reqEvt, err := BuildRequestEvent(ctx, req, clientSigner, mintSigner.PublicKey())
	if err != nil {
		t.Fatalf("unexpected error building request: %v", err)
	}
	if reqEvt.Kind != KindOperationReq {
		t.Fatalf("expected kind %v but got %v", KindOperationReq, reqEvt.Kind)
	}
	if p, _ := TagValue(reqEvt, "p"); p != mintSigner.PublicKey() {
		t.Fatalf("expected p tag '%v' but got '%v'", mintSigner.PublicKey(), p)
	}
	if reqEvt.Content == string(mustMarshal(t, req)) {
		t.Fatal("request content was not encrypted")
	}

	decodedReq, err := DecryptRequest(ctx, reqEvt, mintSigner)
	if err != nil {
		t.Fatalf("unexpected error decrypting request: %v", err)
	}
	if !reflect.DeepEqual(req, decodedReq) {
		t.Fatalf("expected request '%+v' but got '%+v'", req, decodedReq)
	}

	res, err := NewSuccessResult(decodedReq, map[string]string{"name": "demo-mint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resEvt, err := BuildResultEvent(ctx, res, mintSigner, reqEvt, nil)
	if err != nil {
		t.Fatalf("unexpected error building result: %v", err)
	}
	if resEvt.Kind != KindOperationResult {
		t.Fatalf("expected kind %v but got %v", KindOperationResult, resEvt.Kind)
	}
	if e, _ := TagValue(resEvt, "e"); e != reqEvt.ID {
		t.Fatalf("expected e tag '%v' but got '%v'", reqEvt.ID, e)
	}
	if p, _ := TagValue(resEvt, "p"); p != clientSigner.PublicKey() {
		t.Fatalf("expected p tag '%v' but got '%v'", clientSigner.PublicKey(), p)
	}
	if ok, err := resEvt.CheckSignature(); !ok || err != nil {
		t.Fatalf("invalid signature on result event: %v", err)
	}

	decodedRes, err := DecryptResult(ctx, resEvt, clientSigner)
	if err != nil {
		t.Fatalf("unexpected error decrypting result: %v", err)
	}
	if decodedRes.RequestId != req.RequestId {
		t.Fatalf("expected request id '%v' but got '%v'", req.RequestId, decodedRes.RequestId)
	}
}

func TestDecryptRequestWrongRecipient(t *testing.T) {
	ctx := context.Background()
	mintSigner := newTestSigner(t)
	otherMint := newTestSigner(t)
	clientSigner := newTestSigner(t)

	req := OperationRequest{Method: Info, RequestId: NewRequestID()}
	reqEvt, err := BuildRequestEvent(ctx, req, clientSigner, otherMint.PublicKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := DecryptRequest(ctx, reqEvt, mintSigner); err == nil {
		t.Fatal("expected error decrypting request addressed to another mint")
	}

	resEvt := &nostr.Event{Kind: KindOperationResult}
	if _, err := DecryptRequest(ctx, resEvt, mintSigner); err == nil {
		t.Fatal("expected error decrypting event of wrong kind")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
