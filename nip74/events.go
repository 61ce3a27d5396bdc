package nip74

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

const (
	KindMintInfo        = 37400
	KindOperationReq    = 27401
	KindOperationResult = 27402

	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Signer is the subset of the key capability the event builders need.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
	Encrypt(ctx context.Context, plaintext string, recipientPublicKey string) (string, error)
	Decrypt(ctx context.Context, base64ciphertext string, senderPublicKey string) (string, error)
}

// BuildMintInfoEvent builds and signs the kind 37400 discovery event.
// The info is serialized verbatim as plaintext content. identifier goes in
// the d tag and should be stable across restarts so that relays replace
// the previous announcement.
func BuildMintInfoEvent(
	ctx context.Context,
	info any,
	signer Signer,
	identifier string,
	relays []string,
	status string,
	extraTags nostr.Tags,
) (*nostr.Event, error) {
	content, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("error marshaling mint info: %v", err)
	}

	relaysTag := make(nostr.Tag, 0, len(relays)+1)
	relaysTag = append(relaysTag, "relays")
	relaysTag = append(relaysTag, relays...)

	tags := make(nostr.Tags, 0, 3+len(extraTags))
	tags = append(tags,
		nostr.Tag{"d", identifier},
		relaysTag,
		nostr.Tag{"status", status},
	)
	tags = append(tags, extraTags...)

	evt := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      KindMintInfo,
		Tags:      tags,
		Content:   string(content),
	}
	if err := signer.SignEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("error signing mint info event: %v", err)
	}
	return evt, nil
}

// BuildRequestEvent encrypts req to the mint and signs a kind 27401 event.
func BuildRequestEvent(ctx context.Context, req OperationRequest, signer Signer, mintPubkey string) (*nostr.Event, error) {
	plaintext, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %v", err)
	}

	ciphertext, err := signer.Encrypt(ctx, string(plaintext), mintPubkey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting request: %v", err)
	}

	evt := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      KindOperationReq,
		Tags:      nostr.Tags{{"p", mintPubkey}},
		Content:   ciphertext,
	}
	if err := signer.SignEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("error signing request event: %v", err)
	}
	return evt, nil
}

// BuildResultEvent encrypts res to the author of requestEvt and signs a
// kind 27402 event tagged with the requester (p) and the request id (e).
func BuildResultEvent(
	ctx context.Context,
	res OperationResult,
	signer Signer,
	requestEvt *nostr.Event,
	extraTags nostr.Tags,
) (*nostr.Event, error) {
	plaintext, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("error marshaling result: %v", err)
	}

	ciphertext, err := signer.Encrypt(ctx, string(plaintext), requestEvt.PubKey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting result: %v", err)
	}

	tags := make(nostr.Tags, 0, 2+len(extraTags))
	tags = append(tags,
		nostr.Tag{"p", requestEvt.PubKey},
		nostr.Tag{"e", requestEvt.ID},
	)
	tags = append(tags, extraTags...)

	evt := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      KindOperationResult,
		Tags:      tags,
		Content:   ciphertext,
	}
	if err := signer.SignEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("error signing result event: %v", err)
	}
	return evt, nil
}

// DecryptRequest opens a kind 27401 event addressed to signer.
func DecryptRequest(ctx context.Context, evt *nostr.Event, signer Signer) (OperationRequest, error) {
	if evt.Kind != KindOperationReq {
		return OperationRequest{}, fmt.Errorf("%w: kind %d is not a request", ErrInvalidMessage, evt.Kind)
	}

	plaintext, err := signer.Decrypt(ctx, evt.Content, evt.PubKey)
	if err != nil {
		return OperationRequest{}, fmt.Errorf("error decrypting request: %w", err)
	}

	var req OperationRequest
	if err := json.Unmarshal([]byte(plaintext), &req); err != nil {
		return OperationRequest{}, fmt.Errorf("error decoding request: %w", err)
	}
	return req, nil
}

// DecryptResult opens a kind 27402 event addressed to signer.
func DecryptResult(ctx context.Context, evt *nostr.Event, signer Signer) (OperationResult, error) {
	if evt.Kind != KindOperationResult {
		return OperationResult{}, fmt.Errorf("%w: kind %d is not a result", ErrInvalidMessage, evt.Kind)
	}

	plaintext, err := signer.Decrypt(ctx, evt.Content, evt.PubKey)
	if err != nil {
		return OperationResult{}, fmt.Errorf("error decrypting result: %w", err)
	}

	var res OperationResult
	if err := json.Unmarshal([]byte(plaintext), &res); err != nil {
		return OperationResult{}, fmt.Errorf("error decoding result: %w", err)
	}
	return res, nil
}

// TagValue returns the first value of the first tag named key.
func TagValue(evt *nostr.Event, key string) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns the first value of every tag named key.
func TagValues(evt *nostr.Event, key string) []string {
	var values []string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == key {
			values = append(values, tag[1])
		}
	}
	return values
}
