// Package client talks to a Cashu mint over NIP-74: requests are
// encrypted to the mint's nostr key and published to relays, and the
// mint's replies are matched by the e tag of the request event.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/nip74"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/signer"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrTimeout           = errors.New("timed out waiting for reply from mint")
	ErrNotPublished      = errors.New("request not accepted by any relay")
	ErrRequestIdMismatch = errors.New("reply does not match request id")
	ErrNoActiveKeyset    = errors.New("mint has no active sat keyset")
)

type Config struct {
	// MintPubkey is the mint's nostr public key, as npub or hex.
	MintPubkey string
	Relays     []string
	// Timeout bounds the wait for each reply.
	Timeout time.Duration
	Logger  *slog.Logger
}

// MintInfo is the data of an info reply.
type MintInfo struct {
	Info    nut06.MintInfo        `json:"info"`
	Keysets nut01.GetKeysResponse `json:"keysets"`
}

// ActiveKeyset returns the first keyset in sat.
func (mi MintInfo) ActiveKeyset() (nut01.Keyset, error) {
	for _, keyset := range mi.Keysets.Keysets {
		if keyset.Unit == cashu.Sat.String() {
			return keyset, nil
		}
	}
	return nut01.Keyset{}, ErrNoActiveKeyset
}

type Client struct {
	signer     signer.Signer
	pool       relay.Pool
	pubkey     string
	mintPubkey string
	timeout    time.Duration
	logger     *slog.Logger

	// replies arrive on the single notification stream of the pool
	mu sync.Mutex
}

// New connects pool to the relays and subscribes to replies addressed
// to the signer's key.
func New(ctx context.Context, config Config, s signer.Signer, pool relay.Pool) (*Client, error) {
	mintPubkey, err := signer.ParsePublicKey(config.MintPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid mint public key: %w", err)
	}
	if len(config.Relays) == 0 {
		return nil, errors.New("no relays configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pubkey, err := s.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting public key: %w", err)
	}

	for _, url := range config.Relays {
		if err := pool.AddRelay(url); err != nil {
			return nil, err
		}
	}
	pool.Connect(ctx)
	if !pool.WaitForConnection(ctx, config.Timeout) {
		pool.Disconnect()
		return nil, fmt.Errorf("could not connect to any of %v", config.Relays)
	}

	filter := nostr.Filter{
		Kinds:   []int{nip74.KindOperationResult},
		Authors: []string{mintPubkey},
		Tags:    nostr.TagMap{"p": []string{pubkey}},
	}
	if err := pool.Subscribe(ctx, filter); err != nil {
		pool.Disconnect()
		return nil, fmt.Errorf("error subscribing to replies: %w", err)
	}

	return &Client{
		signer:     s,
		pool:       pool,
		pubkey:     pubkey,
		mintPubkey: mintPubkey,
		timeout:    config.Timeout,
		logger:     config.Logger,
	}, nil
}

func (c *Client) MintPubkey() string {
	return c.mintPubkey
}

func (c *Client) Close() {
	c.pool.Disconnect()
}

// Do sends one request and waits for its reply. A reply with status
// error is returned as a result, not as an error.
func (c *Client) Do(ctx context.Context, method nip74.OperationMethod, data any) (nip74.OperationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := nip74.OperationRequest{Method: method, RequestId: nip74.NewRequestID()}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nip74.OperationResult{}, fmt.Errorf("error marshaling request data: %v", err)
		}
		req.Data = payload
	}

	evt, err := nip74.BuildRequestEvent(ctx, req, c.signer, c.mintPubkey)
	if err != nil {
		return nip74.OperationResult{}, err
	}

	results := c.pool.Publish(ctx, *evt)
	if len(relay.Succeeded(results)) == 0 {
		return nip74.OperationResult{}, fmt.Errorf("%w: %v", ErrNotPublished, relay.Failed(results))
	}
	c.logger.Debug(fmt.Sprintf("sent %v request %v in event %v", method, req.RequestId, evt.ID))

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case reply := <-c.pool.Notifications():
			if !c.answers(reply, evt) {
				continue
			}
			result, err := nip74.DecryptResult(ctx, reply, c.signer)
			if err != nil {
				c.logger.Warn(fmt.Sprintf("could not read reply %v: %v", reply.ID, err))
				continue
			}
			if result.RequestId != req.RequestId {
				return nip74.OperationResult{}, fmt.Errorf("%w: sent %v, got %v", ErrRequestIdMismatch, req.RequestId, result.RequestId)
			}
			return result, nil
		case <-timer.C:
			return nip74.OperationResult{}, fmt.Errorf("%w after %v", ErrTimeout, c.timeout)
		case <-ctx.Done():
			return nip74.OperationResult{}, ctx.Err()
		}
	}
}

// answers reports whether reply is the mint's result for request.
// Late replies to earlier requests are skipped here.
func (c *Client) answers(reply *nostr.Event, request *nostr.Event) bool {
	if reply == nil || reply.Kind != nip74.KindOperationResult || reply.PubKey != c.mintPubkey {
		return false
	}
	e, ok := nip74.TagValue(reply, "e")
	return ok && e == request.ID
}

// call runs Do and decodes a success reply into dst. Error replies are
// returned as nip74.ResultError.
func (c *Client) call(ctx context.Context, method nip74.OperationMethod, data any, dst any) error {
	result, err := c.Do(ctx, method, data)
	if err != nil {
		return err
	}
	if result.Status == nip74.Error {
		if result.Error == nil {
			return nip74.ResultError{Code: method.String() + "_failed"}
		}
		return *result.Error
	}
	if err := json.Unmarshal(result.Data, dst); err != nil {
		return fmt.Errorf("error decoding %v reply: %v", method, err)
	}
	return nil
}

func (c *Client) Info(ctx context.Context) (MintInfo, error) {
	var info MintInfo
	err := c.call(ctx, nip74.Info, nil, &info)
	return info, err
}

func (c *Client) RequestMintQuote(ctx context.Context, amount uint64) (nut04.PostMintQuoteBolt11Response, error) {
	req := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: cashu.Sat.String()}
	var quote nut04.PostMintQuoteBolt11Response
	err := c.call(ctx, nip74.GetMintQuote, req, &quote)
	return quote, err
}

func (c *Client) MintQuoteState(ctx context.Context, quoteId string) (nut04.PostMintQuoteBolt11Response, error) {
	var quote nut04.PostMintQuoteBolt11Response
	err := c.call(ctx, nip74.CheckMintQuote, quoteId, &quote)
	return quote, err
}

func (c *Client) MintTokens(ctx context.Context, quoteId string, outputs cashu.BlindedMessages) (nut04.PostMintBolt11Response, error) {
	req := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: outputs}
	var res nut04.PostMintBolt11Response
	err := c.call(ctx, nip74.Mint, req, &res)
	return res, err
}

func (c *Client) RequestMeltQuote(ctx context.Context, invoice string) (nut05.PostMeltQuoteBolt11Response, error) {
	req := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: cashu.Sat.String()}
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.call(ctx, nip74.GetMeltQuote, req, &quote)
	return quote, err
}

func (c *Client) MeltQuoteState(ctx context.Context, quoteId string) (nut05.PostMeltQuoteBolt11Response, error) {
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.call(ctx, nip74.CheckMeltQuote, quoteId, &quote)
	return quote, err
}

func (c *Client) MeltTokens(ctx context.Context, quoteId string, proofs cashu.Proofs) (nut05.PostMeltQuoteBolt11Response, error) {
	req := nut05.PostMeltBolt11Request{Quote: quoteId, Inputs: proofs}
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.call(ctx, nip74.Melt, req, &quote)
	return quote, err
}

// Mint issues proofs for a paid mint quote of amount, blinding the
// outputs for the mint's active keyset.
func (c *Client) Mint(ctx context.Context, quoteId string, amount uint64) (cashu.Proofs, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	keyset, err := info.ActiveKeyset()
	if err != nil {
		return nil, err
	}

	outputs, err := CreateOutputs(amount, keyset.Id)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}
	res, err := c.MintTokens(ctx, quoteId, outputs.BlindedMessages)
	if err != nil {
		return nil, err
	}
	return outputs.ConstructProofs(res.Signatures, keyset)
}
