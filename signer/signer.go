// Package signer provides the key capability the NIP-74 service signs
// and encrypts with.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Signer holds a key that can sign events and run NIP-44 with a
// counterparty. It has the same method set as go-nostr's Keyer, so
// remote signers can be used in place of a LocalSigner.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
	Encrypt(ctx context.Context, plaintext string, recipientPublicKey string) (string, error)
	Decrypt(ctx context.Context, base64ciphertext string, senderPublicKey string) (string, error)
}

var ErrInvalidKey = errors.New("invalid nostr key")

const conversationKeyCacheSize = 256

// LocalSigner signs with a secret key held in memory.
type LocalSigner struct {
	secretKey string
	publicKey string

	// conversation keys by counterparty pubkey
	conversations *lru.Cache[string, [32]byte]
}

// NewLocalSigner accepts a secret key as nsec or 64 char hex.
func NewLocalSigner(key string) (*LocalSigner, error) {
	sk, err := ParseSecretKey(key)
	if err != nil {
		return nil, err
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	cache, err := lru.New[string, [32]byte](conversationKeyCacheSize)
	if err != nil {
		return nil, err
	}

	return &LocalSigner{secretKey: sk, publicKey: pk, conversations: cache}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*LocalSigner, error) {
	return NewLocalSigner(nostr.GeneratePrivateKey())
}

func (s *LocalSigner) GetPublicKey(ctx context.Context) (string, error) {
	return s.publicKey, nil
}

// PublicKey is GetPublicKey without the context for callers that know
// they hold a local key.
func (s *LocalSigner) PublicKey() string {
	return s.publicKey
}

// SecretKeyBytes returns the raw 32 byte secret key.
func (s *LocalSigner) SecretKeyBytes() []byte {
	sk, _ := hex.DecodeString(s.secretKey)
	return sk
}

// Nsec returns the secret key in bech32.
func (s *LocalSigner) Nsec() (string, error) {
	return nip19.EncodePrivateKey(s.secretKey)
}

// Npub returns the public key in bech32.
func (s *LocalSigner) Npub() (string, error) {
	return nip19.EncodePublicKey(s.publicKey)
}

func (s *LocalSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(s.secretKey)
}

func (s *LocalSigner) Encrypt(ctx context.Context, plaintext string, recipientPublicKey string) (string, error) {
	ck, err := s.conversationKey(recipientPublicKey)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, ck)
}

func (s *LocalSigner) Decrypt(ctx context.Context, base64ciphertext string, senderPublicKey string) (string, error) {
	ck, err := s.conversationKey(senderPublicKey)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(base64ciphertext, ck)
}

func (s *LocalSigner) conversationKey(counterparty string) ([32]byte, error) {
	if ck, ok := s.conversations.Get(counterparty); ok {
		return ck, nil
	}

	if !nostr.IsValidPublicKey(counterparty) {
		return [32]byte{}, fmt.Errorf("%w: counterparty pubkey %q", ErrInvalidKey, counterparty)
	}
	ck, err := nip44.GenerateConversationKey(counterparty, s.secretKey)
	if err != nil {
		return [32]byte{}, err
	}
	s.conversations.Add(counterparty, ck)
	return ck, nil
}

// ParseSecretKey returns the hex secret key for an nsec or hex input.
func ParseSecretKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if strings.HasPrefix(key, "nsec1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidKey, prefix)
		}
		sk, ok := value.(string)
		if !ok {
			return "", ErrInvalidKey
		}
		return sk, nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil || len(keyBytes) != 32 {
		return "", fmt.Errorf("%w: expected nsec or 32 byte hex", ErrInvalidKey)
	}
	return strings.ToLower(key), nil
}

// ParsePublicKey returns the hex public key for an npub or hex input.
func ParsePublicKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "npub1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidKey, prefix)
		}
		pk, ok := value.(string)
		if !ok {
			return "", ErrInvalidKey
		}
		return pk, nil
	}

	key = strings.ToLower(key)
	if !nostr.IsValidPublicKey(key) {
		return "", fmt.Errorf("%w: expected npub or 32 byte hex", ErrInvalidKey)
	}
	return key, nil
}

// NsecToNpub converts a secret key (nsec or hex) to its npub.
func NsecToNpub(nsec string) (string, error) {
	s, err := NewLocalSigner(nsec)
	if err != nil {
		return "", err
	}
	return s.Npub()
}
