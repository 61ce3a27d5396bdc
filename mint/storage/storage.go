// Package storage defines the persistence the local mint needs.
package storage

import (
	"errors"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
)

var ErrQuoteNotFound = errors.New("quote not found")

// MintDB is everything the local mint persists. A mint served over
// NIP-74 shares the same database as its HTTP API.
type MintDB interface {
	KeysetStore
	ProofStore
	QuoteStore
	SignatureStore

	// GetBalance returns the amount issued minus the amount redeemed.
	GetBalance() (uint64, error)
	Close() error
}

// KeysetStore holds the seed the keysets derive from and their state.
type KeysetStore interface {
	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error
}

// ProofStore records spent proofs by Y.
type ProofStore interface {
	SaveProofs(cashu.Proofs) error
	GetProofsUsed(Ys []string) ([]DBProof, error)
}

// QuoteStore returns ErrQuoteNotFound for unknown quote ids.
type QuoteStore interface {
	SaveMintQuote(MintQuote) error
	GetMintQuote(quoteId string) (MintQuote, error)
	UpdateMintQuoteState(quoteId string, state nut04.State) error

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(quoteId string) (MeltQuote, error)
	UpdateMeltQuote(quoteId string, preimage string, state nut05.State) error
}

type SignatureStore interface {
	SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error
	GetBlindSignature(B_ string) (cashu.BlindedSignature, error)
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)
}

type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	InputFeePpk       uint
}

type DBProof struct {
	Y      string
	Amount uint64
	Id     string
	Secret string
	C      string
}

type MintQuote struct {
	Id             string
	Amount         uint64
	PaymentRequest string
	PaymentHash    string
	State          nut04.State
	Expiry         uint64
}

type MeltQuote struct {
	Id             string
	InvoiceRequest string
	PaymentHash    string
	Amount         uint64
	FeeReserve     uint64
	State          nut05.State
	Expiry         uint64
	Preimage       string
}
