// Package cashu contains the core structs of the Cashu protocol
// used by the local mint and the NIP-74 client.
package cashu

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
)

type Unit int

const (
	Sat Unit = iota

	BOLT11_METHOD = "bolt11"
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidTokenV4 = errors.New("invalid V4 token")
	ErrInvalidUnit    = errors.New("invalid unit")
)

// Cashu BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str, Id: id}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, msg := range bm {
		totalAmount += msg.Amount
	}
	return totalAmount
}

// Cashu BlindedSignature. See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

type Proofs []Proof

// Amount returns the total amount from
// the array of Proof
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

type CashuErrCode int

// Error represents an error to be returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

const (
	StandardErrCode CashuErrCode = 10000
	// never returned in a response. Used to
	// know where the error originated and log it
	DBErrCode               CashuErrCode = 1
	LightningBackendErrCode CashuErrCode = 2

	BlindedMessageAlreadySignedErrCode CashuErrCode = 10002
	InvalidProofErrCode                CashuErrCode = 10003
	ProofAlreadyUsedErrCode            CashuErrCode = 11001
	InsufficientProofAmountErrCode     CashuErrCode = 11002
	UnitErrCode                        CashuErrCode = 11005
	AmountLimitExceeded                CashuErrCode = 11006
	PaymentMethodErrCode               CashuErrCode = 11007
	UnknownKeysetErrCode               CashuErrCode = 12001
	InactiveKeysetErrCode              CashuErrCode = 12002
	MintQuoteRequestNotPaidErrCode     CashuErrCode = 20001
	MintQuoteAlreadyIssuedErrCode      CashuErrCode = 20002
	MintingDisabledErrCode             CashuErrCode = 20003
	MeltQuotePendingErrCode            CashuErrCode = 20005
	MeltQuoteAlreadyPaidErrCode        CashuErrCode = 20006
	MeltQuoteErrCode                   CashuErrCode = 20009
)

var (
	StandardErr                  = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                 = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr             = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	PaymentMethodNotSupportedErr = Error{Detail: "payment method not supported", Code: PaymentMethodErrCode}
	UnitNotSupportedErr          = Error{Detail: "unit not supported", Code: UnitErrCode}
	InvalidBlindedMessageAmount  = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	BlindedMessageAlreadySigned  = Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	MintQuoteRequestNotPaid      = Error{Detail: "quote request has not been paid", Code: MintQuoteRequestNotPaidErrCode}
	MintQuoteAlreadyIssued       = Error{Detail: "quote already issued", Code: MintQuoteAlreadyIssuedErrCode}
	MintingDisabled              = Error{Detail: "minting is disabled", Code: MintingDisabledErrCode}
	MintAmountExceededErr        = Error{Detail: "max amount for minting exceeded", Code: AmountLimitExceeded}
	MintBalanceExceededErr       = Error{Detail: "mint max balance exceeded", Code: AmountLimitExceeded}
	OutputsOverQuoteAmountErr    = Error{Detail: "sum of the output amounts is greater than quote amount", Code: StandardErrCode}
	ProofAlreadyUsedErr          = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr              = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided             = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs              = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	QuoteNotExistErr             = Error{Detail: "quote does not exist", Code: MeltQuoteErrCode}
	InvalidQuoteIdErr            = Error{Detail: "invalid quote id", Code: StandardErrCode}
	QuotePending                 = Error{Detail: "quote is pending", Code: MeltQuotePendingErrCode}
	MeltQuoteAlreadyPaid         = Error{Detail: "quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
	MeltAmountExceededErr        = Error{Detail: "max amount for melting exceeded", Code: AmountLimitExceeded}
	InsufficientProofsAmount     = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}
	InactiveKeysetSignatureRequest = Error{Detail: "requested signature from inactive keyset", Code: InactiveKeysetErrCode}
)

// Given an amount, it returns list of amounts e.g 13 -> [1, 4, 8]
// that can be used to build blinded messages or split operations.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

func CheckDuplicateProofs(proofs Proofs) bool {
	secrets := make(map[string]bool)
	for _, proof := range proofs {
		if secrets[proof.Secret] {
			return true
		}
		secrets[proof.Secret] = true
	}
	return false
}

// GenerateRandomQuoteId returns a v4 UUID. Quote ids travel inside
// NIP-74 payloads where clients expect the UUID form.
func GenerateRandomQuoteId() string {
	return uuid.NewString()
}

// ValidQuoteId reports whether id has the form of a quote id.
func ValidQuoteId(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
