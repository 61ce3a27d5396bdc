package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage      = "0000000000000000"
	InvoiceExpiryMins = 10
)

var ErrInvoiceNotFound = errors.New("invoice does not exist")

// FakeBackend issues real-looking signet invoices that are settled as
// soon as they are created, and pays any invoice it is given. It lets
// the local mint run without a Lightning node.
type FakeBackend struct {
	// when set, incoming invoices start unpaid until SetInvoicePaid
	RequirePayment bool
	// invoices containing this description fail to be paid
	FailPaymentDescription string

	mu       sync.Mutex
	invoices []Invoice
}

func (fb *FakeBackend) CreateInvoice(ctx context.Context, amount uint64) (Invoice, error) {
	req, preimage, paymentHash, err := CreateFakeInvoice(amount, "purrmint")
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        !fb.RequirePayment,
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(time.Minute * InvoiceExpiryMins).Unix()),
	}

	fb.mu.Lock()
	fb.invoices = append(fb.invoices, invoice)
	fb.mu.Unlock()

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(ctx context.Context, hash string) (Invoice, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return Invoice{}, ErrInvoiceNotFound
	}
	return fb.invoices[invoiceIdx], nil
}

// SetInvoicePaid marks the invoice with the payment hash as settled.
func (fb *FakeBackend) SetInvoicePaid(hash string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return ErrInvoiceNotFound
	}
	fb.invoices[invoiceIdx].Settled = true
	return nil
}

func (fb *FakeBackend) SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error) {
	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error decoding invoice: %v", err)
	}

	if len(fb.FailPaymentDescription) > 0 && invoice.Description == fb.FailPaymentDescription {
		return PaymentStatus{PaymentStatus: Failed}, errors.New("payment failed")
	}

	fb.mu.Lock()
	fb.invoices = append(fb.invoices, Invoice{
		PaymentRequest: request,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       FakePreimage,
		Settled:        true,
		Amount:         amount,
	})
	fb.mu.Unlock()

	return PaymentStatus{
		Preimage:      FakePreimage,
		PaymentStatus: Succeeded,
	}, nil
}

func (fb *FakeBackend) FeeReserve(amount uint64) uint64 {
	return 0
}

// CreateFakeInvoice returns a signet bolt11 invoice for amount sats along
// with its preimage and payment hash in hex.
func CreateFakeInvoice(amount uint64, description string) (string, string, string, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(description),
		zpay32.Expiry(time.Minute*InvoiceExpiryMins),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
