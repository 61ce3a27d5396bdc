// Package lightning is the payment backend the local mint issues
// invoices and pays melt requests through.
package lightning

import "context"

// Client interface to interact with a Lightning backend
type Client interface {
	CreateInvoice(ctx context.Context, amount uint64) (Invoice, error)
	InvoiceStatus(ctx context.Context, hash string) (Invoice, error)
	SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error)
	FeeReserve(amount uint64) uint64
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

type State int

const (
	Succeeded State = iota
	Failed
	Pending
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Pending:
		return "PENDING"
	}
	return "unknown"
}

type PaymentStatus struct {
	Preimage      string
	PaymentStatus State
}
