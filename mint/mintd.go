package mint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/mint/storage"
)

var ErrMintNotRunning = errors.New("local mint is not running")

// Mintd runs a Mint and, when a port is configured, its HTTP API.
// The Mint is loaded on Start and closed on Stop. The quote operations
// are available to in-process callers while it runs.
type Mintd struct {
	config Config

	mu       sync.RWMutex
	mint     *Mint
	server   *MintServer
	serveErr chan error
	addr     string
}

func NewMintd(config Config) *Mintd {
	return &Mintd{config: config}
}

func (d *Mintd) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mint != nil {
		return nil
	}

	m, err := LoadMint(d.config)
	if err != nil {
		return fmt.Errorf("error loading mint: %w", err)
	}

	if d.config.Port > 0 {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", d.config.Port))
		if err != nil {
			m.Close()
			return fmt.Errorf("error starting mint server: %w", err)
		}
		d.addr = ln.Addr().String()
		d.server = SetupMintServer(m, d.config.Port)
		d.serveErr = make(chan error, 1)
		go func() {
			d.serveErr <- d.server.Serve(ln)
		}()
	}

	d.mint = m
	return nil
}

func (d *Mintd) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mint == nil {
		return nil
	}

	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down mint server: %w", err))
		}
		if err := <-d.serveErr; err != nil {
			errs = append(errs, err)
		}
		d.server = nil
	}
	if err := d.mint.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing mint db: %w", err))
	}
	d.mint = nil
	d.addr = ""
	return errors.Join(errs...)
}

func (d *Mintd) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mint != nil
}

// Addr is the address of the HTTP API, empty when not serving.
func (d *Mintd) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

func (d *Mintd) running() (*Mint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mint == nil {
		return nil, ErrMintNotRunning
	}
	return d.mint, nil
}

func (d *Mintd) MintInfo(ctx context.Context) (nut06.MintInfo, error) {
	m, err := d.running()
	if err != nil {
		return nut06.MintInfo{}, err
	}
	return m.RetrieveMintInfo()
}

func (d *Mintd) ActiveKeysets(ctx context.Context) (nut01.GetKeysResponse, error) {
	m, err := d.running()
	if err != nil {
		return nut01.GetKeysResponse{}, err
	}
	return keysetResponse(m.GetActiveKeyset()), nil
}

func (d *Mintd) RequestMintQuote(ctx context.Context, req nut04.PostMintQuoteBolt11Request) (nut04.PostMintQuoteBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut04.PostMintQuoteBolt11Response{}, err
	}
	quote, err := m.RequestMintQuote(ctx, req)
	if err != nil {
		return nut04.PostMintQuoteBolt11Response{}, err
	}
	return mintQuoteResponse(quote), nil
}

func (d *Mintd) MintQuoteState(ctx context.Context, quoteId string) (nut04.PostMintQuoteBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut04.PostMintQuoteBolt11Response{}, err
	}
	quote, err := m.GetMintQuoteState(ctx, quoteId)
	if err != nil {
		return nut04.PostMintQuoteBolt11Response{}, err
	}
	return mintQuoteResponse(quote), nil
}

func (d *Mintd) MintTokens(ctx context.Context, req nut04.PostMintBolt11Request) (nut04.PostMintBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut04.PostMintBolt11Response{}, err
	}
	signatures, err := m.MintTokens(ctx, req)
	if err != nil {
		return nut04.PostMintBolt11Response{}, err
	}
	return nut04.PostMintBolt11Response{Signatures: signatures}, nil
}

func (d *Mintd) RequestMeltQuote(ctx context.Context, req nut05.PostMeltQuoteBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	quote, err := m.RequestMeltQuote(ctx, req)
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	return meltQuoteResponse(quote), nil
}

func (d *Mintd) MeltQuoteState(ctx context.Context, quoteId string) (nut05.PostMeltQuoteBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	quote, err := m.GetMeltQuoteState(ctx, quoteId)
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	return meltQuoteResponse(quote), nil
}

func (d *Mintd) MeltTokens(ctx context.Context, req nut05.PostMeltBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	m, err := d.running()
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	quote, err := m.MeltTokens(ctx, req)
	if err != nil {
		return nut05.PostMeltQuoteBolt11Response{}, err
	}
	return meltQuoteResponse(quote), nil
}

func mintQuoteResponse(quote storage.MintQuote) nut04.PostMintQuoteBolt11Response {
	return nut04.PostMintQuoteBolt11Response{
		Quote:   quote.Id,
		Request: quote.PaymentRequest,
		Amount:  quote.Amount,
		Unit:    cashu.Sat.String(),
		State:   quote.State,
		Expiry:  quote.Expiry,
	}
}

func meltQuoteResponse(quote storage.MeltQuote) nut05.PostMeltQuoteBolt11Response {
	return nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Request:    quote.InvoiceRequest,
		Amount:     quote.Amount,
		Unit:       cashu.Sat.String(),
		FeeReserve: quote.FeeReserve,
		State:      quote.State,
		Expiry:     quote.Expiry,
		Preimage:   quote.Preimage,
	}
}
