package mint_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/mint"
	"github.com/purrmint/purrmint/mint/lightning"
	"github.com/purrmint/purrmint/mintclient"
	"github.com/purrmint/purrmint/testutils"
)

func TestMintdLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := &lightning.FakeBackend{}
	mintd, err := testutils.CreateTestMintd(backend, filepath.Join(t.TempDir(), "mintd"))
	if err != nil {
		t.Fatalf("unexpected error creating mintd: %v", err)
	}

	if _, err := mintd.MintInfo(ctx); !errors.Is(err, mint.ErrMintNotRunning) {
		t.Fatalf("expected error '%v' but got '%v'", mint.ErrMintNotRunning, err)
	}
	if err := mintd.Stop(ctx); err != nil {
		t.Fatalf("unexpected error stopping mintd that was not started: %v", err)
	}

	if err := mintd.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting mintd: %v", err)
	}
	if !mintd.IsRunning() || mintd.Addr() == "" {
		t.Fatalf("expected running mintd with address but got running=%v addr='%v'", mintd.IsRunning(), mintd.Addr())
	}

	info, err := mintd.MintInfo(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting info: %v", err)
	}
	if info.Name != "test mint" {
		t.Fatalf("expected name 'test mint' but got '%v'", info.Name)
	}

	if err := mintd.Stop(ctx); err != nil {
		t.Fatalf("unexpected error stopping mintd: %v", err)
	}
	if err := mintd.Stop(ctx); err != nil {
		t.Fatalf("unexpected error stopping mintd twice: %v", err)
	}
	if mintd.IsRunning() {
		t.Fatal("expected mintd to be stopped")
	}

	// state survives a restart
	if err := mintd.Start(ctx); err != nil {
		t.Fatalf("unexpected error restarting mintd: %v", err)
	}
	defer mintd.Stop(ctx)
	keysets, err := mintd.ActiveKeysets(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting keysets: %v", err)
	}
	if len(keysets.Keysets) != 1 {
		t.Fatalf("expected 1 active keyset but got %v", len(keysets.Keysets))
	}
}

func TestMintdHTTPAPI(t *testing.T) {
	ctx := context.Background()
	backend := &lightning.FakeBackend{RequirePayment: true}
	mintd, err := testutils.CreateTestMintd(backend, filepath.Join(t.TempDir(), "mintd"))
	if err != nil {
		t.Fatalf("unexpected error creating mintd: %v", err)
	}
	if err := mintd.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting mintd: %v", err)
	}
	defer mintd.Stop(ctx)

	_, port, err := net.SplitHostPort(mintd.Addr())
	if err != nil {
		t.Fatalf("unexpected error parsing address: %v", err)
	}
	httpClient, err := mintclient.New("http://127.0.0.1:" + port)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	info, err := httpClient.MintInfo(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting info: %v", err)
	}
	if info.Name != "test mint" || len(info.Nuts.Nut04.Methods) == 0 {
		t.Fatalf("unexpected mint info: %+v", info)
	}

	quote, err := httpClient.RequestMintQuote(ctx, nut04.PostMintQuoteBolt11Request{Amount: 21, Unit: "sat"})
	if err != nil {
		t.Fatalf("unexpected error requesting mint quote: %v", err)
	}
	if quote.State != nut04.Unpaid {
		t.Fatalf("expected quote state '%v' but got '%v'", nut04.Unpaid, quote.State)
	}

	_, err = httpClient.MintTokens(ctx, nut04.PostMintBolt11Request{Quote: quote.Quote})
	if !errors.Is(err, cashu.MintQuoteRequestNotPaid) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.MintQuoteRequestNotPaid, err)
	}

	_, err = httpClient.MeltQuoteState(ctx, cashu.GenerateRandomQuoteId())
	if !errors.Is(err, cashu.QuoteNotExistErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.QuoteNotExistErr, err)
	}

	_, err = httpClient.RequestMintQuote(ctx, nut04.PostMintQuoteBolt11Request{Amount: 21, Unit: "usd"})
	if !errors.Is(err, cashu.UnitNotSupportedErr) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.UnitNotSupportedErr, err)
	}
}

func TestMeltWithMintedProofs(t *testing.T) {
	ctx := context.Background()
	backend := &lightning.FakeBackend{}
	testMint, err := testutils.CreateTestMint(backend, filepath.Join(t.TempDir(), "mint"), 0, mint.MintLimits{})
	if err != nil {
		t.Fatalf("unexpected error creating mint: %v", err)
	}
	defer testMint.Close()

	proofs, err := testutils.GetValidProofsForAmount(ctx, 500, testMint, backend)
	if err != nil {
		t.Fatalf("unexpected error getting proofs: %v", err)
	}
	if proofs.Amount() != 500 {
		t.Fatalf("expected proofs amount 500 but got %v", proofs.Amount())
	}

	invoice, _, _, err := lightning.CreateFakeInvoice(400, "test")
	if err != nil {
		t.Fatalf("unexpected error creating invoice: %v", err)
	}
	quote, err := testMint.RequestMeltQuote(ctx, nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: "sat"})
	if err != nil {
		t.Fatalf("unexpected error requesting melt quote: %v", err)
	}

	melted, err := testMint.MeltTokens(ctx, nut05.PostMeltBolt11Request{Quote: quote.Id, Inputs: proofs})
	if err != nil {
		t.Fatalf("unexpected error melting: %v", err)
	}
	if melted.State != nut05.Paid || melted.Preimage != lightning.FakePreimage {
		t.Fatalf("expected paid quote with preimage but got %+v", melted)
	}

	_, err = testMint.MeltTokens(ctx, nut05.PostMeltBolt11Request{Quote: quote.Id, Inputs: proofs})
	if !errors.Is(err, cashu.MeltQuoteAlreadyPaid) {
		t.Fatalf("expected error '%v' but got '%v'", cashu.MeltQuoteAlreadyPaid, err)
	}
}
