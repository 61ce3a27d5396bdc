// Package testutils builds mints backed by a fake lightning backend for
// tests that exercise the mint from outside its package.
package testutils

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/client"
	"github.com/purrmint/purrmint/mint"
	"github.com/purrmint/purrmint/mint/lightning"
)

const testMnemonic = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"

func MintConfig(
	backend lightning.Client,
	port int,
	dbpath string,
	inputFeePpk uint,
	limits mint.MintLimits,
) (*mint.Config, error) {
	if err := os.MkdirAll(dbpath, 0750); err != nil {
		return nil, err
	}
	seed, err := mint.SeedFromMnemonic(testMnemonic)
	if err != nil {
		return nil, err
	}

	return &mint.Config{
		Seed:            seed,
		Port:            port,
		MintPath:        dbpath,
		InputFeePpk:     inputFeePpk,
		MintInfo:        mint.MintInfo{Name: "test mint", Description: "mint for tests"},
		Limits:          limits,
		LightningClient: backend,
		LogLevel:        mint.Disable,
	}, nil
}

func CreateTestMint(
	backend lightning.Client,
	dbpath string,
	inputFeePpk uint,
	limits mint.MintLimits,
) (*mint.Mint, error) {
	config, err := MintConfig(backend, 0, dbpath, inputFeePpk, limits)
	if err != nil {
		return nil, err
	}
	return mint.LoadMint(*config)
}

// CreateTestMintd returns a stopped Mintd serving its HTTP API on a free port.
func CreateTestMintd(backend lightning.Client, dbpath string) (*mint.Mintd, error) {
	port, err := GetAvailablePort()
	if err != nil {
		return nil, err
	}
	config, err := MintConfig(backend, port, dbpath, 0, mint.MintLimits{})
	if err != nil {
		return nil, err
	}
	return mint.NewMintd(*config), nil
}

// GetValidProofsForAmount mints proofs for amount, settling the quote's
// invoice on the fake backend.
func GetValidProofsForAmount(
	ctx context.Context,
	amount uint64,
	m *mint.Mint,
	backend *lightning.FakeBackend,
) (cashu.Proofs, error) {
	quote, err := m.RequestMintQuote(ctx, nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: cashu.Sat.String()})
	if err != nil {
		return nil, fmt.Errorf("error requesting mint quote: %v", err)
	}
	if err := backend.SetInvoicePaid(quote.PaymentHash); err != nil {
		return nil, fmt.Errorf("error paying invoice: %v", err)
	}

	keyset := m.GetActiveKeyset()
	outputs, err := client.CreateOutputs(amount, keyset.Id)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	signatures, err := m.MintTokens(ctx, nut04.PostMintBolt11Request{Quote: quote.Id, Outputs: outputs.BlindedMessages})
	if err != nil {
		return nil, fmt.Errorf("got unexpected error minting tokens: %v", err)
	}

	keys, err := m.GetKeysetById(keyset.Id)
	if err != nil {
		return nil, err
	}
	return outputs.ConstructProofs(signatures, keys.Keysets[0])
}

func GetAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
