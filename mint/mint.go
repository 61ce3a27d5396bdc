// Package mint is the local Cashu mint: keysets, mint and melt quotes
// over a Lightning backend, sqlite storage and the NUT HTTP API.
package mint

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut02"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/crypto"
	"github.com/purrmint/purrmint/mint/lightning"
	"github.com/purrmint/purrmint/mint/storage"
	"github.com/purrmint/purrmint/mint/storage/sqlite"
)

const (
	QuoteExpiryMins = 10
	version         = "purrmint/0.1.0"
)

var ErrSeedMismatch = errors.New("configured seed does not match the seed stored in the mint db")

type Mint struct {
	db storage.MintDB

	// active keyset
	activeKeyset *crypto.MintKeyset

	// map of all keysets (both active and inactive)
	keysets map[string]crypto.MintKeyset

	lightningClient lightning.Client
	mintInfo        nut06.MintInfo
	limits          MintLimits

	// serializes operations that move a quote forward
	quoteMu sync.Mutex

	logger *slog.Logger
}

func LoadMint(config Config) (*Mint, error) {
	if len(config.Seed) == 0 {
		return nil, errors.New("mint seed cannot be empty")
	}
	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}

	path := config.MintPath
	if len(path) == 0 {
		path = mintPath()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	mint := &Mint{
		db:              db,
		keysets:         make(map[string]crypto.MintKeyset),
		lightningClient: config.LightningClient,
		limits:          config.Limits,
		logger:          logger,
	}

	if err := mint.loadKeysets(config); err != nil {
		db.Close()
		return nil, err
	}
	mint.mintInfo = mint.buildMintInfo(config.MintInfo)

	mint.logInfof("mint loaded with active keyset %v", mint.activeKeyset.Id)
	return mint, nil
}

// loadKeysets derives the active keyset at the configured index and
// every keyset known to the db. Keysets other than the active one are
// marked inactive.
func (m *Mint) loadKeysets(config Config) error {
	seed, err := m.db.GetSeed()
	if err != nil {
		if err := m.db.SaveSeed(config.Seed); err != nil {
			return fmt.Errorf("error saving seed: %v", err)
		}
		seed = config.Seed
	} else if !bytes.Equal(seed, config.Seed) {
		return ErrSeedMismatch
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("error generating master key: %v", err)
	}

	activeKeyset, err := crypto.GenerateKeyset(master, config.DerivationPathIdx, config.InputFeePpk, true)
	if err != nil {
		return err
	}
	m.activeKeyset = activeKeyset
	m.keysets[activeKeyset.Id] = *activeKeyset

	dbKeysets, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("error reading keysets from db: %v", err)
	}

	activeInDB := false
	for _, dbKeyset := range dbKeysets {
		if dbKeyset.Id == activeKeyset.Id {
			activeInDB = true
			if !dbKeyset.Active {
				if err := m.db.UpdateKeysetActive(dbKeyset.Id, true); err != nil {
					return err
				}
			}
			continue
		}

		if dbKeyset.Active {
			m.logInfof("deactivating previous keyset %v", dbKeyset.Id)
			if err := m.db.UpdateKeysetActive(dbKeyset.Id, false); err != nil {
				return err
			}
		}
		keyset, err := crypto.GenerateKeyset(master, dbKeyset.DerivationPathIdx, dbKeyset.InputFeePpk, false)
		if err != nil {
			return err
		}
		m.keysets[keyset.Id] = *keyset
	}

	if !activeInDB {
		dbKeyset := storage.DBKeyset{
			Id:                activeKeyset.Id,
			Unit:              activeKeyset.Unit,
			Active:            true,
			DerivationPathIdx: activeKeyset.DerivationPathIdx,
			InputFeePpk:       activeKeyset.InputFeePpk,
		}
		if err := m.db.SaveKeyset(dbKeyset); err != nil {
			return fmt.Errorf("error saving keyset: %v", err)
		}
	}
	return nil
}

func (m *Mint) buildMintInfo(info MintInfo) nut06.MintInfo {
	mintMethod := nut06.MethodSetting{
		Method:    cashu.BOLT11_METHOD,
		Unit:      cashu.Sat.String(),
		MinAmount: m.limits.MintingSettings.MinAmount,
		MaxAmount: m.limits.MintingSettings.MaxAmount,
	}
	meltMethod := nut06.MethodSetting{
		Method:    cashu.BOLT11_METHOD,
		Unit:      cashu.Sat.String(),
		MinAmount: m.limits.MeltingSettings.MinAmount,
		MaxAmount: m.limits.MeltingSettings.MaxAmount,
	}

	return nut06.MintInfo{
		Name:            info.Name,
		Pubkey:          info.Pubkey,
		Version:         version,
		Description:     info.Description,
		LongDescription: info.LongDescription,
		Contact:         info.Contact,
		Motd:            info.Motd,
		IconURL:         info.IconURL,
		URLs:            info.URLs,
		Nuts: nut06.Nuts{
			Nut04: nut06.NutSetting{Methods: []nut06.MethodSetting{mintMethod}},
			Nut05: nut06.NutSetting{Methods: []nut06.MethodSetting{meltMethod}},
		},
	}
}

// mintPath returns the mint's path
// at $HOME/.purrmint/mint
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".purrmint", "mint")
	}
	return filepath.Join(homedir, ".purrmint", "mint")
}

func setupLogger(path string, level LogLevel) (*slog.Logger, error) {
	if level == Disable {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	logFile, err := os.OpenFile(filepath.Join(path, "mint.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}
	slogLevel := slog.LevelInfo
	if level == Debug {
		slogLevel = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{Level: slogLevel})
	return slog.New(handler), nil
}

func (m *Mint) Close() error {
	return m.db.Close()
}

// RequestMintQuote creates an invoice for the requested amount and
// returns an unpaid quote for it.
func (m *Mint) RequestMintQuote(ctx context.Context, request nut04.PostMintQuoteBolt11Request) (storage.MintQuote, error) {
	if request.Unit != cashu.Sat.String() {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}
	if request.Amount == 0 {
		return storage.MintQuote{}, cashu.BuildCashuError("amount must be greater than zero", cashu.StandardErrCode)
	}

	settings := m.limits.MintingSettings
	if settings.MaxAmount > 0 && request.Amount > settings.MaxAmount {
		return storage.MintQuote{}, cashu.MintAmountExceededErr
	}
	if request.Amount < settings.MinAmount {
		return storage.MintQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("amount below minimum of %v", settings.MinAmount), cashu.AmountLimitExceeded)
	}

	if m.limits.MaxBalance > 0 {
		balance, err := m.db.GetBalance()
		if err != nil {
			m.logErrorf("could not get mint balance: %v", err)
			return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
		}
		newBalance, overflow := overflowAddUint64(balance, request.Amount)
		if overflow || newBalance > m.limits.MaxBalance {
			return storage.MintQuote{}, cashu.MintBalanceExceededErr
		}
	}

	m.logDebugf("requesting invoice from lightning backend for %v sats", request.Amount)
	invoice, err := m.lightningClient.CreateInvoice(ctx, request.Amount)
	if err != nil {
		m.logErrorf("could not generate invoice: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.LightningBackendErrCode)
	}

	quote := storage.MintQuote{
		Id:             cashu.GenerateRandomQuoteId(),
		Amount:         request.Amount,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		State:          nut04.Unpaid,
		Expiry:         invoice.Expiry,
	}
	if err := m.db.SaveMintQuote(quote); err != nil {
		m.logErrorf("error saving mint quote to db: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("created mint quote %v for %v sats", quote.Id, quote.Amount)
	return quote, nil
}

// GetMintQuoteState returns the quote and updates it to paid if its
// invoice settled since the last check.
func (m *Mint) GetMintQuoteState(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	quote, err := m.getMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, err
	}
	return m.refreshMintQuote(ctx, quote)
}

func (m *Mint) getMintQuote(quoteId string) (storage.MintQuote, error) {
	quote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrQuoteNotFound) {
			return storage.MintQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	return quote, nil
}

func (m *Mint) refreshMintQuote(ctx context.Context, quote storage.MintQuote) (storage.MintQuote, error) {
	if quote.State != nut04.Unpaid {
		return quote, nil
	}

	invoice, err := m.lightningClient.InvoiceStatus(ctx, quote.PaymentHash)
	if err != nil {
		m.logErrorf("error getting status of invoice with hash %v: %v", quote.PaymentHash, err)
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.LightningBackendErrCode)
	}
	if invoice.Settled {
		m.logInfof("mint quote %v paid", quote.Id)
		quote.State = nut04.Paid
		if err := m.db.UpdateMintQuoteState(quote.Id, quote.State); err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
		}
	}
	return quote, nil
}

// MintTokens signs the blinded messages if the quote was paid and not
// issued yet.
func (m *Mint) MintTokens(ctx context.Context, request nut04.PostMintBolt11Request) (cashu.BlindedSignatures, error) {
	m.quoteMu.Lock()
	defer m.quoteMu.Unlock()

	quote, err := m.getMintQuote(request.Quote)
	if err != nil {
		return nil, err
	}
	quote, err = m.refreshMintQuote(ctx, quote)
	if err != nil {
		return nil, err
	}

	switch quote.State {
	case nut04.Unpaid:
		return nil, cashu.MintQuoteRequestNotPaid
	case nut04.Issued:
		return nil, cashu.MintQuoteAlreadyIssued
	}

	if len(request.Outputs) == 0 {
		return nil, cashu.BuildCashuError("no outputs provided", cashu.StandardErrCode)
	}
	var outputsAmount uint64
	for _, output := range request.Outputs {
		var overflow bool
		outputsAmount, overflow = overflowAddUint64(outputsAmount, output.Amount)
		if overflow {
			return nil, cashu.InvalidBlindedMessageAmount
		}
	}
	if outputsAmount > quote.Amount {
		return nil, cashu.OutputsOverQuoteAmountErr
	}

	blindedSignatures, err := m.signBlindedMessages(request.Outputs)
	if err != nil {
		return nil, err
	}

	if err := m.db.UpdateMintQuoteState(quote.Id, nut04.Issued); err != nil {
		m.logErrorf("error updating mint quote state: %v", err)
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("issued %v sats for mint quote %v", outputsAmount, quote.Id)
	return blindedSignatures, nil
}

// RequestMeltQuote quotes paying the bolt11 invoice in the request.
func (m *Mint) RequestMeltQuote(ctx context.Context, request nut05.PostMeltQuoteBolt11Request) (storage.MeltQuote, error) {
	if request.Unit != cashu.Sat.String() {
		return storage.MeltQuote{}, cashu.UnitNotSupportedErr
	}

	bolt11, err := decodepay.Decodepay(request.Request)
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(fmt.Sprintf("invalid invoice: %v", err), cashu.MeltQuoteErrCode)
	}
	if bolt11.MSatoshi == 0 {
		return storage.MeltQuote{}, cashu.BuildCashuError("invoice has no amount", cashu.MeltQuoteErrCode)
	}
	satAmount := uint64(bolt11.MSatoshi) / 1000

	settings := m.limits.MeltingSettings
	if settings.MaxAmount > 0 && satAmount > settings.MaxAmount {
		return storage.MeltQuote{}, cashu.MeltAmountExceededErr
	}
	if satAmount < settings.MinAmount {
		return storage.MeltQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("amount below minimum of %v", settings.MinAmount), cashu.AmountLimitExceeded)
	}

	quote := storage.MeltQuote{
		Id:             cashu.GenerateRandomQuoteId(),
		InvoiceRequest: request.Request,
		PaymentHash:    bolt11.PaymentHash,
		Amount:         satAmount,
		FeeReserve:     m.lightningClient.FeeReserve(satAmount),
		State:          nut05.Unpaid,
		Expiry:         uint64(time.Now().Add(time.Minute * QuoteExpiryMins).Unix()),
	}
	if err := m.db.SaveMeltQuote(quote); err != nil {
		m.logErrorf("error saving melt quote to db: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("created melt quote %v for %v sats", quote.Id, quote.Amount)
	return quote, nil
}

func (m *Mint) GetMeltQuoteState(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		if errors.Is(err, storage.ErrQuoteNotFound) {
			return storage.MeltQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	return quote, nil
}

// MeltTokens verifies the proofs and pays the quote's invoice with them.
// Proofs are only marked spent once the payment succeeded or its
// outcome is unknown.
func (m *Mint) MeltTokens(ctx context.Context, request nut05.PostMeltBolt11Request) (storage.MeltQuote, error) {
	m.quoteMu.Lock()
	defer m.quoteMu.Unlock()

	quote, err := m.GetMeltQuoteState(ctx, request.Quote)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	switch quote.State {
	case nut05.Paid:
		return storage.MeltQuote{}, cashu.MeltQuoteAlreadyPaid
	case nut05.Pending:
		return storage.MeltQuote{}, cashu.QuotePending
	}

	if err := m.verifyProofs(request.Inputs); err != nil {
		return storage.MeltQuote{}, err
	}

	fees := m.TransactionFees(request.Inputs)
	needed, overflow := overflowAddUint64(quote.Amount, quote.FeeReserve)
	if !overflow {
		needed, overflow = overflowAddUint64(needed, uint64(fees))
	}
	if overflow || request.Inputs.Amount() < needed {
		return storage.MeltQuote{}, cashu.InsufficientProofsAmount
	}
	if excess, _ := underflowSubUint64(request.Inputs.Amount(), needed); excess > 0 {
		m.logDebugf("inputs for melt quote %v exceed the needed amount by %v sats", quote.Id, excess)
	}

	if err := m.db.UpdateMeltQuote(quote.Id, "", nut05.Pending); err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("paying invoice for melt quote %v", quote.Id)
	// the payment may go out even if the caller goes away
	status, err := m.lightningClient.SendPayment(context.WithoutCancel(ctx), quote.InvoiceRequest, quote.Amount)
	if status.PaymentStatus == lightning.Failed {
		m.logErrorf("payment for melt quote %v failed: %v", quote.Id, err)
		if err := m.db.UpdateMeltQuote(quote.Id, "", nut05.Unpaid); err != nil {
			m.logErrorf("error reverting melt quote %v to unpaid: %v", quote.Id, err)
		}
		detail := "payment failed"
		if err != nil {
			detail = err.Error()
		}
		return storage.MeltQuote{}, cashu.BuildCashuError(detail, cashu.LightningBackendErrCode)
	}
	if err != nil {
		m.logErrorf("outcome of payment for melt quote %v unknown: %v", quote.Id, err)
		status.PaymentStatus = lightning.Pending
	}

	if err := m.db.SaveProofs(request.Inputs); err != nil {
		m.logErrorf("error marking proofs spent for melt quote %v: %v", quote.Id, err)
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	if status.PaymentStatus == lightning.Pending {
		m.logInfof("payment for melt quote %v is pending", quote.Id)
		quote.State = nut05.Pending
		return quote, nil
	}

	quote.State = nut05.Paid
	quote.Preimage = status.Preimage
	if err := m.db.UpdateMeltQuote(quote.Id, quote.Preimage, quote.State); err != nil {
		m.logErrorf("error updating melt quote %v: %v", quote.Id, err)
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	m.logInfof("melt quote %v paid", quote.Id)
	return quote, nil
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return cashu.NoProofsProvided
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return cashu.InvalidProofErr
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		m.logErrorf("could not get used proofs from db: %v", err)
		return cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	if len(usedProofs) != 0 {
		return cashu.ProofAlreadyUsedErr
	}

	for _, proof := range proofs {
		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		key, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !crypto.Verify(proof.Secret, key.PrivateKey, C) {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	B_s := make([]string, len(blindedMessages))
	for i, bm := range blindedMessages {
		B_s[i] = bm.B_
	}
	signed, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		m.logErrorf("could not get signatures from db: %v", err)
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	if len(signed) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))
	for i, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}
		if !keyset.Active {
			return nil, cashu.InactiveKeysetSignatureRequest
		}

		key, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, key.PrivateKey)
		blindedSignatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
	}

	if err := m.db.SaveBlindSignatures(B_s, blindedSignatures); err != nil {
		m.logErrorf("error saving signatures: %v", err)
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	return blindedSignatures, nil
}

// TransactionFees returns the input fees for proofs, rounded up to a
// whole sat.
func (m *Mint) TransactionFees(inputs cashu.Proofs) uint {
	var fees uint = 0
	for _, proof := range inputs {
		// ignore unknown keysets, verifyProofs rejects them
		if keyset, ok := m.keysets[proof.Id]; ok {
			fees += keyset.InputFeePpk
		}
	}
	return (fees + 999) / 1000
}

func (m *Mint) GetActiveKeyset() crypto.MintKeyset {
	return *m.activeKeyset
}

func (m *Mint) ListKeysets() nut02.GetKeysetsResponse {
	keysets := make([]nut02.Keyset, 0, len(m.keysets))
	for _, keyset := range m.keysets {
		keysets = append(keysets, nut02.Keyset{
			Id:          keyset.Id,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		})
	}
	return nut02.GetKeysetsResponse{Keysets: keysets}
}

func (m *Mint) GetKeysetById(id string) (nut01.GetKeysResponse, error) {
	keyset, ok := m.keysets[id]
	if !ok {
		return nut01.GetKeysResponse{}, cashu.UnknownKeysetErr
	}
	return keysetResponse(keyset), nil
}

func keysetResponse(keysets ...crypto.MintKeyset) nut01.GetKeysResponse {
	response := nut01.GetKeysResponse{Keysets: make([]nut01.Keyset, len(keysets))}
	for i, keyset := range keysets {
		response.Keysets[i] = nut01.Keyset{Id: keyset.Id, Unit: keyset.Unit, Keys: keyset.PublicKeys()}
	}
	return response
}

func (m *Mint) RetrieveMintInfo() (nut06.MintInfo, error) {
	info := m.mintInfo
	info.Time = time.Now().Unix()
	return info, nil
}

func (m *Mint) logInfof(format string, args ...any) {
	m.logger.Info(fmt.Sprintf(format, args...))
}

func (m *Mint) logErrorf(format string, args ...any) {
	m.logger.Error(fmt.Sprintf(format, args...))
}

func (m *Mint) logDebugf(format string, args ...any) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

// returns the sum and whether it overflowed
func overflowAddUint64(a, b uint64) (uint64, bool) {
	if b > math.MaxUint64-a {
		return math.MaxUint64, true
	}
	return a + b, false
}

// returns a - b and whether it underflowed
func underflowSubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, true
	}
	return a - b, false
}
