package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/nip74"
)

// MintBackend is a Cashu mint the default handler forwards operations to.
// It is implemented by the local mint and by the HTTP mint client.
type MintBackend interface {
	MintInfo(ctx context.Context) (nut06.MintInfo, error)
	ActiveKeysets(ctx context.Context) (nut01.GetKeysResponse, error)
	RequestMintQuote(ctx context.Context, req nut04.PostMintQuoteBolt11Request) (nut04.PostMintQuoteBolt11Response, error)
	MintQuoteState(ctx context.Context, quoteId string) (nut04.PostMintQuoteBolt11Response, error)
	MintTokens(ctx context.Context, req nut04.PostMintBolt11Request) (nut04.PostMintBolt11Response, error)
	RequestMeltQuote(ctx context.Context, req nut05.PostMeltQuoteBolt11Request) (nut05.PostMeltQuoteBolt11Response, error)
	MeltQuoteState(ctx context.Context, quoteId string) (nut05.PostMeltQuoteBolt11Response, error)
	MeltTokens(ctx context.Context, req nut05.PostMeltBolt11Request) (nut05.PostMeltQuoteBolt11Response, error)
}

// LocalMint is a mint run by this process.
type LocalMint interface {
	MintBackend
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// InfoData is the payload of a successful info result. Keysets carries the
// active public keys so that requesters can unblind signatures without
// another round trip.
type InfoData struct {
	Info    nut06.MintInfo        `json:"info"`
	Keysets nut01.GetKeysResponse `json:"keysets"`
}

var errMalformedData = errors.New("malformed request data")

// MintHandler answers NIP-74 operations from a MintBackend.
type MintHandler struct {
	backend MintBackend
	logger  *slog.Logger
}

func NewMintHandler(backend MintBackend, logger *slog.Logger) *MintHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MintHandler{backend: backend, logger: logger}
}

// Handle runs req against the backend. Errors from the backend become
// results with the code "<method>_failed". Requests whose data cannot be
// decoded return an error and get no reply.
func (h *MintHandler) Handle(ctx context.Context, req nip74.OperationRequest) (nip74.OperationResult, error) {
	var (
		data any
		err  error
	)

	switch req.Method {
	case nip74.Info:
		data, err = h.info(ctx)

	case nip74.GetMintQuote:
		var quoteReq nut04.PostMintQuoteBolt11Request
		if derr := decodeData(req.Data, &quoteReq); derr != nil {
			return nip74.OperationResult{}, derr
		}
		if quoteReq.Unit == "" {
			quoteReq.Unit = cashu.Sat.String()
		}
		data, err = h.backend.RequestMintQuote(ctx, quoteReq)

	case nip74.CheckMintQuote:
		quoteId, derr := decodeQuoteId(req.Data)
		if derr != nil {
			return nip74.OperationResult{}, derr
		}
		data, err = h.backend.MintQuoteState(ctx, quoteId)

	case nip74.Mint:
		var mintReq nut04.PostMintBolt11Request
		if derr := decodeData(req.Data, &mintReq); derr != nil {
			return nip74.OperationResult{}, derr
		}
		data, err = h.backend.MintTokens(ctx, mintReq)

	case nip74.GetMeltQuote:
		var quoteReq nut05.PostMeltQuoteBolt11Request
		if derr := decodeData(req.Data, &quoteReq); derr != nil {
			return nip74.OperationResult{}, derr
		}
		if quoteReq.Unit == "" {
			quoteReq.Unit = cashu.Sat.String()
		}
		data, err = h.backend.RequestMeltQuote(ctx, quoteReq)

	case nip74.CheckMeltQuote:
		quoteId, derr := decodeQuoteId(req.Data)
		if derr != nil {
			return nip74.OperationResult{}, derr
		}
		data, err = h.backend.MeltQuoteState(ctx, quoteId)

	case nip74.Melt:
		var meltReq nut05.PostMeltBolt11Request
		if derr := decodeData(req.Data, &meltReq); derr != nil {
			return nip74.OperationResult{}, derr
		}
		data, err = h.backend.MeltTokens(ctx, meltReq)

	default:
		return nip74.OperationResult{}, fmt.Errorf("%w: %v", nip74.ErrUnknownMethod, req.Method)
	}

	if err != nil {
		code := req.Method.String() + "_failed"
		h.logger.Info(fmt.Sprintf("%v for request %v: %v", code, req.RequestId, err))
		return nip74.NewErrorResult(req, code, resultMessage(err)), nil
	}
	return nip74.NewSuccessResult(req, data)
}

func (h *MintHandler) info(ctx context.Context) (InfoData, error) {
	info, err := h.backend.MintInfo(ctx)
	if err != nil {
		return InfoData{}, err
	}
	keysets, err := h.backend.ActiveKeysets(ctx)
	if err != nil {
		return InfoData{}, err
	}
	return InfoData{Info: info, Keysets: keysets}, nil
}

// internal mint errors are not shown to requesters
func resultMessage(err error) string {
	var cashuErr cashu.Error
	var errPtr *cashu.Error
	switch {
	case errors.As(err, &errPtr):
		cashuErr = *errPtr
	case errors.As(err, &cashuErr):
	default:
		return err.Error()
	}

	if cashuErr.Code == cashu.DBErrCode || cashuErr.Code == cashu.LightningBackendErrCode {
		return cashu.StandardErr.Detail
	}
	return cashuErr.Detail
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errMalformedData)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedData, err)
	}
	return nil
}

// decodeQuoteId accepts the quote id as a JSON string or as {"quote": id}.
func decodeQuoteId(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing quote id", errMalformedData)
	}

	var quoteId string
	if err := json.Unmarshal(data, &quoteId); err != nil {
		var obj struct {
			Quote string `json:"quote"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", errMalformedData, err)
		}
		quoteId = obj.Quote
	}

	if !cashu.ValidQuoteId(quoteId) {
		return "", fmt.Errorf("%w: invalid quote id %q", errMalformedData, quoteId)
	}
	return quoteId, nil
}
