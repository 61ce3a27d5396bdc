package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/nip74"
)

const testQuoteId = "5f1c8a3e-0f0e-4f43-9a7c-3b2d1e0c9a88"

// fakeMint records calls and fails with err when it is set.
type fakeMint struct {
	running bool
	err     error

	startErr error
	stopErr  error
	lastCall string
	lastArg  any
}

func (f *fakeMint) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeMint) Stop(ctx context.Context) error {
	f.running = false
	return f.stopErr
}

func (f *fakeMint) IsRunning() bool { return f.running }

func (f *fakeMint) record(call string, arg any) error {
	f.lastCall, f.lastArg = call, arg
	return f.err
}

func (f *fakeMint) MintInfo(ctx context.Context) (nut06.MintInfo, error) {
	return nut06.MintInfo{Name: "fake mint"}, f.record("MintInfo", nil)
}

func (f *fakeMint) ActiveKeysets(ctx context.Context) (nut01.GetKeysResponse, error) {
	return nut01.GetKeysResponse{Keysets: []nut01.Keyset{{Id: "00aa", Unit: "sat", Keys: nut01.KeysMap{1: "02ab"}}}}, nil
}

func (f *fakeMint) RequestMintQuote(ctx context.Context, req nut04.PostMintQuoteBolt11Request) (nut04.PostMintQuoteBolt11Response, error) {
	return nut04.PostMintQuoteBolt11Response{Quote: testQuoteId, Amount: req.Amount, Unit: req.Unit}, f.record("RequestMintQuote", req)
}

func (f *fakeMint) MintQuoteState(ctx context.Context, quoteId string) (nut04.PostMintQuoteBolt11Response, error) {
	return nut04.PostMintQuoteBolt11Response{Quote: quoteId, State: nut04.Paid}, f.record("MintQuoteState", quoteId)
}

func (f *fakeMint) MintTokens(ctx context.Context, req nut04.PostMintBolt11Request) (nut04.PostMintBolt11Response, error) {
	return nut04.PostMintBolt11Response{}, f.record("MintTokens", req)
}

func (f *fakeMint) RequestMeltQuote(ctx context.Context, req nut05.PostMeltQuoteBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	return nut05.PostMeltQuoteBolt11Response{Quote: testQuoteId, Unit: req.Unit}, f.record("RequestMeltQuote", req)
}

func (f *fakeMint) MeltQuoteState(ctx context.Context, quoteId string) (nut05.PostMeltQuoteBolt11Response, error) {
	return nut05.PostMeltQuoteBolt11Response{Quote: quoteId}, f.record("MeltQuoteState", quoteId)
}

func (f *fakeMint) MeltTokens(ctx context.Context, req nut05.PostMeltBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	return nut05.PostMeltQuoteBolt11Response{Quote: req.Quote, State: nut05.Paid}, f.record("MeltTokens", req)
}

func request(method nip74.OperationMethod, data string) nip74.OperationRequest {
	req := nip74.OperationRequest{Method: method, RequestId: "req-1"}
	if data != "" {
		req.Data = json.RawMessage(data)
	}
	return req
}

func TestMintHandlerDispatch(t *testing.T) {
	tests := []struct {
		method       nip74.OperationMethod
		data         string
		expectedCall string
	}{
		{nip74.Info, "", "MintInfo"},
		{nip74.GetMintQuote, `{"amount":21}`, "RequestMintQuote"},
		{nip74.CheckMintQuote, `"` + testQuoteId + `"`, "MintQuoteState"},
		{nip74.CheckMintQuote, `{"quote":"` + testQuoteId + `"}`, "MintQuoteState"},
		{nip74.Mint, `{"quote":"` + testQuoteId + `","outputs":[]}`, "MintTokens"},
		{nip74.GetMeltQuote, `{"request":"lnbc1"}`, "RequestMeltQuote"},
		{nip74.CheckMeltQuote, `"` + testQuoteId + `"`, "MeltQuoteState"},
		{nip74.Melt, `{"quote":"` + testQuoteId + `","inputs":[]}`, "MeltTokens"},
	}

	for _, test := range tests {
		backend := &fakeMint{}
		handler := NewMintHandler(backend, discardLogger)

		result, err := handler.Handle(context.Background(), request(test.method, test.data))
		if err != nil {
			t.Fatalf("unexpected error handling %v: %v", test.method, err)
		}
		if result.Status != nip74.Success || result.RequestId != "req-1" {
			t.Fatalf("expected success for %v but got %+v", test.method, result)
		}
		if backend.lastCall != test.expectedCall {
			t.Fatalf("expected call '%v' but got '%v'", test.expectedCall, backend.lastCall)
		}
	}
}

func TestMintHandlerDefaults(t *testing.T) {
	backend := &fakeMint{}
	handler := NewMintHandler(backend, discardLogger)

	if _, err := handler.Handle(context.Background(), request(nip74.GetMintQuote, `{"amount":21}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quoteReq := backend.lastArg.(nut04.PostMintQuoteBolt11Request)
	if quoteReq.Unit != "sat" || quoteReq.Amount != 21 {
		t.Fatalf("expected 21 sat request but got %+v", quoteReq)
	}

	result, err := handler.Handle(context.Background(), request(nip74.Info, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info InfoData
	if err := json.Unmarshal(result.Data, &info); err != nil {
		t.Fatalf("unexpected error decoding info: %v", err)
	}
	if info.Info.Name != "fake mint" {
		t.Fatalf("expected name 'fake mint' but got '%v'", info.Info.Name)
	}
	if len(info.Keysets.Keysets) != 1 || info.Keysets.Keysets[0].Keys[1] != "02ab" {
		t.Fatalf("expected active keyset in info data but got %+v", info.Keysets)
	}
}

func TestMintHandlerErrors(t *testing.T) {
	tests := []struct {
		method          nip74.OperationMethod
		data            string
		backendErr      error
		expectedCode    string
		expectedMessage string
	}{
		{nip74.Info, "", errors.New("boom"), "info_failed", "boom"},
		{nip74.GetMintQuote, `{"amount":1}`, cashu.MintAmountExceededErr, "get_mint_quote_failed", cashu.MintAmountExceededErr.Detail},
		{nip74.CheckMintQuote, `"` + testQuoteId + `"`, cashu.QuoteNotExistErr, "check_mint_quote_failed", cashu.QuoteNotExistErr.Detail},
		{nip74.Mint, `{"quote":"q"}`, cashu.MintQuoteRequestNotPaid, "mint_failed", cashu.MintQuoteRequestNotPaid.Detail},
		{nip74.GetMeltQuote, `{"request":"x"}`, cashu.BuildCashuError("invalid invoice", cashu.MeltQuoteErrCode), "get_melt_quote_failed", "invalid invoice"},
		{nip74.CheckMeltQuote, `{"quote":"` + testQuoteId + `"}`, cashu.BuildCashuError("db down", cashu.DBErrCode), "check_melt_quote_failed", cashu.StandardErr.Detail},
		{nip74.Melt, `{"quote":"q"}`, cashu.InsufficientProofsAmount, "melt_failed", cashu.InsufficientProofsAmount.Detail},
	}

	for _, test := range tests {
		handler := NewMintHandler(&fakeMint{err: test.backendErr}, discardLogger)

		result, err := handler.Handle(context.Background(), request(test.method, test.data))
		if err != nil {
			t.Fatalf("unexpected error handling %v: %v", test.method, err)
		}
		if result.Status != nip74.Error || result.Data != nil {
			t.Fatalf("expected error result for %v but got %+v", test.method, result)
		}
		if result.Error.Code != test.expectedCode {
			t.Errorf("expected code '%v' but got '%v'", test.expectedCode, result.Error.Code)
		}
		if result.Error.Message != test.expectedMessage {
			t.Errorf("expected message '%v' but got '%v'", test.expectedMessage, result.Error.Message)
		}
	}
}

func TestMintHandlerMalformedData(t *testing.T) {
	tests := []struct {
		method nip74.OperationMethod
		data   string
	}{
		{nip74.GetMintQuote, ""},
		{nip74.GetMintQuote, `[1,2]`},
		{nip74.CheckMintQuote, `"not-a-quote"`},
		{nip74.CheckMeltQuote, `{"quote":""}`},
		{nip74.CheckMeltQuote, `42`},
		{nip74.Melt, `"x"`},
	}

	for _, test := range tests {
		backend := &fakeMint{}
		handler := NewMintHandler(backend, discardLogger)

		_, err := handler.Handle(context.Background(), request(test.method, test.data))
		if !errors.Is(err, errMalformedData) {
			t.Fatalf("expected error '%v' for %v '%v' but got '%v'", errMalformedData, test.method, test.data, err)
		}
		if backend.lastCall != "" {
			t.Fatalf("expected backend not to be called but got '%v'", backend.lastCall)
		}
	}
}
