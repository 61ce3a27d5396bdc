package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
)

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	logger     *slog.Logger
}

func SetupMintServer(m *Mint, port int) *MintServer {
	mintServer := &MintServer{mint: m, logger: m.logger}
	mintServer.setupHttpServer(port)
	return mintServer
}

func (ms *MintServer) setupHttpServer(port int) {
	ms.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           ms.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (ms *MintServer) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/info", ms.mintInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys", ms.getActiveKeysets).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", ms.getKeysetsList).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysetById).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/quote/{method}", ms.mintRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/{method}/{quote_id}", ms.mintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/{method}", ms.mintTokensRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}", ms.meltQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}/{quote_id}", ms.meltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/{method}", ms.meltTokens).Methods(http.MethodPost)

	return r
}

// Serve blocks serving the mint API on ln until Shutdown is called.
func (ms *MintServer) Serve(ln net.Listener) error {
	ms.logger.Info("mint server listening on: " + ln.Addr().String())
	if err := ms.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	return ms.httpServer.Shutdown(ctx)
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response any, logMsg string) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.logger.Info(logMsg, slog.Group("request", slog.String("method", req.Method),
		slog.String("url", req.URL.String())))
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(jsonRes)
}

// errors that did not originate from a request (db, lightning backend)
// are logged and reported as the standard error.
func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error) {
	cashuErr := toCashuError(err)
	if cashuErr.Code == cashu.DBErrCode || cashuErr.Code == cashu.LightningBackendErrCode {
		ms.logger.Error(cashuErr.Detail, slog.Group("request", slog.String("method", req.Method),
			slog.String("url", req.URL.String())))
		cashuErr = cashu.StandardErr
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func toCashuError(err error) cashu.Error {
	var errPtr *cashu.Error
	if errors.As(err, &errPtr) {
		return *errPtr
	}
	var cashuErr cashu.Error
	if errors.As(err, &cashuErr) {
		return cashuErr
	}
	return cashu.Error{Detail: err.Error(), Code: cashu.StandardErrCode}
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return cashu.StandardErr
	}
	if len(body) == 0 {
		return cashu.EmptyBodyErr
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("bad request: %v", err), cashu.StandardErrCode)
	}
	return nil
}

func checkMethod(req *http.Request) error {
	if mux.Vars(req)["method"] != cashu.BOLT11_METHOD {
		return cashu.PaymentMethodNotSupportedErr
	}
	return nil
}

func (ms *MintServer) mintInfo(rw http.ResponseWriter, req *http.Request) {
	info, err := ms.mint.RetrieveMintInfo()
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, info, "returning mint info")
}

func (ms *MintServer) getActiveKeysets(rw http.ResponseWriter, req *http.Request) {
	ms.writeResponse(rw, req, keysetResponse(*ms.mint.activeKeyset), "returning active keysets")
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	ms.writeResponse(rw, req, ms.mint.ListKeysets(), "returning all keysets")
}

func (ms *MintServer) getKeysetById(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	keyset, err := ms.mint.GetKeysetById(id)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, keyset, "returned keyset with id: "+id)
}

func (ms *MintServer) mintRequest(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	var mintReq nut04.PostMintQuoteBolt11Request
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMintQuote(req.Context(), mintReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, mintQuoteResponse(quote), "created mint quote: "+quote.Id)
}

func (ms *MintServer) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.GetMintQuoteState(req.Context(), mux.Vars(req)["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, mintQuoteResponse(quote), "returning mint quote: "+quote.Id)
}

func (ms *MintServer) mintTokensRequest(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	var mintReq nut04.PostMintBolt11Request
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	signatures, err := ms.mint.MintTokens(req.Context(), mintReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, nut04.PostMintBolt11Response{Signatures: signatures},
		"returned signatures for mint quote: "+mintReq.Quote)
}

func (ms *MintServer) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	var meltReq nut05.PostMeltQuoteBolt11Request
	if err := decodeJsonReqBody(req, &meltReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMeltQuote(req.Context(), meltReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, meltQuoteResponse(quote), "created melt quote: "+quote.Id)
}

func (ms *MintServer) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.GetMeltQuoteState(req.Context(), mux.Vars(req)["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, meltQuoteResponse(quote), "returning melt quote: "+quote.Id)
}

func (ms *MintServer) meltTokens(rw http.ResponseWriter, req *http.Request) {
	if err := checkMethod(req); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	var meltReq nut05.PostMeltBolt11Request
	if err := decodeJsonReqBody(req, &meltReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.MeltTokens(req.Context(), meltReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, meltQuoteResponse(quote), "melt quote "+quote.Id+" state: "+quote.State.String())
}
