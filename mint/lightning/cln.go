package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CLNConfig struct {
	RestURL string
	Rune    string
}

// CLNClient talks to Core Lightning through clnrest.
type CLNClient struct {
	config CLNConfig
	client *http.Client
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return "cln: " + e.Message
}

func SetupCLNClient(config CLNConfig) (*CLNClient, error) {
	if config.RestURL == "" {
		return nil, errors.New("cln rest url cannot be empty")
	}
	if config.Rune == "" {
		return nil, errors.New("cln rune cannot be empty")
	}
	config.RestURL = strings.TrimSuffix(config.RestURL, "/")

	return &CLNClient{
		config: config,
		client: &http.Client{Timeout: time.Minute},
	}, nil
}

// clnrest takes every method as a POST with the params as JSON body.
func (cln *CLNClient) post(ctx context.Context, method string, body any, result any) error {
	jsonData := []byte("{}")
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cln.config.RestURL+"/v1/"+method, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Rune", cln.config.Rune)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := cln.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errRes := &ErrorResponse{Code: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errRes); err != nil || errRes.Message == "" {
			errRes.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return errRes
	}

	return json.Unmarshal(bodyBytes, result)
}

func (cln *CLNClient) CreateInvoice(ctx context.Context, amount uint64) (Invoice, error) {
	body := map[string]any{
		"amount_msat": amount * 1000,
		"label":       uuid.NewString(),
		"description": "purrmint",
		"expiry":      InvoiceExpiryMins * 60,
	}

	var res struct {
		Bolt11      string `json:"bolt11"`
		PaymentHash string `json:"payment_hash"`
		ExpiresAt   uint64 `json:"expires_at"`
	}
	if err := cln.post(ctx, "invoice", body, &res); err != nil {
		return Invoice{}, fmt.Errorf("cln.CreateInvoice: %v", err)
	}

	return Invoice{
		PaymentRequest: res.Bolt11,
		PaymentHash:    res.PaymentHash,
		Amount:         amount,
		Expiry:         res.ExpiresAt,
	}, nil
}

func (cln *CLNClient) InvoiceStatus(ctx context.Context, hash string) (Invoice, error) {
	var res struct {
		Invoices []struct {
			Bolt11      string `json:"bolt11"`
			PaymentHash string `json:"payment_hash"`
			Preimage    string `json:"payment_preimage"`
			AmountMsat  uint64 `json:"amount_msat"`
			Status      string `json:"status"`
			ExpiresAt   uint64 `json:"expires_at"`
		} `json:"invoices"`
	}
	if err := cln.post(ctx, "listinvoices", map[string]string{"payment_hash": hash}, &res); err != nil {
		return Invoice{}, fmt.Errorf("cln.InvoiceStatus: %v", err)
	}
	if len(res.Invoices) == 0 {
		return Invoice{}, ErrInvoiceNotFound
	}

	invoice := res.Invoices[0]
	return Invoice{
		PaymentRequest: invoice.Bolt11,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       invoice.Preimage,
		Settled:        invoice.Status == "paid",
		Amount:         invoice.AmountMsat / 1000,
		Expiry:         invoice.ExpiresAt,
	}, nil
}

func (cln *CLNClient) SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error) {
	body := map[string]any{
		"bolt11": request,
		"maxfee": cln.FeeReserve(amount) * 1000,
	}

	var res struct {
		Preimage string `json:"payment_preimage"`
		Status   string `json:"status"`
	}
	if err := cln.post(ctx, "pay", body, &res); err != nil {
		// only a reply from the node tells the payment did not go out
		var errRes *ErrorResponse
		if errors.As(err, &errRes) {
			return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error making payment: %w", err)
		}
		return PaymentStatus{PaymentStatus: Pending}, fmt.Errorf("error making payment: %w", err)
	}

	status := Pending
	switch res.Status {
	case "complete":
		status = Succeeded
	case "failed":
		status = Failed
	}
	return PaymentStatus{Preimage: res.Preimage, PaymentStatus: status}, nil
}

func (cln *CLNClient) FeeReserve(amount uint64) uint64 {
	return uint64(float64(amount) * FeePercent / 100)
}
