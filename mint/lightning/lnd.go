package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const FeePercent = 1

type LndConfig struct {
	// REST address, e.g. https://127.0.0.1:8080
	Host         string
	CertPath     string
	MacaroonPath string
}

// LndClient talks to lnd through its REST proxy.
type LndClient struct {
	host     string
	macaroon string // hex encoded
	client   *http.Client
}

func CreateLndClient(config LndConfig) (*LndClient, error) {
	if config.Host == "" {
		return nil, errors.New("lnd host cannot be empty")
	}
	if config.MacaroonPath == "" {
		return nil, errors.New("lnd macaroon path cannot be empty")
	}

	macaroonBytes, err := os.ReadFile(config.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: os.ReadFile %v", err)
	}

	tlsConfig := &tls.Config{}
	if config.CertPath != "" {
		cert, err := os.ReadFile(config.CertPath)
		if err != nil {
			return nil, fmt.Errorf("error reading tls cert: %v", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(cert) {
			return nil, errors.New("invalid tls cert")
		}
		tlsConfig.RootCAs = certPool
	}

	return &LndClient{
		host:     strings.TrimSuffix(config.Host, "/"),
		macaroon: hex.EncodeToString(macaroonBytes),
		client: &http.Client{
			Timeout:   time.Minute,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}, nil
}

func (lnd *LndClient) do(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, lnd.host+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var lndErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &lndErr)
		if lndErr.Message != "" {
			return fmt.Errorf("lnd: %s", lndErr.Message)
		}
		return fmt.Errorf("lnd: unexpected status %d", resp.StatusCode)
	}

	return json.Unmarshal(respBody, result)
}

// lnd REST encodes bytes fields as base64
func base64ToHex(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return hex.EncodeToString(b)
}

func hexToBase64URL(s string) string {
	b, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return base64.URLEncoding.EncodeToString(b)
}

func (lnd *LndClient) CreateInvoice(ctx context.Context, amount uint64) (Invoice, error) {
	body := map[string]any{"value": amount, "expiry": InvoiceExpiryMins * 60}

	var res struct {
		PaymentRequest string `json:"payment_request"`
		RHash          string `json:"r_hash"`
	}
	if err := lnd.do(ctx, http.MethodPost, "/v1/invoices", body, &res); err != nil {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: %v", err)
	}

	return Invoice{
		PaymentRequest: res.PaymentRequest,
		PaymentHash:    base64ToHex(res.RHash),
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(time.Minute * InvoiceExpiryMins).Unix()),
	}, nil
}

func (lnd *LndClient) InvoiceStatus(ctx context.Context, hash string) (Invoice, error) {
	var res struct {
		PaymentRequest string `json:"payment_request"`
		RPreimage      string `json:"r_preimage"`
		Value          string `json:"value"`
		State          string `json:"state"`
	}
	path := "/v2/invoices/lookup?payment_hash=" + hexToBase64URL(hash)
	if err := lnd.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return Invoice{}, fmt.Errorf("lnd.InvoiceStatus: %v", err)
	}

	var amount uint64
	fmt.Sscanf(res.Value, "%d", &amount)

	return Invoice{
		PaymentRequest: res.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       base64ToHex(res.RPreimage),
		Settled:        res.State == "SETTLED",
		Amount:         amount,
	}, nil
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, amount uint64) (PaymentStatus, error) {
	body := map[string]any{
		"payment_request": request,
		"fee_limit":       map[string]any{"fixed": lnd.FeeReserve(amount)},
	}

	var res struct {
		PaymentError    string `json:"payment_error"`
		PaymentPreimage string `json:"payment_preimage"`
	}
	if err := lnd.do(ctx, http.MethodPost, "/v1/channels/transactions", body, &res); err != nil {
		return PaymentStatus{PaymentStatus: Pending}, fmt.Errorf("error making payment: %v", err)
	}
	if len(res.PaymentError) > 0 {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error making payment: %v", res.PaymentError)
	}

	return PaymentStatus{
		Preimage:      base64ToHex(res.PaymentPreimage),
		PaymentStatus: Succeeded,
	}, nil
}

func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	return uint64(float64(amount) * FeePercent / 100)
}
