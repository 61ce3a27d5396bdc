// Package mintclient talks to a Cashu mint over its HTTP API.
package mintclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/cashu/nuts/nut04"
	"github.com/purrmint/purrmint/cashu/nuts/nut05"
	"github.com/purrmint/purrmint/cashu/nuts/nut06"
)

type Client struct {
	mintURL    string
	httpClient *http.Client
}

func New(mintURL string) (*Client, error) {
	parsed, err := url.Parse(mintURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid mint url %q", mintURL)
	}
	return &Client{
		mintURL:    strings.TrimSuffix(mintURL, "/"),
		httpClient: &http.Client{Timeout: time.Minute},
	}, nil
}

func (c *Client) URL() string {
	return c.mintURL
}

func (c *Client) MintInfo(ctx context.Context) (nut06.MintInfo, error) {
	var mintInfo nut06.MintInfo
	err := c.get(ctx, "/v1/info", &mintInfo)
	return mintInfo, err
}

func (c *Client) ActiveKeysets(ctx context.Context) (nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	err := c.get(ctx, "/v1/keys", &keysetRes)
	return keysetRes, err
}

func (c *Client) RequestMintQuote(ctx context.Context, req nut04.PostMintQuoteBolt11Request) (nut04.PostMintQuoteBolt11Response, error) {
	var quote nut04.PostMintQuoteBolt11Response
	err := c.post(ctx, "/v1/mint/quote/bolt11", req, &quote)
	return quote, err
}

func (c *Client) MintQuoteState(ctx context.Context, quoteId string) (nut04.PostMintQuoteBolt11Response, error) {
	var quote nut04.PostMintQuoteBolt11Response
	err := c.get(ctx, "/v1/mint/quote/bolt11/"+url.PathEscape(quoteId), &quote)
	return quote, err
}

func (c *Client) MintTokens(ctx context.Context, req nut04.PostMintBolt11Request) (nut04.PostMintBolt11Response, error) {
	var mintRes nut04.PostMintBolt11Response
	err := c.post(ctx, "/v1/mint/bolt11", req, &mintRes)
	return mintRes, err
}

func (c *Client) RequestMeltQuote(ctx context.Context, req nut05.PostMeltQuoteBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.post(ctx, "/v1/melt/quote/bolt11", req, &quote)
	return quote, err
}

func (c *Client) MeltQuoteState(ctx context.Context, quoteId string) (nut05.PostMeltQuoteBolt11Response, error) {
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.get(ctx, "/v1/melt/quote/bolt11/"+url.PathEscape(quoteId), &quote)
	return quote, err
}

func (c *Client) MeltTokens(ctx context.Context, req nut05.PostMeltBolt11Request) (nut05.PostMeltQuoteBolt11Response, error) {
	var quote nut05.PostMeltQuoteBolt11Response
	err := c.post(ctx, "/v1/melt/bolt11", req, &quote)
	return quote, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mintURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *Client) post(ctx context.Context, path string, body any, dst any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mintURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := parse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

// parse returns the mint's cashu.Error for a 400 response.
func parse(response *http.Response) error {
	if response.StatusCode == http.StatusBadRequest {
		var errResponse cashu.Error
		if err := json.NewDecoder(response.Body).Decode(&errResponse); err != nil {
			return fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return errResponse
	}

	if response.StatusCode != http.StatusOK {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s", body)
	}
	return nil
}
