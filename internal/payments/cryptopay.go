package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const cryptoPayBaseURL = "https://pay.crypt.bot/api"

// CryptoPay talks to the Crypto Pay API (@CryptoBot).
type CryptoPay struct {
	token   string
	asset   string
	baseURL string
	client  *http.Client
}

func NewCryptoPay(token, asset string) *CryptoPay {
	return &CryptoPay{
		token:   token,
		asset:   asset,
		baseURL: cryptoPayBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type cryptoPayEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type cryptoPayInvoice struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	PayURL        string `json:"pay_url"`
	BotInvoiceURL string `json:"bot_invoice_url"`
}

func (c *CryptoPay) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: cryptopay status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var env cryptoPayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decoding cryptopay response: %v", ErrProviderUnavailable, err)
	}
	if !env.OK {
		name := "unknown"
		if env.Error != nil {
			name = env.Error.Name
		}
		return fmt.Errorf("%w: cryptopay %s: %s", ErrProviderRejected, method, name)
	}
	return json.Unmarshal(env.Result, result)
}

func (c *CryptoPay) Create(ctx context.Context, amountMinor int64, description string) (*Invoice, error) {
	params := map[string]any{
		"asset":       c.asset,
		"amount":      minorToAmountString(amountMinor),
		"description": description,
	}
	var inv cryptoPayInvoice
	if err := c.call(ctx, "createInvoice", params, &inv); err != nil {
		return nil, err
	}
	payURL := inv.BotInvoiceURL
	if payURL == "" {
		payURL = inv.PayURL
	}
	return &Invoice{
		ExternalRef: fmt.Sprintf("%d", inv.InvoiceID),
		PayURL:      payURL,
	}, nil
}

func (c *CryptoPay) CheckStatus(ctx context.Context, externalRef string) (Status, error) {
	params := map[string]any{"invoice_ids": externalRef}
	var result struct {
		Items []cryptoPayInvoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", params, &result); err != nil {
		// Per the gateway contract CheckStatus only fails transiently;
		// a rejected lookup means the reference is gone on the provider side.
		if errors.Is(err, ErrProviderRejected) {
			return StatusFailed, nil
		}
		return "", err
	}
	if len(result.Items) == 0 {
		return StatusFailed, nil
	}
	switch result.Items[0].Status {
	case "paid":
		return StatusCompleted, nil
	case "expired":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}
