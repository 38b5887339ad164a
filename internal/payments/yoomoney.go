package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	yooMoneyQuickpayURL = "https://yoomoney.ru/quickpay/confirm"
	yooMoneyHistoryURL  = "https://yoomoney.ru/api/operation-history"
)

// YooMoney builds quickpay redirect links and checks settlement through the
// operation-history API, correlating by the payment label.
type YooMoney struct {
	token      string
	receiver   string
	historyURL string
	client     *http.Client
}

func NewYooMoney(token, receiver string) *YooMoney {
	return &YooMoney{
		token:      token,
		receiver:   receiver,
		historyURL: yooMoneyHistoryURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (y *YooMoney) Create(ctx context.Context, amountMinor int64, description string) (*Invoice, error) {
	if y.receiver == "" {
		return nil, fmt.Errorf("%w: yoomoney receiver not configured", ErrProviderRejected)
	}

	label := "vpn_" + uuid.NewString()
	q := url.Values{}
	q.Set("receiver", y.receiver)
	q.Set("quickpay-form", "button")
	q.Set("sum", minorToAmountString(amountMinor))
	q.Set("label", label)
	q.Set("targets", description)

	return &Invoice{
		ExternalRef: label,
		PayURL:      yooMoneyQuickpayURL + "?" + q.Encode(),
	}, nil
}

func (y *YooMoney) CheckStatus(ctx context.Context, externalRef string) (Status, error) {
	form := url.Values{}
	form.Set("label", externalRef)
	form.Set("records", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.historyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+y.token)

	resp, err := y.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: yoomoney status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var result struct {
		Operations []struct {
			Status string `json:"status"`
			Label  string `json:"label"`
		} `json:"operations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding yoomoney response: %v", ErrProviderUnavailable, err)
	}

	for _, op := range result.Operations {
		if op.Label != externalRef {
			continue
		}
		switch op.Status {
		case "success":
			return StatusCompleted, nil
		case "refused":
			return StatusFailed, nil
		}
	}
	return StatusPending, nil
}
