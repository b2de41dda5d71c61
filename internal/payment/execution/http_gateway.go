package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway submits payout instructions to a bank transfer provider
// over its REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway constructs a gateway client.
func NewHTTPGateway(baseURL, apiKey string) (*HTTPGateway, error) {
	if baseURL == "" {
		return nil, errors.New("payment gateway: empty base url")
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type transferRequest struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	BranchCode    string `json:"branch_code"`
}

type transferResponse struct {
	TransactionID string    `json:"transaction_id"`
	ProcessedAt   time.Time `json:"processed_at"`
	Code          string    `json:"code"`
	Reason        string    `json:"reason"`
}

// Submit sends one payout. A declined transfer returns a FailedError;
// transport problems surface as plain errors.
func (g *HTTPGateway) Submit(ctx context.Context, in Instruction) (Receipt, error) {
	payload, err := json.Marshal(transferRequest{
		Reference:     in.Reference,
		Amount:        in.Amount.String(),
		Currency:      in.Currency,
		Method:        in.Method,
		AccountName:   in.Bank.AccountName,
		AccountNumber: in.Bank.AccountNumber,
		BankName:      in.Bank.BankName,
		BranchCode:    in.Bank.BranchCode,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	// the reference doubles as the provider-side idempotency key
	req.Header.Set("Idempotency-Key", in.Reference)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	var body transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode < 300 {
		return Receipt{}, fmt.Errorf("payment gateway: decode response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		at := body.ProcessedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		return Receipt{TransactionID: body.TransactionID, ProcessedAt: at}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		code := body.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		reason := body.Reason
		if reason == "" {
			reason = "transfer declined"
		}
		return Receipt{}, &FailedError{Code: code, Reason: reason}
	default:
		return Receipt{}, fmt.Errorf("payment gateway: unexpected status %d", resp.StatusCode)
	}
}

// LoggingGateway acknowledges payouts locally. It stands in for the
// bank integration in environments without one.
type LoggingGateway struct {
	logger Logger
}

// Logger is the minimal logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// NewLoggingGateway constructs the stand-in gateway.
func NewLoggingGateway(logger Logger) *LoggingGateway {
	return &LoggingGateway{logger: logger}
}

// Submit acknowledges the payout with a synthetic transaction id.
func (g *LoggingGateway) Submit(ctx context.Context, in Instruction) (Receipt, error) {
	_ = ctx
	now := time.Now().UTC()
	id := "TXN-" + now.Format("20060102150405") + "-" + in.Reference
	if g.logger != nil {
		g.logger.Printf("payment gateway (logging): %s %s %s -> %s", in.Reference, in.Amount, in.Currency, id)
	}
	return Receipt{TransactionID: id, ProcessedAt: now}, nil
}
