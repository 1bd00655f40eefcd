package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BitcoinService talks to the BlockCypher API to produce and verify
// off-system settlement artifacts. The core treats its own ledger as
// authoritative; these calls never gate a status transition beyond funding.
type BitcoinService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewBitcoinService(apiKey, baseURL string) *BitcoinService {
	return &BitcoinService{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// GenerateWallet creates a fresh deposit address tied to the transaction.
func (s *BitcoinService) GenerateWallet(ctx context.Context, transactionID string) (string, error) {
	url := fmt.Sprintf("%s/wallets/generate?token=%s", s.baseURL, s.apiKey)
	payload, err := json.Marshal(map[string]string{"name": "escrow-" + transactionID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bitcoin: generate wallet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bitcoin: generate wallet returned %d", resp.StatusCode)
	}

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("bitcoin: decode wallet response: %w", err)
	}
	if body.Address == "" {
		return "", fmt.Errorf("bitcoin: empty address in response")
	}
	return body.Address, nil
}

// CheckPayment reports whether the address holds at least expectedAmount
// satoshis.
func (s *BitcoinService) CheckPayment(ctx context.Context, address string, expectedAmount int64) (bool, error) {
	url := fmt.Sprintf("%s/addrs/%s/balance", s.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("bitcoin: check payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bitcoin: balance lookup returned %d", resp.StatusCode)
	}

	var body struct {
		FinalBalance int64 `json:"final_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("bitcoin: decode balance response: %w", err)
	}
	return body.FinalBalance >= expectedAmount, nil
}
