package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MpesaService initiates M-Pesa STK push collections for fiat funding. Like
// the bitcoin rail it only produces settlement artifacts; the ledger remains
// authoritative for in-app escrow.
type MpesaService struct {
	consumerKey string
	secret      string
	passkey     string
	shortcode   string
	baseURL     string
	callbackURL string
	client      *http.Client
}

func NewMpesaService(consumerKey, secret, passkey, shortcode, baseURL, callbackURL string) *MpesaService {
	return &MpesaService{
		consumerKey: consumerKey,
		secret:      secret,
		passkey:     passkey,
		shortcode:   shortcode,
		baseURL:     baseURL,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *MpesaService) accessToken(ctx context.Context) (string, error) {
	url := s.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(s.consumerKey + ":" + s.secret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa: access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa: access token returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("mpesa: decode token response: %w", err)
	}
	return body.AccessToken, nil
}

// InitiateSTKPush asks the payer's phone to authorize the collection.
func (s *MpesaService) InitiateSTKPush(ctx context.Context, phoneNumber string, amount int64, accountReference string) (string, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(s.shortcode + s.passkey + timestamp))

	payload, err := json.Marshal(map[string]any{
		"BusinessShortCode": s.shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount / 100,
		"PartyA":            phoneNumber,
		"PartyB":            s.shortcode,
		"PhoneNumber":       phoneNumber,
		"CallBackURL":       s.callbackURL,
		"AccountReference":  accountReference,
		"TransactionDesc":   "Escrow Payment",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa: stk push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mpesa: stk push returned %d", resp.StatusCode)
	}

	var body struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("mpesa: decode stk response: %w", err)
	}
	return body.CheckoutRequestID, nil
}
