package ipaymu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BankCode represents supported bank codes for VA
type BankCode string

const (
	BankBCA     BankCode = "bca"
	BankMandiri BankCode = "mandiri"
	BankBNI     BankCode = "bni"
	BankBRI     BankCode = "bri"
	BankCIMB    BankCode = "cimb"
)

// Callback status codes sent by iPaymu
const (
	StatusCodeSuccess = "1"
	StatusCodePending = "0"
	StatusCodeExpired = "-2"
)

// Signed callback statuses
const (
	StatusSuccess = "berhasil"
	StatusPending = "pending"
	StatusExpired = "expired"
	StatusFailed  = "gagal"
)

// paidAtLayout is the wall-clock format of paid_at, expressed in WIB (UTC+7)
const paidAtLayout = "2006-01-02 15:04:05"

var wib = time.FixedZone("WIB", 7*60*60)

var (
	// ErrInvalidSignature is returned when a callback signature does not match
	ErrInvalidSignature = errors.New("ipaymu: invalid callback signature")
	// ErrMissingSession is returned when a callback carries no session id
	ErrMissingSession = errors.New("ipaymu: callback has no sid")
	// ErrStatusMismatch is returned when the unsigned status_code contradicts the signed status
	ErrStatusMismatch = errors.New("ipaymu: status_code does not match signed status")
)

// Config holds iPaymu API configuration
type Config struct {
	VA        string // Virtual Account number (merchant VA)
	APIKey    string // API Key from iPaymu
	BaseURL   string // Base URL (sandbox or production)
	NotifyURL string // Webhook URL for payment notifications
	ReturnURL string // Where the buyer lands after paying
	CancelURL string // Where the buyer lands after cancelling
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client is the iPaymu API client
type Client struct {
	config     Config
	httpClient *http.Client
	log        *zap.Logger
}

// RedirectPaymentRequest represents the request body for a hosted checkout
type RedirectPaymentRequest struct {
	Product       []string `json:"product"`
	Qty           []int    `json:"qty"`
	Price         []int64  `json:"price"`
	ReturnURL     string   `json:"returnUrl"`
	CancelURL     string   `json:"cancelUrl"`
	NotifyURL     string   `json:"notifyUrl"`
	ReferenceID   string   `json:"referenceId"`
	PaymentMethod string   `json:"paymentMethod,omitempty"`
	PaymentChan   string   `json:"paymentChannel,omitempty"`
}

// RedirectPaymentResponse represents the iPaymu API response
type RedirectPaymentResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		SessionID string `json:"SessionID"`
		URL       string `json:"Url"`
	} `json:"Data"`
}

// RedirectSession is a created hosted checkout
type RedirectSession struct {
	SessionID string
	URL       string
}

// Notification is a verified iPaymu callback
type Notification struct {
	SessionID   string
	TrxID       string
	ReferenceID string
	Status      string // berhasil, pending, expired, gagal
	StatusCode  string
	Via         string
	Channel     string
	PaidAt      time.Time
}

// Succeeded reports whether iPaymu settled the transaction.
// Only status is covered by the signature, so outcomes are read from it.
func (n *Notification) Succeeded() bool {
	return n.Status == StatusSuccess
}

// Pending reports whether iPaymu is still waiting for the buyer
func (n *Notification) Pending() bool {
	return n.Status == StatusPending
}

// NewClient creates a new iPaymu client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.Named("ipaymu"),
	}
}

// generateSignature creates the HMAC-SHA256 signature for iPaymu API
// Step 1: bodyHash = lowercase(sha256(jsonBody))
// Step 2: stringToSign = METHOD + ":" + va + ":" + bodyHash + ":" + apiKey
// Step 3: signature = lowercase(hmacSha256(apiKey, stringToSign))
func (c *Client) generateSignature(jsonBody []byte, method string) string {
	bodyHashBytes := sha256.Sum256(jsonBody)
	bodyHash := strings.ToLower(hex.EncodeToString(bodyHashBytes[:]))

	stringToSign := fmt.Sprintf("%s:%s:%s:%s", method, c.config.VA, bodyHash, c.config.APIKey)

	h := hmac.New(sha256.New, []byte(c.config.APIKey))
	h.Write([]byte(stringToSign))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

// CreateRedirectPayment creates a hosted checkout session for a single line item
func (c *Client) CreateRedirectPayment(ctx context.Context, referenceID string, amount int64, description string, bankCode BankCode) (*RedirectSession, error) {
	url := c.config.BaseURL + "/api/v2/payment"

	reqBody := RedirectPaymentRequest{
		Product:     []string{description},
		Qty:         []int{1},
		Price:       []int64{amount},
		ReturnURL:   c.config.ReturnURL,
		CancelURL:   c.config.CancelURL,
		NotifyURL:   c.config.NotifyURL,
		ReferenceID: referenceID,
	}
	if bankCode != "" {
		reqBody.PaymentMethod = "va"
		reqBody.PaymentChan = string(bankCode)
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("va", c.config.VA)
	req.Header.Set("signature", c.generateSignature(jsonBody, http.MethodPost))
	req.Header.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	c.log.Debug("creating redirect payment",
		zap.String("reference_id", referenceID),
		zap.Int64("amount", amount),
		zap.String("bank", string(bankCode)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("iPaymu API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var apiResp RedirectPaymentResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if apiResp.Status != http.StatusOK {
		return nil, fmt.Errorf("iPaymu API error: %s", apiResp.Message)
	}
	if apiResp.Data.SessionID == "" || apiResp.Data.URL == "" {
		return nil, fmt.Errorf("iPaymu API error: response missing session or url")
	}

	return &RedirectSession{
		SessionID: apiResp.Data.SessionID,
		URL:       apiResp.Data.URL,
	}, nil
}

// CallbackSignature computes the signature iPaymu attaches to callbacks
// Formula: hmac_sha256(apiKey, va + "." + sid + "." + status)
func (c *Client) CallbackSignature(sid, status string) string {
	stringToSign := c.config.VA + "." + sid + "." + status
	mac := hmac.New(sha256.New, []byte(c.config.APIKey))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseNotification verifies and decodes raw callback parameters. The same
// signed fields are sent on the buyer redirect and on the server notify call.
func (c *Client) ParseNotification(params map[string]string) (*Notification, error) {
	sid := strings.TrimSpace(params["sid"])
	if sid == "" {
		return nil, ErrMissingSession
	}
	status := strings.ToLower(strings.TrimSpace(params["status"]))

	provided := strings.ToLower(strings.TrimSpace(params["signature"]))
	expected := c.CallbackSignature(sid, strings.TrimSpace(params["status"]))
	if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return nil, ErrInvalidSignature
	}

	n := &Notification{
		SessionID:   sid,
		TrxID:       params["trx_id"],
		ReferenceID: params["reference_id"],
		Status:      status,
		StatusCode:  strings.TrimSpace(params["status_code"]),
		Via:         params["via"],
		Channel:     params["channel"],
	}
	if !statusCodeAgrees(n.Status, n.StatusCode) {
		return nil, fmt.Errorf("%w: status %q, status_code %q", ErrStatusMismatch, n.Status, n.StatusCode)
	}
	if raw := strings.TrimSpace(params["paid_at"]); raw != "" {
		if paidAt, err := time.ParseInLocation(paidAtLayout, raw, wib); err == nil {
			n.PaidAt = paidAt.UTC()
		}
	}
	return n, nil
}

// statusCodeAgrees accepts an empty code; otherwise success and pending codes
// must pair with their signed status.
func statusCodeAgrees(status, code string) bool {
	switch code {
	case "":
		return true
	case StatusCodeSuccess:
		return status == StatusSuccess
	case StatusCodePending:
		return status == StatusPending
	default:
		return status != StatusSuccess && status != StatusPending
	}
}

// MapBankCodeToIPAYMU converts frontend bank name to iPaymu bank code.
// Unknown names yield an empty code so the buyer picks on the hosted page.
func MapBankCodeToIPAYMU(bank string) BankCode {
	switch strings.ToUpper(strings.TrimSpace(bank)) {
	case "BCA":
		return BankBCA
	case "MANDIRI":
		return BankMandiri
	case "BNI":
		return BankBNI
	case "BRI":
		return BankBRI
	case "CIMB":
		return BankCIMB
	default:
		return ""
	}
}
