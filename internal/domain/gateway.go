package domain

import (
	"context"
	"time"
)

// CheckoutRequest asks the gateway for a hosted checkout page.
type CheckoutRequest struct {
	PaymentID   string // echoed back by the gateway as its reference id
	Amount      int64
	Description string
	BankHint    string
}

// CheckoutSession is the gateway's answer to a CheckoutRequest.
type CheckoutSession struct {
	URL       string
	Reference string // gateway-assigned correlation key
}

// CallbackStatus is the gateway-reported state of a transaction.
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "success"
	CallbackPending CallbackStatus = "pending"
	CallbackFailed  CallbackStatus = "failed"
)

// CallbackOutcome is a validated, structured gateway callback.
type CallbackOutcome struct {
	Reference     string
	Status        CallbackStatus
	ResponseCode  string
	TransactionID string
	Channel       string
	Bank          string
	Reason        string
	PaidAt        time.Time
}

// GatewayClient is the trust boundary to the redirect payment gateway.
// Signature verification happens behind InterpretCallback.
type GatewayClient interface {
	CreateCheckoutURL(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ExtractReference pulls the correlation key and response code out of raw
	// callback parameters without validating them.
	ExtractReference(params map[string]string) (reference, responseCode string)
	// InterpretCallback validates raw callback parameters. An error wrapping
	// ErrVerificationFailed means the payload could not be trusted.
	InterpretCallback(params map[string]string) (*CallbackOutcome, error)
}

// Channel of a gateway callback
type Channel string

const (
	ChannelReturn  Channel = "return"
	ChannelWebhook Channel = "webhook"
)
