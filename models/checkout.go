package models

import (
	"time"
)

type CheckoutStatus string

const (
	CheckoutStatusPending   CheckoutStatus = "pending"
	CheckoutStatusCompleted CheckoutStatus = "completed"
	CheckoutStatusFailed    CheckoutStatus = "failed"
	CheckoutStatusExpired   CheckoutStatus = "expired"
)

// Terminal reports whether the status has no outgoing transitions.
func (s CheckoutStatus) Terminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusFailed || s == CheckoutStatusExpired
}

// CheckoutSession tracks one content purchase from initialization to a
// terminal state. A session stays pending for its TTL window; after that
// only the expired transition remains. Terminal sessions are immutable.
type CheckoutSession struct {
	ID                    string                 `json:"id"`
	UserID                string                 `json:"userId"`
	ContentID             string                 `json:"contentId"`
	Amount                string                 `json:"amount"`
	PayerAddress          string                 `json:"payerAddress"`
	Status                CheckoutStatus         `json:"status"`
	PaymentMethod         PaymentMethod          `json:"paymentMethod"`
	AuthorizationTemplate *AuthorizationTemplate `json:"authorizationTemplate,omitempty"`
	TransactionHash       string                 `json:"transactionHash,omitempty"`
	OperationHash         string                 `json:"operationHash,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	ExpiresAt             time.Time              `json:"expiresAt"`
}

// Expired reports whether the pending window has passed at t.
func (s *CheckoutSession) Expired(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

type InitCheckoutRequest struct {
	ContentID     string        `json:"contentId"`
	Amount        string        `json:"amount"`
	PayerAddress  string        `json:"payerAddress"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
}

type InitCheckoutResponse struct {
	CheckoutID            string                 `json:"checkoutId"`
	Amount                string                 `json:"amount"`
	PaymentMethod         PaymentMethod          `json:"paymentMethod"`
	ExpiresAt             time.Time              `json:"expiresAt"`
	AuthorizationTemplate *AuthorizationTemplate `json:"authorizationTemplate,omitempty"`
}

type CompleteCheckoutRequest struct {
	CheckoutID string `json:"checkoutId"`
	Signature  string `json:"signature,omitempty"`
}

type CompleteCheckoutResponse struct {
	Success         bool          `json:"success"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	GasSponsored    bool          `json:"gasSponsored"`
	FallbackUsed    bool          `json:"fallbackUsed"`
	TransactionHash string        `json:"transactionHash,omitempty"`
	OperationHash   string        `json:"operationHash,omitempty"`
	GasSavings      *GasSavings   `json:"gasSavings,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type CancelCheckoutRequest struct {
	CheckoutID string `json:"checkoutId"`
}

type CancelCheckoutResponse struct {
	Success bool           `json:"success"`
	Status  CheckoutStatus `json:"status"`
}
