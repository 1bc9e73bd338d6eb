package models

import (
	"time"
)

// Purchase is the durable ledger row recorded after a checkout completes.
// Recording happens post-commit: the payment result already returned to the
// caller is never undone by a recording failure.
type Purchase struct {
	ID              string        `json:"id" gorm:"primaryKey;type:uuid"`
	UserID          string        `json:"userId" gorm:"not null;index"`
	ContentID       string        `json:"contentId" gorm:"not null;index"`
	CheckoutID      string        `json:"checkoutId" gorm:"not null;uniqueIndex"`
	Amount          string        `json:"amount" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"not null"`
	PayerAddress    string        `json:"payerAddress" gorm:"not null"`
	PaymentMethod   PaymentMethod `json:"paymentMethod" gorm:"not null"`
	Sponsored       bool          `json:"sponsored"`
	FallbackUsed    bool          `json:"fallbackUsed"`
	TransactionHash string        `json:"transactionHash,omitempty" gorm:"index"`
	OperationHash   string        `json:"operationHash,omitempty"`
	Metadata        JSON          `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt       time.Time     `json:"createdAt" gorm:"autoCreateTime"`
}

type ListPurchasesRequest struct {
	UserID    string `json:"userId,omitempty"`
	ContentID string `json:"contentId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type ListPurchasesResponse struct {
	Purchases []*Purchase `json:"purchases"`
	Total     int         `json:"total"`
}
