package testing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
)

const (
	TokenAddress    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	PayerAddress    = "0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326"
	TreasuryAddress = "0x388C818CA8B9251b393131C08a736A67ccB19297"
)

func MockChainConfig() config.ChainConfig {
	return config.ChainConfig{
		RPCURL:           "http://localhost:8545",
		ChainID:          8453,
		TokenAddress:     TokenAddress,
		TokenName:        "USD Coin",
		TokenVersion:     "2",
		TokenSymbol:      "USDC",
		TokenDecimals:    6,
		TreasuryAddress:  TreasuryAddress,
		TransferGasLimit: 90000,
		ReceiptAttempts:  3,
		ReceiptInterval:  time.Millisecond,
	}
}

func MockCheckoutConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		SessionTTL:       15 * time.Minute,
		SessionRetention: 24 * time.Hour,
		SweepInterval:    time.Minute,
		IdempotencyTTL:   24 * time.Hour,
		MaxBatchSize:     20,
		BatchGroupSize:   5,
		BatchGroupDelay:  time.Millisecond,
	}
}

func MockAuthorization() *models.TransferAuthorization {
	now := time.Now().Unix()
	return &models.TransferAuthorization{
		Token:       TokenAddress,
		From:        PayerAddress,
		To:          TreasuryAddress,
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", now+3600),
		Nonce:       "0x" + strings.Repeat("11", 32),
		Signature:   "0x" + strings.Repeat("ab", 65),
	}
}

func MockPaymentRequest() *models.PaymentRequest {
	return &models.PaymentRequest{
		From:          PayerAddress,
		To:            TreasuryAddress,
		Amount:        "1000000",
		Method:        models.PaymentMethodGasless,
		Authorization: MockAuthorization(),
		Metadata: models.JSON{
			"content_id": "article-789",
		},
	}
}

func MockSession() *models.CheckoutSession {
	now := time.Now()
	return &models.CheckoutSession{
		ID:            "chk_test123",
		UserID:        "user_test123",
		ContentID:     "article-789",
		Amount:        "1000000",
		PayerAddress:  PayerAddress,
		Status:        models.CheckoutStatusPending,
		PaymentMethod: models.PaymentMethodGasless,
		CreatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	}
}

func MockPurchase() *models.Purchase {
	return &models.Purchase{
		ID:            "pur_test123",
		UserID:        "user_test123",
		ContentID:     "article-789",
		CheckoutID:    "chk_test123",
		Amount:        "1000000",
		Currency:      "USDC",
		PayerAddress:  PayerAddress,
		PaymentMethod: models.PaymentMethodGasless,
		Sponsored:     true,
		OperationHash: "0x" + strings.Repeat("cd", 32),
		CreatedAt:     time.Now(),
	}
}

func MockContext() context.Context {
	return context.Background()
}

func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
