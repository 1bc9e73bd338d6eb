package services

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/permits"
	"github.com/perstream/checkout/providers"
)

const (
	testToken    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testTreasury = "0x388C818CA8B9251b393131C08a736A67ccB19297"
	testChainID  = int64(8453)
)

func testChainConfig() config.ChainConfig {
	return config.ChainConfig{
		RPCURL:           "http://localhost:8545",
		ChainID:          testChainID,
		TokenAddress:     testToken,
		TokenName:        "USD Coin",
		TokenVersion:     "2",
		TokenSymbol:      "USDC",
		TokenDecimals:    6,
		TreasuryAddress:  testTreasury,
		TransferGasLimit: 90000,
	}
}

type mockSubmitter struct {
	submitAuthFn  func(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error)
	submitFundsFn func(ctx context.Context, token, to string, value *big.Int) (string, error)
	receiptFn     func(ctx context.Context, txHash string) error
	gasPriceFn    func(ctx context.Context) (*big.Int, error)
	submitCalls   int
}

func (m *mockSubmitter) SubmitTransferWithAuthorization(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error) {
	m.submitCalls++
	if m.submitAuthFn != nil {
		return m.submitAuthFn(ctx, token, auth)
	}
	return "0xfallbacktx", nil
}

func (m *mockSubmitter) SubmitTokenTransfer(ctx context.Context, token, to string, value *big.Int) (string, error) {
	m.submitCalls++
	if m.submitFundsFn != nil {
		return m.submitFundsFn(ctx, token, to, value)
	}
	return "0xdirecttx", nil
}

func (m *mockSubmitter) WaitForReceipt(ctx context.Context, txHash string) error {
	if m.receiptFn != nil {
		return m.receiptFn(ctx, txHash)
	}
	return nil
}

func (m *mockSubmitter) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.gasPriceFn != nil {
		return m.gasPriceFn(ctx)
	}
	return big.NewInt(2_000_000_000), nil
}

func (m *mockSubmitter) ChainID() *big.Int {
	return big.NewInt(testChainID)
}

type mockSponsor struct {
	sponsorFn    func(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error)
	submitFn     func(ctx context.Context, op *models.TransferOperation) (string, error)
	sponsorCalls int
	submitCalls  int
}

func (m *mockSponsor) SponsorOperation(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
	m.sponsorCalls++
	if m.sponsorFn != nil {
		return m.sponsorFn(ctx, op)
	}
	return &models.SponsorshipGrant{
		PaymasterAndData:     "0xpaymaster",
		CallGasLimit:         "120000",
		VerificationGasLimit: "60000",
		PreVerificationGas:   "21000",
		MaxFeePerGas:         "2000000000",
		MaxPriorityFeePerGas: "1000000000",
	}, nil
}

func (m *mockSponsor) SubmitOperation(ctx context.Context, op *models.TransferOperation) (string, error) {
	m.submitCalls++
	if m.submitFn != nil {
		return m.submitFn(ctx, op)
	}
	return "0xophash", nil
}

func (m *mockSponsor) IsAvailable(ctx context.Context) bool { return true }

func (m *mockSponsor) Name() string { return "mock" }

type staticLedger struct{}

func (staticLedger) AuthorizationUsed(ctx context.Context, token, authorizer, nonce string) (bool, error) {
	return false, nil
}

// signedGaslessRequest builds a payment request whose authorization is
// genuinely signed by a throwaway key, so the full verification path runs.
func signedGaslessRequest(t *testing.T, amount string) *models.PaymentRequest {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	template, err := permits.BuildAuthorizationTemplate(permits.TemplateParams{
		TokenName:    "USD Coin",
		TokenVersion: "2",
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}, payer, testTreasury, amount)
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	auth := template.Authorization("")
	digest, err := permits.HashAuthorization(auth, "USD Coin", "2", big.NewInt(testChainID))
	if err != nil {
		t.Fatalf("HashAuthorization() error = %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig[64] += 27
	auth.Signature = "0x" + hex.EncodeToString(sig)

	return &models.PaymentRequest{
		From:          payer,
		To:            testTreasury,
		Amount:        amount,
		Method:        models.PaymentMethodGasless,
		Authorization: auth,
	}
}

func newPaymentService(sponsor *mockSponsor, submitter *mockSubmitter) *PaymentService {
	validator := permits.CreateValidator(staticLedger{}, testToken)
	var sp providers.Sponsor
	if sponsor != nil {
		sp = sponsor
	}
	return CreatePaymentService(validator, sp, submitter, testChainConfig())
}

func TestPaymentService_Execute_Sponsored(t *testing.T) {
	sponsor := &mockSponsor{}
	submitter := &mockSubmitter{}
	svc := newPaymentService(sponsor, submitter)

	result := svc.Execute(context.Background(), signedGaslessRequest(t, "1000000"))

	if !result.Success {
		t.Fatalf("Execute() success = false, error = %q", result.Error)
	}
	if !result.Sponsored {
		t.Error("Execute() sponsored = false, want true")
	}
	if result.FallbackUsed {
		t.Error("Execute() fallbackUsed = true, want false")
	}
	if result.OperationHash != "0xophash" {
		t.Errorf("Execute() operationHash = %q, want 0xophash", result.OperationHash)
	}
	if submitter.submitCalls != 0 {
		t.Errorf("submitter calls = %d, want 0", submitter.submitCalls)
	}
}

func TestPaymentService_Execute_GrantFillsOperation(t *testing.T) {
	var submitted *models.TransferOperation
	sponsor := &mockSponsor{
		submitFn: func(ctx context.Context, op *models.TransferOperation) (string, error) {
			submitted = op
			return "0xophash", nil
		},
	}
	svc := newPaymentService(sponsor, &mockSubmitter{})

	req := signedGaslessRequest(t, "1000000")
	if result := svc.Execute(context.Background(), req); !result.Success {
		t.Fatalf("Execute() success = false, error = %q", result.Error)
	}

	if submitted == nil {
		t.Fatal("sponsor never received the operation")
	}
	if submitted.PaymasterAndData != "0xpaymaster" {
		t.Errorf("PaymasterAndData = %q, want 0xpaymaster", submitted.PaymasterAndData)
	}
	if submitted.MaxFeePerGas != "2000000000" {
		t.Errorf("MaxFeePerGas = %q, want grant value", submitted.MaxFeePerGas)
	}
	if submitted.Sender != req.From {
		t.Errorf("Sender = %q, want %q", submitted.Sender, req.From)
	}
}

func TestPaymentService_Execute_SponsorshipFailureFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		sponsor *mockSponsor
	}{
		{
			name: "grant request fails",
			sponsor: &mockSponsor{
				sponsorFn: func(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
					return nil, errors.New("paymaster timeout")
				},
			},
		},
		{
			name: "sponsored submission fails",
			sponsor: &mockSponsor{
				submitFn: func(ctx context.Context, op *models.TransferOperation) (string, error) {
					return "", errors.New("operation rejected")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &mockSubmitter{}
			svc := newPaymentService(tt.sponsor, submitter)

			result := svc.Execute(context.Background(), signedGaslessRequest(t, "1000000"))

			if !result.Success {
				t.Fatalf("Execute() success = false, error = %q", result.Error)
			}
			if !result.FallbackUsed {
				t.Error("Execute() fallbackUsed = false, want true")
			}
			if result.Sponsored {
				t.Error("Execute() sponsored = true, want false")
			}
			if result.TransactionHash != "0xfallbacktx" {
				t.Errorf("Execute() transactionHash = %q, want 0xfallbacktx", result.TransactionHash)
			}
			if tt.sponsor.sponsorCalls > 1 {
				t.Errorf("sponsor grant calls = %d, want at most 1", tt.sponsor.sponsorCalls)
			}
			if submitter.submitCalls != 1 {
				t.Errorf("submitter calls = %d, want 1", submitter.submitCalls)
			}
		})
	}
}

func TestPaymentService_Execute_FallbackFailure(t *testing.T) {
	sponsor := &mockSponsor{
		sponsorFn: func(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
			return nil, errors.New("paymaster down")
		},
	}
	submitter := &mockSubmitter{
		submitAuthFn: func(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error) {
			return "", errors.New("nonce too low")
		},
	}
	svc := newPaymentService(sponsor, submitter)

	result := svc.Execute(context.Background(), signedGaslessRequest(t, "1000000"))

	if result.Success {
		t.Error("Execute() success = true, want false")
	}
	if !result.FallbackUsed {
		t.Error("Execute() fallbackUsed = false, want true")
	}
	if result.Error == "" {
		t.Error("Execute() error is empty, want failure reason")
	}
	if result.Code != http.StatusBadGateway {
		t.Errorf("Execute() code = %d, want %d", result.Code, http.StatusBadGateway)
	}
}

func TestPaymentService_Execute_RevertedFallbackKeepsHash(t *testing.T) {
	sponsor := &mockSponsor{
		sponsorFn: func(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
			return nil, errors.New("paymaster down")
		},
	}
	submitter := &mockSubmitter{
		receiptFn: func(ctx context.Context, txHash string) error {
			return errors.New("transaction reverted")
		},
	}
	svc := newPaymentService(sponsor, submitter)

	result := svc.Execute(context.Background(), signedGaslessRequest(t, "1000000"))

	if result.Success {
		t.Error("Execute() success = true, want false")
	}
	if result.TransactionHash != "0xfallbacktx" {
		t.Errorf("Execute() transactionHash = %q, want the submitted hash", result.TransactionHash)
	}
}

func TestPaymentService_Execute_ValidationFailure(t *testing.T) {
	sponsor := &mockSponsor{}
	submitter := &mockSubmitter{}
	svc := newPaymentService(sponsor, submitter)

	result := svc.Execute(context.Background(), &models.PaymentRequest{
		From:   "not-an-address",
		To:     testTreasury,
		Amount: "100",
	})

	if result.Success {
		t.Error("Execute() success = true, want false")
	}
	if result.Code != http.StatusBadRequest {
		t.Errorf("Execute() code = %d, want %d", result.Code, http.StatusBadRequest)
	}
	if sponsor.sponsorCalls != 0 || submitter.submitCalls != 0 {
		t.Error("Execute() touched execution paths on a rejected request")
	}
}

func TestPaymentService_Execute_NilRequest(t *testing.T) {
	svc := newPaymentService(&mockSponsor{}, &mockSubmitter{})

	result := svc.Execute(context.Background(), nil)

	if result == nil {
		t.Fatal("Execute(nil) returned nil result")
	}
	if result.Success {
		t.Error("Execute(nil) success = true, want false")
	}
	if result.Code != http.StatusBadRequest {
		t.Errorf("Execute(nil) code = %d, want %d", result.Code, http.StatusBadRequest)
	}
}

func TestPaymentService_Execute_EnvelopeMismatch(t *testing.T) {
	svc := newPaymentService(&mockSponsor{}, &mockSubmitter{})

	req := signedGaslessRequest(t, "1000000")
	req.Amount = "2000000"

	result := svc.Execute(context.Background(), req)

	if result.Success {
		t.Error("Execute() success = true, want false")
	}
	if result.Code != http.StatusBadRequest {
		t.Errorf("Execute() code = %d, want %d", result.Code, http.StatusBadRequest)
	}
}

func TestPaymentService_Execute_ExpiredAuthorizationRejected(t *testing.T) {
	sponsor := &mockSponsor{}
	submitter := &mockSubmitter{}
	svc := newPaymentService(sponsor, submitter)

	req := signedGaslessRequest(t, "1000000")
	req.Authorization.ValidBefore = "1"

	result := svc.Execute(context.Background(), req)

	if result.Success {
		t.Error("Execute() success = true, want false")
	}
	if result.Code != http.StatusBadRequest {
		t.Errorf("Execute() code = %d, want %d", result.Code, http.StatusBadRequest)
	}
	if sponsor.sponsorCalls != 0 || submitter.submitCalls != 0 {
		t.Error("Execute() attempted execution with a rejected authorization")
	}
}

func TestPaymentService_Execute_DirectWithAuthorization(t *testing.T) {
	submitter := &mockSubmitter{}
	svc := newPaymentService(&mockSponsor{}, submitter)

	req := signedGaslessRequest(t, "1000000")
	req.Method = models.PaymentMethodTraditional

	result := svc.Execute(context.Background(), req)

	if !result.Success {
		t.Fatalf("Execute() success = false, error = %q", result.Error)
	}
	if result.Sponsored || result.FallbackUsed {
		t.Error("Execute() direct path should not report sponsorship or fallback")
	}
	if result.TransactionHash != "0xfallbacktx" {
		t.Errorf("Execute() transactionHash = %q, want 0xfallbacktx", result.TransactionHash)
	}
}

func TestPaymentService_Execute_DirectCustodial(t *testing.T) {
	var gotToken, gotTo string
	var gotValue *big.Int
	submitter := &mockSubmitter{
		submitFundsFn: func(ctx context.Context, token, to string, value *big.Int) (string, error) {
			gotToken, gotTo, gotValue = token, to, value
			return "0xdirecttx", nil
		},
	}
	svc := newPaymentService(&mockSponsor{}, submitter)

	result := svc.Execute(context.Background(), &models.PaymentRequest{
		From:   testTreasury,
		To:     "0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326",
		Amount: "750000",
		Method: models.PaymentMethodTraditional,
	})

	if !result.Success {
		t.Fatalf("Execute() success = false, error = %q", result.Error)
	}
	if gotToken != testToken {
		t.Errorf("token = %q, want %q", gotToken, testToken)
	}
	if gotTo != "0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326" {
		t.Errorf("to = %q, want the request recipient", gotTo)
	}
	if gotValue == nil || gotValue.String() != "750000" {
		t.Errorf("value = %v, want 750000", gotValue)
	}
}

func TestPaymentService_Execute_NoSponsorConfigured(t *testing.T) {
	submitter := &mockSubmitter{}
	svc := newPaymentService(nil, submitter)

	result := svc.Execute(context.Background(), signedGaslessRequest(t, "1000000"))

	if !result.Success {
		t.Fatalf("Execute() success = false, error = %q", result.Error)
	}
	if !result.FallbackUsed {
		t.Error("Execute() fallbackUsed = false, want true without a sponsor")
	}
	if submitter.submitCalls != 1 {
		t.Errorf("submitter calls = %d, want 1", submitter.submitCalls)
	}
}

func TestPaymentService_EstimateSavings(t *testing.T) {
	svc := newPaymentService(&mockSponsor{}, &mockSubmitter{})

	savings, err := svc.EstimateSavings(context.Background(), "1000000")
	if err != nil {
		t.Fatalf("EstimateSavings() error = %v", err)
	}

	if savings.GasUnits != 90000 {
		t.Errorf("GasUnits = %d, want 90000", savings.GasUnits)
	}
	if savings.FeePerGas != "2000000000" {
		t.Errorf("FeePerGas = %q, want 2000000000", savings.FeePerGas)
	}
	if savings.NativeCost != "180000000000000" {
		t.Errorf("NativeCost = %q, want 180000000000000", savings.NativeCost)
	}
	if savings.Currency != "wei" {
		t.Errorf("Currency = %q, want wei", savings.Currency)
	}
}

func TestPaymentService_EstimateSavings_Errors(t *testing.T) {
	t.Run("invalid amount", func(t *testing.T) {
		svc := newPaymentService(&mockSponsor{}, &mockSubmitter{})

		if _, err := svc.EstimateSavings(context.Background(), "-5"); err == nil {
			t.Error("EstimateSavings() expected error for negative amount")
		}
	})

	t.Run("gas price unavailable", func(t *testing.T) {
		submitter := &mockSubmitter{
			gasPriceFn: func(ctx context.Context) (*big.Int, error) {
				return nil, errors.New("rpc unreachable")
			},
		}
		svc := newPaymentService(&mockSponsor{}, submitter)

		_, err := svc.EstimateSavings(context.Background(), "1000000")
		if err == nil {
			t.Fatal("EstimateSavings() expected error")
		}
	})
}
