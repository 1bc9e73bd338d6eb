package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/permits"
	"github.com/perstream/checkout/services"
	checkouttest "github.com/perstream/checkout/testing"
)

type fakeSubmitter struct {
	authCalls  int
	tokenCalls int
}

func (f *fakeSubmitter) SubmitTransferWithAuthorization(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error) {
	f.authCalls++
	return "0xfallbacktx", nil
}

func (f *fakeSubmitter) SubmitTokenTransfer(ctx context.Context, token, to string, value *big.Int) (string, error) {
	f.tokenCalls++
	return "0xdirecttx", nil
}

func (f *fakeSubmitter) WaitForReceipt(ctx context.Context, txHash string) error {
	return nil
}

func (f *fakeSubmitter) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeSubmitter) ChainID() *big.Int {
	return big.NewInt(8453)
}

type fakeNonceLedger struct{}

func (f *fakeNonceLedger) AuthorizationUsed(ctx context.Context, token, authorizer, nonce string) (bool, error) {
	return false, nil
}

type paymentEnv struct {
	handler   *PaymentHandler
	submitter *fakeSubmitter
}

func newPaymentEnv() *paymentEnv {
	env := &paymentEnv{submitter: &fakeSubmitter{}}
	chainCfg := checkouttest.MockChainConfig()
	validator := permits.CreateValidator(&fakeNonceLedger{}, chainCfg.TokenAddress)
	paymentService := services.CreatePaymentService(validator, nil, env.submitter, chainCfg)
	batchService := services.CreateBatchService(paymentService, checkouttest.MockCheckoutConfig())
	env.handler = CreatePaymentHandler(paymentService, batchService)
	return env
}

func TestPaymentHandler_HandleExecute(t *testing.T) {
	t.Run("settles a direct transfer", func(t *testing.T) {
		env := newPaymentEnv()
		body := `{"to":"` + checkouttest.TreasuryAddress + `","amount":"500000","method":"traditional"}`
		rec := doJSON(env.handler.HandleExecute, http.MethodPost, "/api/v1/payments/execute", body, "user-1")

		if rec.Code != http.StatusOK {
			t.Fatalf("HandleExecute() status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var result models.PaymentResult
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !result.Success || result.TransactionHash != "0xdirecttx" {
			t.Errorf("HandleExecute() = %+v, want direct transfer success", result)
		}
		if env.submitter.tokenCalls != 1 {
			t.Errorf("token transfers = %d, want 1", env.submitter.tokenCalls)
		}
	})

	t.Run("rejects an unverifiable authorization", func(t *testing.T) {
		env := newPaymentEnv()
		req := checkouttest.MockPaymentRequest()
		body, _ := json.Marshal(req)
		rec := doJSON(env.handler.HandleExecute, http.MethodPost, "/api/v1/payments/execute", string(body), "user-1")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("HandleExecute() status = %d, want %d, body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
		}

		var result models.PaymentResult
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result.Success || result.Error == "" {
			t.Errorf("HandleExecute() = %+v, want rejection with error", result)
		}
		if env.submitter.authCalls != 0 || env.submitter.tokenCalls != 0 {
			t.Error("rejected authorization still reached the chain")
		}
	})

	t.Run("rejects wrong method", func(t *testing.T) {
		env := newPaymentEnv()
		rec := doJSON(env.handler.HandleExecute, http.MethodGet, "/api/v1/payments/execute", "", "user-1")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("HandleExecute() status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		env := newPaymentEnv()
		rec := doJSON(env.handler.HandleExecute, http.MethodPost, "/api/v1/payments/execute", `{"from":`, "user-1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("HandleExecute() status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestPaymentHandler_HandleBatchExecute(t *testing.T) {
	t.Run("returns one result per request", func(t *testing.T) {
		env := newPaymentEnv()
		body := `{"requests":[` +
			`{"to":"` + checkouttest.TreasuryAddress + `","amount":"100","method":"traditional"},` +
			`{"to":"` + checkouttest.TreasuryAddress + `","amount":"200","method":"traditional"}]}`
		rec := doJSON(env.handler.HandleBatchExecute, http.MethodPost, "/api/v1/payments/batch-execute", body, "user-1")

		if rec.Code != http.StatusOK {
			t.Fatalf("HandleBatchExecute() status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var batch models.BatchResult
		if err := json.NewDecoder(rec.Body).Decode(&batch); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if batch.Summary.Total != 2 || batch.Summary.Successful != 2 {
			t.Errorf("HandleBatchExecute() summary = %+v, want 2 successes", batch.Summary)
		}
		if len(batch.Results) != 2 {
			t.Errorf("HandleBatchExecute() results = %d, want 2", len(batch.Results))
		}
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		env := newPaymentEnv()
		rec := doJSON(env.handler.HandleBatchExecute, http.MethodPost, "/api/v1/payments/batch-execute", `{"requests":[]}`, "user-1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("HandleBatchExecute() status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestPaymentHandler_HandleEstimateSavings(t *testing.T) {
	t.Run("reports the avoided fee", func(t *testing.T) {
		env := newPaymentEnv()
		rec := doJSON(env.handler.HandleEstimateSavings, http.MethodPost, "/api/v1/payments/estimate-savings", `{"amount":"1000000"}`, "user-1")

		if rec.Code != http.StatusOK {
			t.Fatalf("HandleEstimateSavings() status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var savings models.GasSavings
		if err := json.NewDecoder(rec.Body).Decode(&savings); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if savings.NativeCost != "180000000000000" {
			t.Errorf("NativeCost = %q, want 90000 gas at 2 gwei", savings.NativeCost)
		}
	})

	t.Run("rejects an invalid amount", func(t *testing.T) {
		env := newPaymentEnv()
		rec := doJSON(env.handler.HandleEstimateSavings, http.MethodPost, "/api/v1/payments/estimate-savings", `{"amount":"-5"}`, "user-1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("HandleEstimateSavings() status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}
