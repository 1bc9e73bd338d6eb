package services

import (
	"context"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/perstream/checkout/chain"
	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/monitoring"
	"github.com/perstream/checkout/permits"
	"github.com/perstream/checkout/providers"
	"github.com/perstream/checkout/utils"
)

// Submitter covers the conventional settlement path: operator-paid
// transactions on the settlement chain.
type Submitter interface {
	SubmitTransferWithAuthorization(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error)
	SubmitTokenTransfer(ctx context.Context, token, to string, value *big.Int) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) error
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID() *big.Int
}

// PaymentService executes value transfers. The gasless path validates the
// payer's signed authorization, asks the sponsor to fund network fees, and
// submits the abstracted operation through it. Any failure on the sponsored
// path falls back to a conventional operator-paid transaction; the sponsor
// is never retried within a single execution.
type PaymentService struct {
	validator *permits.Validator
	sponsor   providers.Sponsor
	submitter Submitter
	chainCfg  config.ChainConfig
}

func CreatePaymentService(validator *permits.Validator, sponsor providers.Sponsor, submitter Submitter, chainCfg config.ChainConfig) *PaymentService {
	return &PaymentService{
		validator: validator,
		sponsor:   sponsor,
		submitter: submitter,
		chainCfg:  chainCfg,
	}
}

// Execute settles one payment request and always returns a result. Failures
// are folded into the result rather than returned as errors; callers decide
// what a failed result means for their flow.
func (s *PaymentService) Execute(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult {
	if err := s.validateRequest(req); err != nil {
		return &models.PaymentResult{Error: err.Error(), Code: http.StatusBadRequest}
	}

	method := req.Method
	if method == "" {
		method = models.PaymentMethodGasless
	}

	if method == models.PaymentMethodGasless || req.Authorization != nil {
		if err := s.checkAuthorization(ctx, req.Authorization); err != nil {
			utils.Warn(ctx, "authorization rejected", map[string]interface{}{
				"from":  req.From,
				"error": err.Error(),
			})
			monitoring.RecordPaymentMetrics(ctx, string(method), "rejected", false, false)
			return &models.PaymentResult{Error: err.Error(), Code: utils.GetHTTPStatusFromError(err)}
		}
	}

	var result *models.PaymentResult
	switch method {
	case models.PaymentMethodGasless:
		result = s.executeSponsored(ctx, req.Authorization)
	default:
		result = s.executeDirect(ctx, req)
	}

	outcome := "failed"
	if result.Success {
		outcome = "success"
	}
	monitoring.RecordPaymentMetrics(ctx, string(method), outcome, result.Sponsored, result.FallbackUsed)

	return result
}

// EstimateSavings reports the network fee a payer avoids when a transfer is
// sponsored, at current gas prices. Reporting only; the estimate never gates
// execution.
func (s *PaymentService) EstimateSavings(ctx context.Context, amount string) (*models.GasSavings, error) {
	if verr := utils.ValidateAmount(amount, "amount"); verr != nil {
		return nil, utils.ValidationErrors{*verr}
	}

	gasPrice, err := s.submitter.SuggestGasPrice(ctx)
	if err != nil {
		return nil, utils.WrapAPIError(err, utils.ErrServiceUnavailable)
	}

	gasUnits := s.chainCfg.TransferGasLimit
	nativeCost := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPrice)

	return &models.GasSavings{
		GasUnits:   gasUnits,
		FeePerGas:  gasPrice.String(),
		NativeCost: nativeCost.String(),
		Currency:   "wei",
	}, nil
}

// SponsorAvailable reports whether the sponsored path would currently be
// attempted.
func (s *PaymentService) SponsorAvailable(ctx context.Context) bool {
	if s.sponsor == nil {
		return false
	}
	return s.sponsor.IsAvailable(ctx)
}

func (s *PaymentService) checkAuthorization(ctx context.Context, auth *models.TransferAuthorization) error {
	if err := s.validator.Validate(ctx, auth); err != nil {
		return err
	}
	return permits.VerifySignature(auth, s.chainCfg.TokenName, s.chainCfg.TokenVersion, s.submitter.ChainID())
}

// executeSponsored routes the authorization through the sponsor. The grant
// request and the submission each get exactly one attempt; either failing
// hands the authorization to the conventional fallback.
func (s *PaymentService) executeSponsored(ctx context.Context, auth *models.TransferAuthorization) *models.PaymentResult {
	if s.sponsor == nil {
		return s.executeFallback(ctx, auth)
	}

	op, err := buildTransferOperation(auth)
	if err != nil {
		return &models.PaymentResult{Error: err.Error(), Code: http.StatusBadRequest}
	}

	started := time.Now()
	grant, err := s.sponsor.SponsorOperation(ctx, op)
	monitoring.RecordSponsorshipMetrics(ctx, s.sponsor.Name(), "sponsor", statusOf(err), time.Since(started))
	if err != nil {
		utils.Warn(ctx, "sponsorship unavailable, using fallback", map[string]interface{}{
			"sponsor": s.sponsor.Name(),
			"error":   err.Error(),
		})
		return s.executeFallback(ctx, auth)
	}

	op.Merge(grant)

	started = time.Now()
	opHash, err := s.sponsor.SubmitOperation(ctx, op)
	monitoring.RecordSponsorshipMetrics(ctx, s.sponsor.Name(), "submit", statusOf(err), time.Since(started))
	if err != nil {
		utils.Warn(ctx, "sponsored submission failed, using fallback", map[string]interface{}{
			"sponsor": s.sponsor.Name(),
			"error":   err.Error(),
		})
		return s.executeFallback(ctx, auth)
	}

	return &models.PaymentResult{
		Success:       true,
		Sponsored:     true,
		OperationHash: opHash,
	}
}

// executeFallback submits the authorization as a conventional operator-paid
// transaction. This is the terminal path: a failure here fails the payment.
func (s *PaymentService) executeFallback(ctx context.Context, auth *models.TransferAuthorization) *models.PaymentResult {
	txHash, err := s.submitter.SubmitTransferWithAuthorization(ctx, auth.Token, auth)
	if err != nil {
		return &models.PaymentResult{
			FallbackUsed: true,
			Error:        err.Error(),
			Code:         http.StatusBadGateway,
		}
	}

	if err := s.submitter.WaitForReceipt(ctx, txHash); err != nil {
		return &models.PaymentResult{
			FallbackUsed:    true,
			TransactionHash: txHash,
			Error:           err.Error(),
			Code:            http.StatusBadGateway,
		}
	}

	return &models.PaymentResult{
		Success:         true,
		FallbackUsed:    true,
		TransactionHash: txHash,
	}
}

// executeDirect settles on the conventional path without touching the
// sponsor. With an authorization the operator submits it on the payer's
// behalf; without one the transfer moves custodial funds from the operator
// wallet.
func (s *PaymentService) executeDirect(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult {
	var txHash string
	var err error

	if req.Authorization != nil {
		txHash, err = s.submitter.SubmitTransferWithAuthorization(ctx, req.Authorization.Token, req.Authorization)
	} else {
		value, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			return &models.PaymentResult{Error: utils.ErrInvalidAmount.Message, Code: http.StatusBadRequest}
		}
		txHash, err = s.submitter.SubmitTokenTransfer(ctx, s.chainCfg.TokenAddress, req.To, value)
	}
	if err != nil {
		return &models.PaymentResult{Error: err.Error(), Code: http.StatusBadGateway}
	}

	if err := s.submitter.WaitForReceipt(ctx, txHash); err != nil {
		return &models.PaymentResult{
			TransactionHash: txHash,
			Error:           err.Error(),
			Code:            http.StatusBadGateway,
		}
	}

	return &models.PaymentResult{
		Success:         true,
		TransactionHash: txHash,
	}
}

func (s *PaymentService) validateRequest(req *models.PaymentRequest) error {
	if req == nil {
		return utils.ValidationErrors{{Field: "request", Message: "is required"}}
	}

	var errs utils.ValidationErrors
	if verr := utils.ValidateAddress(req.From, "from"); verr != nil {
		errs = append(errs, *verr)
	}
	if verr := utils.ValidateAddress(req.To, "to"); verr != nil {
		errs = append(errs, *verr)
	}
	if verr := utils.ValidateAmount(req.Amount, "amount"); verr != nil {
		errs = append(errs, *verr)
	}
	if req.Method != "" && req.Method != models.PaymentMethodGasless && req.Method != models.PaymentMethodTraditional {
		errs = append(errs, utils.ValidationError{Field: "method", Message: "must be gasless or traditional"})
	}

	// The request envelope repeats fields the payer signed; a mismatch means
	// the caller is asking for a different transfer than was authorized.
	if req.Authorization != nil {
		auth := req.Authorization
		if !strings.EqualFold(auth.From, req.From) {
			errs = append(errs, utils.ValidationError{Field: "authorization.from", Message: "does not match payer"})
		}
		if !strings.EqualFold(auth.To, req.To) {
			errs = append(errs, utils.ValidationError{Field: "authorization.to", Message: "does not match recipient"})
		}
		if auth.Value != req.Amount {
			errs = append(errs, utils.ValidationError{Field: "authorization.value", Message: "does not match amount"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// buildTransferOperation wraps an authorization in an abstracted transfer
// operation. Gas and fee fields start at zero; the sponsorship grant fills
// them in.
func buildTransferOperation(auth *models.TransferAuthorization) (*models.TransferOperation, error) {
	callData, err := chain.EncodeTransferWithAuthorization(auth)
	if err != nil {
		return nil, err
	}

	return &models.TransferOperation{
		Sender:               auth.From,
		Nonce:                auth.Nonce,
		CallData:             callData,
		CallGasLimit:         "0",
		VerificationGasLimit: "0",
		PreVerificationGas:   "0",
		MaxFeePerGas:         "0",
		MaxPriorityFeePerGas: "0",
		PaymasterAndData:     "0x",
	}, nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
