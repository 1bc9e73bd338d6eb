package services

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/monitoring"
	"github.com/perstream/checkout/permits"
	"github.com/perstream/checkout/stores"
	"github.com/perstream/checkout/utils"
)

// SessionRepository persists checkout sessions for their retention window.
type SessionRepository interface {
	Save(ctx context.Context, session *models.CheckoutSession) error
	Get(ctx context.Context, id string) (*models.CheckoutSession, error)
	List(ctx context.Context) ([]*models.CheckoutSession, error)
}

// PurchaseLedger records completed purchases durably.
type PurchaseLedger interface {
	Create(ctx context.Context, purchase *models.Purchase) error
	GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Purchase, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Purchase, int64, error)
}

// Executor settles payments for completing checkout sessions.
type Executor interface {
	Execute(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult
	EstimateSavings(ctx context.Context, amount string) (*models.GasSavings, error)
}

// BalanceReader reads token balances from the settlement chain.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
}

// CheckoutService drives content purchases through the session state
// machine: pending until completed, failed, or expired, with no transitions
// out of a terminal state. Sessions carry no in-process state; every
// operation loads, decides, and saves, so concurrent requests coordinate
// only through the session store.
type CheckoutService struct {
	sessions  SessionRepository
	purchases PurchaseLedger
	executor  Executor
	balances  BalanceReader
	chainCfg  config.ChainConfig
	cfg       config.CheckoutConfig
}

func CreateCheckoutService(sessions SessionRepository, purchases PurchaseLedger, executor Executor, balances BalanceReader, chainCfg config.ChainConfig, cfg config.CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		sessions:  sessions,
		purchases: purchases,
		executor:  executor,
		balances:  balances,
		chainCfg:  chainCfg,
		cfg:       cfg,
	}
}

// Initialize opens a pending session for one content purchase. The payer's
// token balance is checked up front so a signature is never collected for a
// transfer that cannot settle, and gasless sessions get the typed-data
// template the payer's wallet will sign.
func (s *CheckoutService) Initialize(ctx context.Context, userID string, req *models.InitCheckoutRequest) (*models.InitCheckoutResponse, error) {
	if err := s.validateInitRequest(userID, req); err != nil {
		return nil, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodGasless
	}

	if err := s.checkBalance(ctx, req.PayerAddress, req.Amount); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.CheckoutSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		ContentID:     req.ContentID,
		Amount:        req.Amount,
		PayerAddress:  req.PayerAddress,
		Status:        models.CheckoutStatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.SessionTTL),
	}

	if method == models.PaymentMethodGasless {
		template, err := permits.BuildAuthorizationTemplate(permits.TemplateParams{
			TokenName:    s.chainCfg.TokenName,
			TokenVersion: s.chainCfg.TokenVersion,
			ChainID:      s.chainCfg.ChainID,
			TokenAddress: s.chainCfg.TokenAddress,
			Validity:     s.cfg.SessionTTL,
		}, req.PayerAddress, s.chainCfg.TreasuryAddress, req.Amount)
		if err != nil {
			return nil, utils.WrapError(err, "failed to build authorization template")
		}
		session.AuthorizationTemplate = template
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, utils.WrapError(err, "failed to persist checkout session")
	}

	monitoring.RecordSessionMetrics(ctx, "initialized")
	utils.Info(ctx, "checkout session initialized", map[string]interface{}{
		"checkout_id": session.ID,
		"content_id":  session.ContentID,
		"amount":      session.Amount,
		"method":      string(method),
	})

	return &models.InitCheckoutResponse{
		CheckoutID:            session.ID,
		Amount:                session.Amount,
		PaymentMethod:         session.PaymentMethod,
		ExpiresAt:             session.ExpiresAt,
		AuthorizationTemplate: session.AuthorizationTemplate,
	}, nil
}

// Complete settles a pending session. The payment outcome is folded into
// the response; only session-state problems surface as errors. A session
// whose TTL has passed is moved to expired before the rejection, so a late
// completion attempt leaves the same record the sweeper would have written.
func (s *CheckoutService) Complete(ctx context.Context, req *models.CompleteCheckoutRequest) (*models.CompleteCheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, utils.ValidationErrors{{Field: "checkoutId", Message: "is required"}}
	}

	session, err := s.loadSession(ctx, req.CheckoutID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.CheckoutStatusPending {
		return nil, utils.SessionStateError(string(session.Status))
	}

	if session.Expired(time.Now()) {
		if err := s.transition(ctx, session, models.CheckoutStatusExpired); err != nil {
			utils.Error(ctx, "failed to persist expired session", map[string]interface{}{
				"checkout_id": session.ID,
				"error":       err.Error(),
			})
		}
		return nil, utils.ErrSessionExpired
	}

	paymentReq := s.buildPaymentRequest(session, req.Signature)
	result := s.executor.Execute(ctx, paymentReq)

	target := models.CheckoutStatusFailed
	if result.Success {
		session.TransactionHash = result.TransactionHash
		session.OperationHash = result.OperationHash
		target = models.CheckoutStatusCompleted
	}
	if err := s.transition(ctx, session, target); err != nil {
		// The payment already settled or failed on chain; a stale pending
		// session self-corrects because its nonce is consumed.
		utils.Error(ctx, "failed to persist session transition, needs reconciliation", map[string]interface{}{
			"checkout_id": session.ID,
			"status":      string(target),
			"error":       err.Error(),
		})
	}
	if result.Success {
		s.recordPurchase(ctx, session, result)
	}

	return s.buildCompleteResponse(ctx, session, result), nil
}

// Cancel force-fails a pending session. Cancelling a session that is
// already terminal is a no-op reporting the current status, so retried
// cancels never error.
func (s *CheckoutService) Cancel(ctx context.Context, req *models.CancelCheckoutRequest) (*models.CancelCheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, utils.ValidationErrors{{Field: "checkoutId", Message: "is required"}}
	}

	session, err := s.loadSession(ctx, req.CheckoutID)
	if err != nil {
		return nil, err
	}

	if session.Status.Terminal() {
		return &models.CancelCheckoutResponse{
			Success: true,
			Status:  session.Status,
		}, nil
	}

	if err := s.transition(ctx, session, models.CheckoutStatusFailed); err != nil {
		return nil, utils.WrapError(err, "failed to cancel checkout session")
	}

	return &models.CancelCheckoutResponse{
		Success: true,
		Status:  session.Status,
	}, nil
}

// GetSession returns a session by ID.
func (s *CheckoutService) GetSession(ctx context.Context, checkoutID string) (*models.CheckoutSession, error) {
	return s.loadSession(ctx, checkoutID)
}

// CleanupExpired sweeps pending sessions whose TTL has passed into the
// expired state and reports how many it moved. A completion racing the
// sweep resolves through the store: whichever transition lands second
// observes a terminal status and rejects.
func (s *CheckoutService) CleanupExpired(ctx context.Context) (int, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return 0, utils.WrapError(err, "failed to list checkout sessions")
	}

	now := time.Now()
	count := 0
	for _, session := range sessions {
		if session.Status != models.CheckoutStatusPending || !session.Expired(now) {
			continue
		}
		if err := s.transition(ctx, session, models.CheckoutStatusExpired); err != nil {
			utils.Error(ctx, "failed to expire checkout session", map[string]interface{}{
				"checkout_id": session.ID,
				"error":       err.Error(),
			})
			continue
		}
		count++
	}

	if count > 0 {
		utils.Info(ctx, "expired checkout sessions swept", map[string]interface{}{
			"count": count,
		})
	}

	return count, nil
}

// ListPurchases returns a user's recorded purchases, newest first.
func (s *CheckoutService) ListPurchases(ctx context.Context, userID string, limit, offset int) (*models.ListPurchasesResponse, error) {
	purchases, total, err := s.purchases.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, utils.WrapError(err, "failed to list purchases")
	}

	return &models.ListPurchasesResponse{
		Purchases: purchases,
		Total:     int(total),
	}, nil
}

func (s *CheckoutService) loadSession(ctx context.Context, checkoutID string) (*models.CheckoutSession, error) {
	session, err := s.sessions.Get(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return nil, utils.ErrSessionNotFound
		}
		return nil, utils.WrapError(err, "failed to load checkout session")
	}
	return session, nil
}

func (s *CheckoutService) transition(ctx context.Context, session *models.CheckoutSession, to models.CheckoutStatus) error {
	session.Status = to
	if err := s.sessions.Save(ctx, session); err != nil {
		return err
	}
	monitoring.RecordSessionMetrics(ctx, string(to))
	return nil
}

func (s *CheckoutService) checkBalance(ctx context.Context, payer, amount string) error {
	required, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return utils.ValidationErrors{{Field: "amount", Message: "must be a base-10 integer string"}}
	}

	balance, err := s.balances.BalanceOf(ctx, s.chainCfg.TokenAddress, payer)
	if err != nil {
		return utils.WrapAPIError(err, utils.ErrLedgerUnavailable)
	}

	if balance.Cmp(required) < 0 {
		return utils.ErrInsufficientBalance
	}

	return nil
}

// buildPaymentRequest derives the payment from the stored session, never
// from completion-time input. The signature is the only client
// contribution; a session without a template settles on the conventional
// path.
func (s *CheckoutService) buildPaymentRequest(session *models.CheckoutSession, signature string) *models.PaymentRequest {
	req := &models.PaymentRequest{
		From:   session.PayerAddress,
		To:     s.chainCfg.TreasuryAddress,
		Amount: session.Amount,
		Metadata: models.JSON{
			"checkout_id": session.ID,
			"content_id":  session.ContentID,
		},
	}

	if session.AuthorizationTemplate != nil && signature != "" {
		req.Method = models.PaymentMethodGasless
		req.Authorization = session.AuthorizationTemplate.Authorization(signature)
	} else {
		req.Method = models.PaymentMethodTraditional
	}

	return req
}

func (s *CheckoutService) buildCompleteResponse(ctx context.Context, session *models.CheckoutSession, result *models.PaymentResult) *models.CompleteCheckoutResponse {
	resp := &models.CompleteCheckoutResponse{
		Success:         result.Success,
		PaymentMethod:   session.PaymentMethod,
		GasSponsored:    result.Sponsored,
		FallbackUsed:    result.FallbackUsed,
		TransactionHash: result.TransactionHash,
		OperationHash:   result.OperationHash,
		Error:           result.Error,
	}

	if result.Success && result.Sponsored {
		savings, err := s.executor.EstimateSavings(ctx, session.Amount)
		if err == nil {
			resp.GasSavings = savings
		}
	}

	return resp
}

// recordPurchase writes the durable ledger row for a completed checkout.
// The payment has already settled when this runs, so a write failure is
// logged for reconciliation and never voids the result.
func (s *CheckoutService) recordPurchase(ctx context.Context, session *models.CheckoutSession, result *models.PaymentResult) {
	purchase := &models.Purchase{
		ID:              uuid.New().String(),
		UserID:          session.UserID,
		ContentID:       session.ContentID,
		CheckoutID:      session.ID,
		Amount:          session.Amount,
		Currency:        s.chainCfg.TokenSymbol,
		PayerAddress:    session.PayerAddress,
		PaymentMethod:   session.PaymentMethod,
		Sponsored:       result.Sponsored,
		FallbackUsed:    result.FallbackUsed,
		TransactionHash: result.TransactionHash,
		OperationHash:   result.OperationHash,
		CreatedAt:       time.Now(),
	}

	if err := s.purchases.Create(ctx, purchase); err != nil {
		utils.Error(ctx, "failed to record purchase, needs reconciliation", map[string]interface{}{
			"checkout_id": session.ID,
			"user_id":     session.UserID,
			"error":       err.Error(),
		})
	}
}

func (s *CheckoutService) validateInitRequest(userID string, req *models.InitCheckoutRequest) error {
	if req == nil {
		return utils.ValidationErrors{{Field: "request", Message: "is required"}}
	}

	var errs utils.ValidationErrors
	if userID == "" {
		errs = append(errs, utils.ValidationError{Field: "userId", Message: "is required"})
	}
	if verr := utils.ValidateString(req.ContentID, "contentId", 1, 128, true); verr != nil {
		errs = append(errs, *verr)
	}
	if verr := utils.ValidateAmount(req.Amount, "amount"); verr != nil {
		errs = append(errs, *verr)
	}
	if verr := utils.ValidateAddress(req.PayerAddress, "payerAddress"); verr != nil {
		errs = append(errs, *verr)
	}
	if req.PaymentMethod != "" && req.PaymentMethod != models.PaymentMethodGasless && req.PaymentMethod != models.PaymentMethodTraditional {
		errs = append(errs, utils.ValidationError{Field: "paymentMethod", Message: "must be gasless or traditional"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
