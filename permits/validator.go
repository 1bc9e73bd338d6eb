package permits

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

// NonceLedger reports whether an authorization nonce has been consumed.
// Read-only: the ledger itself is advanced by the token contract when a
// transfer settles, never by this package.
type NonceLedger interface {
	AuthorizationUsed(ctx context.Context, token, authorizer, nonce string) (bool, error)
}

// Validator checks signed transfer authorizations before any resource is
// committed to them. Validation has no side effects; the only external
// touch is a read of the nonce ledger.
type Validator struct {
	ledger          NonceLedger
	settlementToken string
}

func CreateValidator(ledger NonceLedger, settlementToken string) *Validator {
	return &Validator{
		ledger:          ledger,
		settlementToken: settlementToken,
	}
}

// Validate runs the authorization checks in a fixed order and stops at the
// first failure: expiry, activation window, signature shape, nonce
// consumption, token identity.
func (v *Validator) Validate(ctx context.Context, auth *models.TransferAuthorization) error {
	if auth == nil {
		return utils.ErrMissingAuthorization
	}

	now := big.NewInt(time.Now().Unix())

	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return utils.ErrInvalidAuthorization
	}
	if validBefore.Cmp(now) < 0 {
		return utils.ErrAuthorizationExpired
	}

	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return utils.ErrInvalidAuthorization
	}
	if now.Cmp(validAfter) < 0 {
		return utils.ErrAuthorizationNotActive
	}

	if !utils.IsTransferSignature(auth.Signature) {
		return utils.ErrMalformedSignature
	}

	if !utils.IsAuthorizationNonce(auth.Nonce) {
		return utils.ErrInvalidAuthorization
	}
	used, err := v.ledger.AuthorizationUsed(ctx, auth.Token, auth.From, auth.Nonce)
	if err != nil {
		return utils.WrapAPIError(err, utils.ErrLedgerUnavailable)
	}
	if used {
		return utils.ErrNonceReused
	}

	if !strings.EqualFold(auth.Token, v.settlementToken) {
		return utils.ErrWrongToken
	}

	return nil
}
