package permits

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

const (
	testToken = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testPayer = "0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326"
	testPayee = "0x388C818CA8B9251b393131C08a736A67ccB19297"
)

type fakeLedger struct {
	used  bool
	err   error
	calls int
}

func (f *fakeLedger) AuthorizationUsed(ctx context.Context, token, authorizer, nonce string) (bool, error) {
	f.calls++
	return f.used, f.err
}

func validAuthorization() *models.TransferAuthorization {
	return &models.TransferAuthorization{
		Token:       testToken,
		From:        testPayer,
		To:          testPayee,
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
		Nonce:       "0x" + strings.Repeat("11", 32),
		Signature:   "0x" + strings.Repeat("ab", 65),
	}
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(auth *models.TransferAuthorization)
		ledger  *fakeLedger
		wantErr *utils.APIError
	}{
		{
			name:   "valid authorization",
			mutate: func(auth *models.TransferAuthorization) {},
			ledger: &fakeLedger{},
		},
		{
			name: "expired",
			mutate: func(auth *models.TransferAuthorization) {
				auth.ValidBefore = strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrAuthorizationExpired,
		},
		{
			name: "not yet active",
			mutate: func(auth *models.TransferAuthorization) {
				auth.ValidAfter = strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrAuthorizationNotActive,
		},
		{
			name: "garbled validity window",
			mutate: func(auth *models.TransferAuthorization) {
				auth.ValidBefore = "not-a-number"
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrInvalidAuthorization,
		},
		{
			name: "malformed signature",
			mutate: func(auth *models.TransferAuthorization) {
				auth.Signature = "0xdeadbeef"
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrMalformedSignature,
		},
		{
			name: "malformed nonce",
			mutate: func(auth *models.TransferAuthorization) {
				auth.Nonce = "42"
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrInvalidAuthorization,
		},
		{
			name:    "nonce already used",
			mutate:  func(auth *models.TransferAuthorization) {},
			ledger:  &fakeLedger{used: true},
			wantErr: utils.ErrNonceReused,
		},
		{
			name: "wrong settlement token",
			mutate: func(auth *models.TransferAuthorization) {
				auth.Token = testPayee
			},
			ledger:  &fakeLedger{},
			wantErr: utils.ErrWrongToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := CreateValidator(tt.ledger, testToken)
			auth := validAuthorization()
			tt.mutate(auth)

			err := validator.Validate(context.Background(), auth)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_NilAuthorization(t *testing.T) {
	validator := CreateValidator(&fakeLedger{}, testToken)

	if err := validator.Validate(context.Background(), nil); err != utils.ErrMissingAuthorization {
		t.Errorf("Validate(nil) error = %v, want %v", err, utils.ErrMissingAuthorization)
	}
}

func TestValidator_ChecksRunInOrder(t *testing.T) {
	t.Run("expiry wins over malformed signature", func(t *testing.T) {
		ledger := &fakeLedger{}
		validator := CreateValidator(ledger, testToken)

		auth := validAuthorization()
		auth.ValidBefore = "1"
		auth.Signature = "0xbad"

		if err := validator.Validate(context.Background(), auth); err != utils.ErrAuthorizationExpired {
			t.Errorf("Validate() error = %v, want %v", err, utils.ErrAuthorizationExpired)
		}
		if ledger.calls != 0 {
			t.Errorf("ledger calls = %d, want 0", ledger.calls)
		}
	})

	t.Run("malformed signature wins over used nonce", func(t *testing.T) {
		ledger := &fakeLedger{used: true}
		validator := CreateValidator(ledger, testToken)

		auth := validAuthorization()
		auth.Signature = "0xbad"

		if err := validator.Validate(context.Background(), auth); err != utils.ErrMalformedSignature {
			t.Errorf("Validate() error = %v, want %v", err, utils.ErrMalformedSignature)
		}
		if ledger.calls != 0 {
			t.Errorf("ledger calls = %d, want 0", ledger.calls)
		}
	})

	t.Run("ledger consulted exactly once on the happy path", func(t *testing.T) {
		ledger := &fakeLedger{}
		validator := CreateValidator(ledger, testToken)

		if err := validator.Validate(context.Background(), validAuthorization()); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if ledger.calls != 1 {
			t.Errorf("ledger calls = %d, want 1", ledger.calls)
		}
	})
}

func TestValidator_LedgerUnavailable(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("connection refused")}
	validator := CreateValidator(ledger, testToken)

	err := validator.Validate(context.Background(), validAuthorization())
	if err == nil {
		t.Fatal("Validate() expected error")
	}

	apiErr, ok := err.(*utils.APIError)
	if !ok {
		t.Fatalf("Validate() error type = %T, want *utils.APIError", err)
	}
	if apiErr.Code != http.StatusServiceUnavailable {
		t.Errorf("Validate() error code = %d, want %d", apiErr.Code, http.StatusServiceUnavailable)
	}
}
