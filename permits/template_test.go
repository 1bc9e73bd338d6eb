package permits

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/perstream/checkout/utils"
)

const (
	testTokenName    = "USD Coin"
	testTokenVersion = "2"
	testChainID      = int64(8453)
)

func chainID() *big.Int {
	return big.NewInt(testChainID)
}

func TestCreateNonce(t *testing.T) {
	first, err := CreateNonce()
	if err != nil {
		t.Fatalf("CreateNonce() error = %v", err)
	}
	if !utils.IsAuthorizationNonce(first) {
		t.Errorf("CreateNonce() = %q, want 32-byte hex", first)
	}

	second, err := CreateNonce()
	if err != nil {
		t.Fatalf("CreateNonce() error = %v", err)
	}
	if first == second {
		t.Error("CreateNonce() produced the same nonce twice")
	}
}

func TestBuildAuthorizationTemplate(t *testing.T) {
	params := TemplateParams{
		TokenName:    testTokenName,
		TokenVersion: testTokenVersion,
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}

	before := time.Now()
	template, err := BuildAuthorizationTemplate(params, testPayer, testPayee, "2500000")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	if template.Domain.Name != testTokenName {
		t.Errorf("Domain.Name = %q, want %q", template.Domain.Name, testTokenName)
	}
	if template.Domain.ChainID != "8453" {
		t.Errorf("Domain.ChainID = %q, want 8453", template.Domain.ChainID)
	}
	if template.PrimaryType != "TransferWithAuthorization" {
		t.Errorf("PrimaryType = %q, want TransferWithAuthorization", template.PrimaryType)
	}
	if template.Message.Value != "2500000" {
		t.Errorf("Message.Value = %q, want 2500000", template.Message.Value)
	}
	if template.Message.ValidAfter != "0" {
		t.Errorf("Message.ValidAfter = %q, want 0", template.Message.ValidAfter)
	}
	if !utils.IsAuthorizationNonce(template.Message.Nonce) {
		t.Errorf("Message.Nonce = %q, want 32-byte hex", template.Message.Nonce)
	}
	if !strings.EqualFold(template.Message.From, testPayer) {
		t.Errorf("Message.From = %q, want %q", template.Message.From, testPayer)
	}
	if !strings.EqualFold(template.Message.To, testPayee) {
		t.Errorf("Message.To = %q, want %q", template.Message.To, testPayee)
	}

	validBefore, err := strconv.ParseInt(template.Message.ValidBefore, 10, 64)
	if err != nil {
		t.Fatalf("ValidBefore = %q, want unix seconds", template.Message.ValidBefore)
	}
	wantExpiry := before.Add(15 * time.Minute).Unix()
	if validBefore < wantExpiry || validBefore > wantExpiry+5 {
		t.Errorf("ValidBefore = %d, want about %d", validBefore, wantExpiry)
	}
}

func TestBuildAuthorizationTemplate_UniqueNonces(t *testing.T) {
	params := TemplateParams{
		TokenName:    testTokenName,
		TokenVersion: testTokenVersion,
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}

	first, err := BuildAuthorizationTemplate(params, testPayer, testPayee, "100")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}
	second, err := BuildAuthorizationTemplate(params, testPayer, testPayee, "100")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	if first.Message.Nonce == second.Message.Nonce {
		t.Error("BuildAuthorizationTemplate() reused a nonce")
	}
}

func TestVerifySignature_Roundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	params := TemplateParams{
		TokenName:    testTokenName,
		TokenVersion: testTokenVersion,
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}
	template, err := BuildAuthorizationTemplate(params, payer, testPayee, "1000000")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	auth := template.Authorization("")
	digest, err := HashAuthorization(auth, testTokenName, testTokenVersion, chainID())
	if err != nil {
		t.Fatalf("HashAuthorization() error = %v", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	t.Run("wallet style v", func(t *testing.T) {
		walletSig := make([]byte, 65)
		copy(walletSig, sig)
		walletSig[64] += 27
		auth.Signature = "0x" + hex.EncodeToString(walletSig)

		if err := VerifySignature(auth, testTokenName, testTokenVersion, chainID()); err != nil {
			t.Errorf("VerifySignature() error = %v, want nil", err)
		}

		signer, err := RecoverSigner(auth, testTokenName, testTokenVersion, chainID())
		if err != nil {
			t.Fatalf("RecoverSigner() error = %v", err)
		}
		if !strings.EqualFold(signer, payer) {
			t.Errorf("RecoverSigner() = %q, want %q", signer, payer)
		}
	})

	t.Run("raw recovery id", func(t *testing.T) {
		auth.Signature = "0x" + hex.EncodeToString(sig)

		if err := VerifySignature(auth, testTokenName, testTokenVersion, chainID()); err != nil {
			t.Errorf("VerifySignature() error = %v, want nil", err)
		}
	})
}

func TestVerifySignature_WrongSigner(t *testing.T) {
	payerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	intruderKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	payer := crypto.PubkeyToAddress(payerKey.PublicKey).Hex()

	params := TemplateParams{
		TokenName:    testTokenName,
		TokenVersion: testTokenVersion,
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}
	template, err := BuildAuthorizationTemplate(params, payer, testPayee, "1000000")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	auth := template.Authorization("")
	digest, err := HashAuthorization(auth, testTokenName, testTokenVersion, chainID())
	if err != nil {
		t.Fatalf("HashAuthorization() error = %v", err)
	}

	sig, err := crypto.Sign(digest, intruderKey)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig[64] += 27
	auth.Signature = "0x" + hex.EncodeToString(sig)

	if err := VerifySignature(auth, testTokenName, testTokenVersion, chainID()); err != utils.ErrSignatureMismatch {
		t.Errorf("VerifySignature() error = %v, want %v", err, utils.ErrSignatureMismatch)
	}
}

func TestVerifySignature_TamperedAmount(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	params := TemplateParams{
		TokenName:    testTokenName,
		TokenVersion: testTokenVersion,
		ChainID:      testChainID,
		TokenAddress: testToken,
		Validity:     15 * time.Minute,
	}
	template, err := BuildAuthorizationTemplate(params, payer, testPayee, "1000000")
	if err != nil {
		t.Fatalf("BuildAuthorizationTemplate() error = %v", err)
	}

	auth := template.Authorization("")
	digest, err := HashAuthorization(auth, testTokenName, testTokenVersion, chainID())
	if err != nil {
		t.Fatalf("HashAuthorization() error = %v", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig[64] += 27
	auth.Signature = "0x" + hex.EncodeToString(sig)
	auth.Value = "9000000"

	if err := VerifySignature(auth, testTokenName, testTokenVersion, chainID()); err != utils.ErrSignatureMismatch {
		t.Errorf("VerifySignature() error = %v, want %v", err, utils.ErrSignatureMismatch)
	}
}
