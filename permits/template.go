package permits

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

const primaryType = "TransferWithAuthorization"

// TemplateParams describes the settlement token domain a template is
// issued against.
type TemplateParams struct {
	TokenName    string
	TokenVersion string
	ChainID      int64
	TokenAddress string
	Validity     time.Duration
}

// CreateNonce generates a random 32-byte authorization nonce as 0x-prefixed
// hex.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// BuildAuthorizationTemplate produces the EIP-712 typed data a payer wallet
// signs to authorize one transfer. Nonce and validity window are fixed at
// build time so the server can later reconstruct exactly what was signed.
func BuildAuthorizationTemplate(params TemplateParams, from, to, value string) (*models.AuthorizationTemplate, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return nil, err
	}

	validBefore := time.Now().Add(params.Validity).Unix()

	return &models.AuthorizationTemplate{
		Domain: models.TypedDataDomain{
			Name:              params.TokenName,
			Version:           params.TokenVersion,
			ChainID:           strconv.FormatInt(params.ChainID, 10),
			VerifyingContract: common.HexToAddress(params.TokenAddress).Hex(),
		},
		Types: map[string][]models.TypedDataField{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: primaryType,
		Message: models.AuthorizationMessage{
			From:        common.HexToAddress(from).Hex(),
			To:          common.HexToAddress(to).Hex(),
			Value:       value,
			ValidAfter:  "0",
			ValidBefore: strconv.FormatInt(validBefore, 10),
			Nonce:       nonce,
		},
	}, nil
}

// HashAuthorization computes the EIP-712 digest a payer signed for the
// authorization: keccak256(0x19 0x01 || domainSeparator || structHash).
func HashAuthorization(auth *models.TransferAuthorization, tokenName, tokenVersion string, chainID *big.Int) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", auth.ValidBefore)
	}
	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           math.NewHexOrDecimal256(chainID.Int64()),
			VerifyingContract: common.HexToAddress(auth.Token).Hex(),
		},
		Message: map[string]interface{}{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonceBytes,
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)

	return crypto.Keccak256(rawData), nil
}

// RecoverSigner recovers the address that produced the authorization
// signature.
func RecoverSigner(auth *models.TransferAuthorization, tokenName, tokenVersion string, chainID *big.Int) (string, error) {
	digest, err := HashAuthorization(auth, tokenName, tokenVersion, chainID)
	if err != nil {
		return "", err
	}

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sigBytes) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Recovery expects v in 0/1, wallets emit 27/28.
	sig := make([]byte, 65)
	copy(sig, sigBytes)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// VerifySignature checks that the authorization was signed by its declared
// payer.
func VerifySignature(auth *models.TransferAuthorization, tokenName, tokenVersion string, chainID *big.Int) error {
	signer, err := RecoverSigner(auth, tokenName, tokenVersion, chainID)
	if err != nil {
		return utils.WrapAPIError(err, utils.ErrMalformedSignature)
	}

	if !strings.EqualFold(signer, auth.From) {
		return utils.ErrSignatureMismatch
	}

	return nil
}
