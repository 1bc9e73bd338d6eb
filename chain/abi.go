package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/perstream/checkout/models"
)

const (
	functionTransferWithAuthorization = "transferWithAuthorization"
	functionAuthorizationState        = "authorizationState"
	functionTransfer                  = "transfer"
	functionBalanceOf                 = "balanceOf"

	txStatusSuccess = 1
)

var (
	// EIP-3009 entry point. Moves funds on a signed authorization, so the
	// payer needs no allowance and pays no gas.
	transferWithAuthorizationABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	authorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	erc20TransferABI = []byte(`[
		{
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "transfer",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	erc20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// SplitSignature breaks a 65-byte r||s||v hex signature into the components
// transferWithAuthorization takes on chain. Recovery IDs 0/1 are normalized
// to 27/28.
func SplitSignature(signature string) (r [32]byte, s [32]byte, v uint8, err error) {
	sigBytes, err := hexToBytes(signature)
	if err != nil {
		return r, s, 0, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sigBytes) != 65 {
		return r, s, 0, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v = sigBytes[64]
	if v < 27 {
		v += 27
	}

	return r, s, v, nil
}

// transferAuthorizationArgs converts a signed authorization into the
// argument list of the v,r,s transferWithAuthorization overload.
func transferAuthorizationArgs(auth *models.TransferAuthorization) ([]interface{}, error) {
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

	nonceBytes, err := hexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	r, s, v, err := SplitSignature(auth.Signature)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		v,
		r,
		s,
	}, nil
}

// EncodeTransferWithAuthorization packs the full transferWithAuthorization
// calldata for a signed authorization. Used as the inner call of sponsored
// operations, where the bundler submits the bytes on the payer's behalf.
func EncodeTransferWithAuthorization(auth *models.TransferAuthorization) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(transferWithAuthorizationABI)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	args, err := transferAuthorizationArgs(auth)
	if err != nil {
		return "", err
	}

	data, err := contractABI.Pack(functionTransferWithAuthorization, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack calldata: %w", err)
	}

	return "0x" + hex.EncodeToString(data), nil
}
