package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

var (
	ErrNotYetMined         = errors.New("transaction not yet mined")
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Client wraps an RPC connection to the settlement chain together with the
// operator key that signs fee-bearing transactions.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	operator   common.Address
	gasLimit   uint64
	pollConfig *utils.RetryConfig
}

func CreateClient(cfg config.ChainConfig) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	pollConfig := utils.ReceiptPollConfig(cfg.ReceiptAttempts, cfg.ReceiptInterval)
	pollConfig.RetryableErrors = []error{ErrNotYetMined}

	return &Client{
		eth:        eth,
		chainID:    big.NewInt(cfg.ChainID),
		privateKey: privateKey,
		operator:   crypto.PubkeyToAddress(privateKey.PublicKey),
		gasLimit:   cfg.TransferGasLimit,
		pollConfig: pollConfig,
	}, nil
}

func (c *Client) OperatorAddress() string {
	return c.operator.Hex()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Close() {
	c.eth.Close()
}

// VerifyNetwork checks that the node on the other end of the RPC connection
// serves the configured chain.
func (c *Client) VerifyNetwork(ctx context.Context) error {
	nodeChainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query node chain ID: %w", err)
	}
	if nodeChainID.Cmp(c.chainID) != 0 {
		return fmt.Errorf("node serves chain %s, configured for chain %s", nodeChainID, c.chainID)
	}
	return nil
}

// BalanceOf returns the token balance of an account in minor units.
func (c *Client) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	result, err := c.readContract(ctx, token, erc20BalanceOfABI, functionBalanceOf,
		common.HexToAddress(account))
	if err != nil {
		return nil, err
	}

	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from balanceOf")
	}

	return balance, nil
}

// AuthorizationUsed reports whether the authorizer has already consumed the
// nonce on the token contract.
func (c *Client) AuthorizationUsed(ctx context.Context, token, authorizer, nonce string) (bool, error) {
	nonceBytes, err := hexToBytes(nonce)
	if err != nil {
		return false, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(nonceBytes) != 32 {
		return false, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}
	var nonce32 [32]byte
	copy(nonce32[:], nonceBytes)

	result, err := c.readContract(ctx, token, authorizationStateABI, functionAuthorizationState,
		common.HexToAddress(authorizer), nonce32)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}

	return used, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// SubmitTransferWithAuthorization submits a signed authorization as a
// conventional transaction paid for by the operator wallet.
func (c *Client) SubmitTransferWithAuthorization(ctx context.Context, token string, auth *models.TransferAuthorization) (string, error) {
	args, err := transferAuthorizationArgs(auth)
	if err != nil {
		return "", err
	}

	return c.writeContract(ctx, token, transferWithAuthorizationABI, functionTransferWithAuthorization, args...)
}

// SubmitTokenTransfer moves tokens from the operator wallet with a plain
// ERC-20 transfer.
func (c *Client) SubmitTokenTransfer(ctx context.Context, token, to string, value *big.Int) (string, error) {
	return c.writeContract(ctx, token, erc20TransferABI, functionTransfer,
		common.HexToAddress(to), value)
}

// WaitForReceipt polls until the transaction is mined, then checks its
// status. A reverted transaction stops the poll immediately.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)

	return utils.Retry(ctx, c.pollConfig, func() error {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotYetMined, txHash)
		}
		if receipt.Status != txStatusSuccess {
			return fmt.Errorf("%w: %s", ErrTransactionReverted, txHash)
		}
		return nil
	})
}

func (c *Client) readContract(ctx context.Context, address string, abiBytes []byte, functionName string, args ...interface{}) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	addr := common.HexToAddress(address)
	msg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}

	result, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

func (c *Client) writeContract(ctx context.Context, address string, abiBytes []byte, functionName string, args ...interface{}) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(address)
	tx := types.NewTransaction(nonce, to, big.NewInt(0), c.gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}
