package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

// PaymasterClient speaks JSON-RPC to a sponsorship service. The service
// quotes and funds the fee fields of an abstracted transfer operation, then
// relays the completed operation to the execution network.
type PaymasterClient struct {
	url        string
	apiKey     string
	entryPoint string
	httpClient *http.Client
}

type PaymasterOptions struct {
	URL        string
	APIKey     string
	EntryPoint string
}

func CreatePaymasterClient(opts PaymasterOptions) *PaymasterClient {
	return &PaymasterClient{
		url:        strings.TrimSuffix(opts.URL, "/"),
		apiKey:     opts.APIKey,
		entryPoint: opts.EntryPoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *PaymasterClient) Name() string {
	return "paymaster"
}

// SponsorOperation asks the service to fund the operation's fees. The
// returned grant carries paymasterAndData plus the gas and fee fields the
// sponsor priced in.
func (c *PaymasterClient) SponsorOperation(ctx context.Context, op *models.TransferOperation) (*models.SponsorshipGrant, error) {
	var grant models.SponsorshipGrant
	if err := c.call(ctx, "pm_sponsorUserOperation", []interface{}{op, c.entryPoint}, &grant); err != nil {
		return nil, utils.WrapAPIError(err, utils.ErrSponsorshipUnavailable)
	}

	if grant.PaymasterAndData == "" {
		return nil, utils.WrapAPIError(fmt.Errorf("grant missing paymasterAndData"), utils.ErrSponsorshipUnavailable)
	}

	return &grant, nil
}

// SubmitOperation relays a fully sponsored operation and returns its
// operation hash.
func (c *PaymasterClient) SubmitOperation(ctx context.Context, op *models.TransferOperation) (string, error) {
	var opHash string
	if err := c.call(ctx, "eth_sendUserOperation", []interface{}{op, c.entryPoint}, &opHash); err != nil {
		return "", utils.WrapAPIError(err, utils.ErrSponsorshipUnavailable)
	}

	if opHash == "" {
		return "", utils.WrapAPIError(fmt.Errorf("empty operation hash"), utils.ErrSponsorshipUnavailable)
	}

	return opHash, nil
}

func (c *PaymasterClient) IsAvailable(ctx context.Context) bool {
	var entryPoints []string
	if err := c.call(ctx, "pm_supportedEntryPoints", []interface{}{}, &entryPoints); err != nil {
		return false
	}
	return true
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (c *PaymasterClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("paymaster error %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}
