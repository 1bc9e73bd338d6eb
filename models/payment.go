package models

type PaymentMethod string

const (
	PaymentMethodGasless     PaymentMethod = "gasless"
	PaymentMethodTraditional PaymentMethod = "traditional"
)

// PaymentRequest describes one value transfer. It is immutable and consumed
// exactly once by the payment service. Gasless requests carry the signed
// authorization the paymaster path settles; traditional requests are
// submitted directly as fee-bearing transactions.
type PaymentRequest struct {
	From          string                 `json:"from"`
	To            string                 `json:"to"`
	Amount        string                 `json:"amount"`
	Method        PaymentMethod          `json:"method,omitempty"`
	Authorization *TransferAuthorization `json:"authorization,omitempty"`
	Metadata      JSON                   `json:"metadata,omitempty"`
}

// PaymentResult carries the outcome of a single execution. Sponsored and
// FallbackUsed are mutually exclusive on success; a failed attempt may set
// neither. Failures never escape as errors, they land in Error. Code is the
// HTTP status a failure maps to at the transport layer; it never serializes.
type PaymentResult struct {
	Success         bool   `json:"success"`
	Sponsored       bool   `json:"sponsored"`
	FallbackUsed    bool   `json:"fallbackUsed"`
	OperationHash   string `json:"operationHash,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Error           string `json:"error,omitempty"`
	Code            int    `json:"-"`
}

// TransferOperation is the abstracted (account-abstraction style) transfer
// submitted through the paymaster and bundler. Gas and fee fields are zero
// until sponsorship merges the grant in.
type TransferOperation struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature,omitempty"`
}

// SponsorshipGrant is the paymaster's answer to a sponsorship request.
type SponsorshipGrant struct {
	PaymasterAndData     string `json:"paymasterAndData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
}

// Merge folds the grant's fee and paymaster fields into the operation.
func (op *TransferOperation) Merge(grant *SponsorshipGrant) {
	op.PaymasterAndData = grant.PaymasterAndData
	op.CallGasLimit = grant.CallGasLimit
	op.VerificationGasLimit = grant.VerificationGasLimit
	op.PreVerificationGas = grant.PreVerificationGas
	op.MaxFeePerGas = grant.MaxFeePerGas
	op.MaxPriorityFeePerGas = grant.MaxPriorityFeePerGas
}

// GasSavings reports what a sponsored transfer would have cost the payer.
// Reporting only; it never gates execution.
type GasSavings struct {
	GasUnits   uint64 `json:"gasUnits"`
	FeePerGas  string `json:"feePerGas"`
	NativeCost string `json:"nativeCost"`
	QuoteCost  string `json:"quoteCost,omitempty"`
	Currency   string `json:"currency"`
}

type EstimateSavingsRequest struct {
	Amount string `json:"amount"`
}

type BatchExecuteRequest struct {
	Requests []*PaymentRequest `json:"requests"`
}

type BatchSummary struct {
	Total        int `json:"total"`
	Successful   int `json:"successful"`
	GasSponsored int `json:"gasSponsored"`
	FallbackUsed int `json:"fallbackUsed"`
}

// BatchResult preserves input order: Results[i] always corresponds to
// Requests[i], regardless of which slots failed.
type BatchResult struct {
	Summary BatchSummary     `json:"summary"`
	Results []*PaymentResult `json:"results"`
}
