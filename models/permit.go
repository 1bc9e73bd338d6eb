package models

// TransferAuthorization is a signed EIP-3009 transferWithAuthorization
// permit. All numeric fields are decimal strings in token minor units or
// unix seconds; the nonce is a random 32-byte hex value tracked by the
// token contract, and the signature is the 65-byte r||s||v hex encoding.
type TransferAuthorization struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

type TypedDataDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type AuthorizationMessage struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// AuthorizationTemplate is the EIP-712 signing payload handed to the client
// at checkout initialization. The client signs it as-is and returns only the
// signature; the server rebuilds the authorization from the stored template
// so a tampered message cannot be substituted at completion time.
type AuthorizationTemplate struct {
	Domain      TypedDataDomain             `json:"domain"`
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Message     AuthorizationMessage        `json:"message"`
}

// Authorization materializes the signed permit described by the template.
func (t *AuthorizationTemplate) Authorization(signature string) *TransferAuthorization {
	return &TransferAuthorization{
		Token:       t.Domain.VerifyingContract,
		From:        t.Message.From,
		To:          t.Message.To,
		Value:       t.Message.Value,
		ValidAfter:  t.Message.ValidAfter,
		ValidBefore: t.Message.ValidBefore,
		Nonce:       t.Message.Nonce,
		Signature:   signature,
	}
}
