package utils

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

func (ve ValidationErrors) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error":   "Validation failed",
		"details": ve,
	}
}

var (
	addressPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	numericPattern   = regexp.MustCompile(`^[0-9]+$`)
	hexPattern       = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	signaturePattern = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	noncePattern     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// IsAddress reports whether s is a 20-byte 0x-prefixed hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsNumeric reports whether s is a base-10 unsigned integer string.
func IsNumeric(s string) bool {
	return numericPattern.MatchString(s)
}

// IsHex reports whether s is 0x-prefixed hex of any length.
func IsHex(s string) bool {
	return hexPattern.MatchString(s)
}

// IsTransferSignature reports whether s is a 65-byte r||s||v hex signature.
func IsTransferSignature(s string) bool {
	return signaturePattern.MatchString(s)
}

// IsAuthorizationNonce reports whether s is a 32-byte hex nonce.
func IsAuthorizationNonce(s string) bool {
	return noncePattern.MatchString(s)
}

func ValidateString(value, fieldName string, minLen, maxLen int, required bool) *ValidationError {
	if required && strings.TrimSpace(value) == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}

	if value != "" {
		if utf8.RuneCountInString(value) < minLen {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at least %d characters", minLen)}
		}
		if utf8.RuneCountInString(value) > maxLen {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at most %d characters", maxLen)}
		}
	}

	return nil
}

func ValidateAddress(addr, fieldName string) *ValidationError {
	if addr == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if !IsAddress(addr) {
		return &ValidationError{Field: fieldName, Message: "is not a valid address"}
	}
	return nil
}

// ValidateAmount checks a minor-unit decimal string amount. Amounts stay
// strings end to end; this parses only to compare against zero.
func ValidateAmount(amount, fieldName string) *ValidationError {
	if amount == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if !IsNumeric(amount) {
		return &ValidationError{Field: fieldName, Message: "must be a base-10 integer string"}
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return &ValidationError{Field: fieldName, Message: "must be greater than 0"}
	}

	return nil
}

func ValidateUUID(id, fieldName string) *ValidationError {
	if id == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{Field: fieldName, Message: "is not a valid UUID"}
	}

	return nil
}

func ValidateRequestSize(r *http.Request, maxSize int64) error {
	if r.ContentLength > maxSize {
		return &APIError{
			Code:    http.StatusRequestEntityTooLarge,
			Message: "Request body too large",
		}
	}
	return nil
}

func ValidateJSONRequest(w http.ResponseWriter, r *http.Request, maxSize int64) error {
	if err := ValidateRequestSize(r, maxSize); err != nil {
		return err
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && !strings.HasPrefix(contentType, "application/json;") {
		return &APIError{
			Code:    http.StatusUnsupportedMediaType,
			Message: "Content-Type must be application/json",
		}
	}

	return nil
}

func WriteValidationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if validationErr, ok := err.(ValidationErrors); ok {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(validationErr.ToJSON())
	} else if apiErr, ok := err.(*APIError); ok {
		w.WriteHeader(apiErr.Code)
		json.NewEncoder(w).Encode(apiErr)
	} else {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": err.Error(),
		})
	}
}
