// Package nip74 contains the request/result envelope and event helpers
// used to reach a Cashu mint over Nostr relays.
package nip74

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type OperationMethod int

const (
	Info OperationMethod = iota
	GetMintQuote
	CheckMintQuote
	Mint
	GetMeltQuote
	CheckMeltQuote
	Melt
)

var methodTags = [...]string{
	Info:           "info",
	GetMintQuote:   "get_mint_quote",
	CheckMintQuote: "check_mint_quote",
	Mint:           "mint",
	GetMeltQuote:   "get_melt_quote",
	CheckMeltQuote: "check_melt_quote",
	Melt:           "melt",
}

// Methods lists every operation in declaration order.
var Methods = []OperationMethod{Info, GetMintQuote, CheckMintQuote, Mint, GetMeltQuote, CheckMeltQuote, Melt}

var (
	ErrUnknownMethod  = errors.New("unknown operation method")
	ErrUnknownStatus  = errors.New("unknown result status")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidMessage = errors.New("invalid nip-74 message")
)

func (m OperationMethod) String() string {
	if m < 0 || int(m) >= len(methodTags) {
		return "unknown"
	}
	return methodTags[m]
}

// ParseMethod maps a wire tag to its method. Unrecognized tags are an error.
func ParseMethod(tag string) (OperationMethod, error) {
	for i, t := range methodTags {
		if t == tag {
			return OperationMethod(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, tag)
}

func (m OperationMethod) MarshalJSON() ([]byte, error) {
	if m < 0 || int(m) >= len(methodTags) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, int(m))
	}
	return json.Marshal(methodTags[m])
}

func (m *OperationMethod) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("%w: method must be a string", ErrInvalidMessage)
	}
	method, err := ParseMethod(tag)
	if err != nil {
		return err
	}
	*m = method
	return nil
}

type ResultStatus int

const (
	Success ResultStatus = iota
	Error
)

func (s ResultStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s ResultStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case Success, Error:
		return json.Marshal(s.String())
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
}

func (s *ResultStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: status must be a string", ErrInvalidMessage)
	}
	switch str {
	case "success":
		*s = Success
	case "error":
		*s = Error
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, str)
	}
	return nil
}

// OperationRequest is the plaintext carried by a kind 27401 event.
// RequestId is assigned by the requester and is opaque to the mint.
type OperationRequest struct {
	Method    OperationMethod `json:"method"`
	RequestId string          `json:"request_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (r *OperationRequest) UnmarshalJSON(data []byte) error {
	var tempRequest struct {
		Method    *OperationMethod `json:"method"`
		RequestId *string          `json:"request_id"`
		Data      json.RawMessage  `json:"data,omitempty"`
	}

	if err := json.Unmarshal(data, &tempRequest); err != nil {
		return err
	}
	if tempRequest.Method == nil {
		return fmt.Errorf("%w: method", ErrMissingField)
	}
	if tempRequest.RequestId == nil {
		return fmt.Errorf("%w: request_id", ErrMissingField)
	}

	r.Method = *tempRequest.Method
	r.RequestId = *tempRequest.RequestId
	r.Data = tempRequest.Data
	return nil
}

type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ResultError) Error() string {
	return e.Code + ": " + e.Message
}

// OperationResult is the plaintext carried by a kind 27402 event.
// RequestId mirrors the request it answers.
type OperationResult struct {
	Status    ResultStatus    `json:"status"`
	RequestId string          `json:"request_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	// pointer so that omitempty works
	Error *ResultError `json:"error,omitempty"`
}

func (r *OperationResult) UnmarshalJSON(data []byte) error {
	var tempResult struct {
		Status    *ResultStatus   `json:"status"`
		RequestId *string         `json:"request_id"`
		Data      json.RawMessage `json:"data,omitempty"`
		Error     *ResultError    `json:"error,omitempty"`
	}

	if err := json.Unmarshal(data, &tempResult); err != nil {
		return err
	}
	if tempResult.Status == nil {
		return fmt.Errorf("%w: status", ErrMissingField)
	}
	if tempResult.RequestId == nil {
		return fmt.Errorf("%w: request_id", ErrMissingField)
	}

	r.Status = *tempResult.Status
	r.RequestId = *tempResult.RequestId
	r.Data = tempResult.Data
	r.Error = tempResult.Error
	return nil
}

// NewSuccessResult answers req with data marshalled as the payload.
func NewSuccessResult(req OperationRequest, data any) (OperationResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return OperationResult{}, fmt.Errorf("error marshaling result data: %v", err)
	}
	return OperationResult{
		Status:    Success,
		RequestId: req.RequestId,
		Data:      payload,
	}, nil
}

// NewErrorResult answers req with a business error the requester will see.
func NewErrorResult(req OperationRequest, code, message string) OperationResult {
	return OperationResult{
		Status:    Error,
		RequestId: req.RequestId,
		Error:     &ResultError{Code: code, Message: message},
	}
}

// NewRequestID returns a fresh v4 UUID string.
func NewRequestID() string {
	return uuid.NewString()
}
