// Package stratum implements the Stratum V1 mining protocol: message
// parsing, session state, and the TCP and WebSocket transports carrying it.
package stratum

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client-to-server and server-to-client method names.
const (
	MethodSubscribe       = "mining.subscribe"
	MethodAuthorize       = "mining.authorize"
	MethodSubmit          = "mining.submit"
	MethodGetTransactions = "mining.get_transactions"
	MethodNotify          = "mining.notify"
	MethodSetDifficulty   = "mining.set_difficulty"
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response. On the wire it is the triple
// [code, message, data], not an object.
type Error struct {
	Code    int
	Message string
	Data    any
}

// MarshalJSON renders the error as the [code, message, data] array form.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Code, e.Message, e.Data})
}

// UnmarshalJSON accepts both the array form and the object form some
// clients emit.
func (e *Error) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err == nil {
		if len(triple) < 2 {
			return fmt.Errorf("error array has %d elements, want at least 2", len(triple))
		}
		if err := json.Unmarshal(triple[0], &e.Code); err != nil {
			return fmt.Errorf("error code: %w", err)
		}
		if err := json.Unmarshal(triple[1], &e.Message); err != nil {
			return fmt.Errorf("error message: %w", err)
		}
		if len(triple) > 2 {
			if err := json.Unmarshal(triple[2], &e.Data); err != nil {
				return fmt.Errorf("error data: %w", err)
			}
		}
		return nil
	}

	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Code = obj.Code
	e.Message = obj.Message
	e.Data = obj.Data
	return nil
}

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

// SubscribeRequest represents a mining.subscribe request
type SubscribeRequest struct {
	UserAgent string
	SessionID string
}

// AuthorizeRequest represents a mining.authorize request
type AuthorizeRequest struct {
	Username string
	Password string
}

// SubmitRequest represents a mining.submit request
type SubmitRequest struct {
	Username    string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{
		ID:     nil,
		Method: method,
		Params: params,
	}
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse returns true if the message is a response
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsNotification returns true if the message is a notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// ParseUsername splits an "address.worker" username. The worker name
// defaults when the dot part is absent or empty.
func ParseUsername(username, defaultWorker string) (address, worker string) {
	address = username
	worker = defaultWorker
	if i := strings.IndexByte(username, '.'); i >= 0 {
		address = username[:i]
		if rest := username[i+1:]; rest != "" {
			worker = rest
		}
	}
	return address, worker
}

// ParseSubscribeRequest parses mining.subscribe parameters. Both the user
// agent and the resume session id are optional.
func ParseSubscribeRequest(params []any) (*SubscribeRequest, error) {
	req := &SubscribeRequest{}

	if len(params) > 0 {
		if userAgent, ok := params[0].(string); ok {
			req.UserAgent = userAgent
		}
	}
	if len(params) > 1 {
		if sessionID, ok := params[1].(string); ok {
			req.SessionID = sessionID
		}
	}
	return req, nil
}

// ParseAuthorizeRequest parses mining.authorize parameters
func ParseAuthorizeRequest(params []any) (*AuthorizeRequest, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	username, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("username must be string")
	}

	req := &AuthorizeRequest{Username: username}
	if len(params) > 1 {
		if password, ok := params[1].(string); ok {
			req.Password = password
		}
	}
	return req, nil
}

// ParseSubmitRequest parses mining.submit parameters
func ParseSubmitRequest(params []any) (*SubmitRequest, error) {
	if len(params) < 5 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	username, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("username must be string")
	}

	jobID, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("job_id must be string")
	}

	extraNonce2, ok := params[2].(string)
	if !ok {
		return nil, fmt.Errorf("extranonce2 must be string")
	}

	nTime, ok := params[3].(string)
	if !ok {
		return nil, fmt.Errorf("ntime must be string")
	}

	nonce, ok := params[4].(string)
	if !ok {
		return nil, fmt.Errorf("nonce must be string")
	}

	return &SubmitRequest{
		Username:    username,
		JobID:       jobID,
		ExtraNonce2: extraNonce2,
		NTime:       nTime,
		Nonce:       nonce,
	}, nil
}
