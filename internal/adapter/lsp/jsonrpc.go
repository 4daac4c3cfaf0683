package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// JSON-RPC error codes used when answering server requests.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeRequestFailed  = -32803
)

// ID is a JSON-RPC request id. The wire allows numbers and strings; the raw
// form is kept so replies to server requests echo it back unchanged.
type ID struct {
	raw json.RawMessage
}

// NumberID returns a numeric id.
func NumberID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// Int64 returns the numeric value of the id. Numeric strings are accepted.
func (id ID) Int64() (int64, bool) {
	if len(id.raw) == 0 {
		return 0, false
	}
	s := string(id.raw)
	if id.raw[0] == '"' {
		if err := json.Unmarshal(id.raw, &s); err != nil {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id ID) String() string { return string(id.raw) }

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty id")
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("string id: %w", err)
		}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("numeric id: %w", err)
		}
	default:
		return fmt.Errorf("id must be a number or string, got %s", b)
	}
	id.raw = append(id.raw[:0], b...)
	return nil
}

// Message is one decoded protocol message: *RequestMessage,
// *ResponseMessage or *NotificationMessage.
type Message interface {
	isMessage()
}

// RequestMessage is a server-to-client request that expects a reply.
type RequestMessage struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// ResponseMessage answers one of our requests.
type ResponseMessage struct {
	ID     ID
	Result json.RawMessage
	Error  *ResponseError
}

// NotificationMessage carries no id and expects no reply.
type NotificationMessage struct {
	Method string
	Params json.RawMessage
}

func (*RequestMessage) isMessage()      {}
func (*ResponseMessage) isMessage()     {}
func (*NotificationMessage) isMessage() {}

// ResponseError is the error object of a JSON-RPC response.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// wireMessage is the generic envelope every frame body is decoded into.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// DecodeMessage decodes a frame body into its concrete message type.
func DecodeMessage(body []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &lspDomain.ProtocolError{Reason: "invalid JSON body", Err: err}
	}
	if w.JSONRPC != "" && w.JSONRPC != "2.0" {
		return nil, &lspDomain.ProtocolError{Reason: fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC)}
	}

	switch {
	case w.Method != "" && w.ID != nil:
		return &RequestMessage{ID: *w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &NotificationMessage{Method: w.Method, Params: w.Params}, nil
	case w.ID != nil:
		return &ResponseMessage{ID: *w.ID, Result: w.Result, Error: w.Error}, nil
	case w.Error != nil:
		return nil, &lspDomain.ProtocolError{Reason: "error response without id: " + w.Error.Message}
	default:
		return nil, &lspDomain.ProtocolError{Reason: "message has neither method nor id"}
	}
}

type outgoingRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outgoingResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Result  any            `json:"result"`
	Error   *ResponseError `json:"error,omitempty"`
}

type outgoingError struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Error   *ResponseError `json:"error"`
}

// encodeRequest encodes a request (id set) or a notification (id nil).
func encodeRequest(id *ID, method string, params any) ([]byte, error) {
	data, err := json.Marshal(outgoingRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}
	return data, nil
}

func encodeResult(id ID, result any) ([]byte, error) {
	data, err := json.Marshal(outgoingResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

func encodeError(id ID, code int, message string) ([]byte, error) {
	data, err := json.Marshal(outgoingError{JSONRPC: "2.0", ID: id, Error: &ResponseError{Code: code, Message: message}})
	if err != nil {
		return nil, fmt.Errorf("marshal error response: %w", err)
	}
	return data, nil
}
