package lsp

import (
	"encoding/json"
	"errors"
	"strconv"

	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

// JSON-RPC error codes used when answering server requests.
const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *responseError  `json:"error"`
}

// envelope frames JSON-RPC 2.0 messages.
type envelope struct{}

func (envelope) EncodeRequest(id int64, method string, params any) any {
	return request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

func (envelope) Decode(raw json.RawMessage) (jsonrpc.Incoming, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return jsonrpc.Incoming{}, err
	}
	hasID := !jsonrpc.IsNull(m.ID)
	switch {
	case m.Method != "" && hasID:
		return jsonrpc.Incoming{Kind: jsonrpc.Request, RawID: m.ID, Method: m.Method, Params: m.Params, Raw: raw}, nil
	case m.Method != "":
		return jsonrpc.Incoming{Kind: jsonrpc.Notification, Method: m.Method, Params: m.Params, Raw: raw}, nil
	case hasID:
		id, err := parseID(m.ID)
		if err != nil {
			return jsonrpc.Incoming{}, err
		}
		in := jsonrpc.Incoming{Kind: jsonrpc.Response, ID: id, Result: m.Result, Raw: raw}
		if m.Error != nil {
			in.Err = schema.Remote(strconv.Itoa(m.Error.Code), m.Error.Message)
		}
		return in, nil
	default:
		return jsonrpc.Incoming{}, errors.New("message has neither id nor method")
	}
}

func parseID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}
