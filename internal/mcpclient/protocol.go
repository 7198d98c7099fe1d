package mcpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const methodInitialized = "notifications/initialized"

// request is one outbound JSON-RPC line. ID is nil for notifications.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is one decoded response line.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`

	// Raw is the line exactly as read from the child.
	Raw json.RawMessage `json:"-"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolText joins the text content blocks of a tools/call result.
func (r *Response) ToolText() (string, error) {
	if r.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", r.Error.Code, r.Error.Message)
	}
	var res struct {
		Content []mcp.TextContent `json:"content"`
	}
	if err := json.Unmarshal(r.Result, &res); err != nil {
		return "", err
	}
	var parts []string
	for _, c := range res.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func encodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// envelope is the union of the fields any inbound line may carry.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// decodeLine parses one line. notification is true for server-initiated
// messages that carry a method and no id.
func decodeLine(line string) (resp *Response, notification bool, err error) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, false, &Error{Kind: ErrProtocolDecode, Raw: line, Err: err}
	}
	if env.Method != "" && isNullID(env.ID) {
		return nil, true, nil
	}
	return &Response{
		JSONRPC: env.JSONRPC,
		ID:      env.ID,
		Result:  env.Result,
		Error:   env.Error,
		Raw:     json.RawMessage(line),
	}, false, nil
}

func isNullID(id json.RawMessage) bool {
	t := bytes.TrimSpace(id)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func sameID(raw json.RawMessage, id int64) bool {
	t := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	return t == strconv.FormatInt(id, 10)
}
