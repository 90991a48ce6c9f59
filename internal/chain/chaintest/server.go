// Package chaintest provides an in-process JSON-RPC node for tests.
package chaintest

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request is a decoded JSON-RPC request as received by the server.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// Error is returned by handlers to produce a JSON-RPC error response.
type Error struct {
	Code    int
	Message string
	Data    string
}

func (e *Error) Error() string { return e.Message }

// Revert builds the error a node returns for a reverted eth_call or estimate.
func Revert(reason string) *Error {
	return &Error{Code: 3, Message: "execution reverted: " + reason, Data: hexutil.Encode(EncodeErrorString(reason))}
}

// EncodeErrorString encodes reason as Error(string) revert data.
func EncodeErrorString(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

type MethodHandler func(params []json.RawMessage) (any, error)

// CallHandler answers an eth_call against one contract selector.
type CallHandler func(from common.Address, data []byte) ([]byte, error)

type Server struct {
	*httptest.Server

	t        testing.TB
	mu       sync.Mutex
	methods  map[string]MethodHandler
	calls    map[string]CallHandler
	requests []Request
}

// NewServer starts a node answering chain id 56 with empty defaults for the
// write-path methods. Tests override what they care about.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{t: t, methods: map[string]MethodHandler{}, calls: map[string]CallHandler{}}
	s.Method("eth_chainId", Static("0x38"))
	s.Method("eth_gasPrice", Static("0x3b9aca00"))
	s.Method("eth_getTransactionCount", Static("0x0"))
	s.Method("eth_estimateGas", Static("0x30d40"))
	s.Method("eth_getBalance", Static("0xde0b6b3a7640000"))
	s.Method("eth_blockNumber", Static("0x100"))
	s.Method("eth_call", s.handleCall)
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Static returns a handler answering every request with result.
func Static(result any) MethodHandler {
	return func([]json.RawMessage) (any, error) { return result, nil }
}

func (s *Server) Method(name string, handler MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = handler
}

// Call registers a handler for calls to the given contract and selector.
func (s *Server) Call(to common.Address, selector []byte, handler CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[callKey(to, selector)] = handler
}

// CallABI registers an ABI method handler: inputs are unpacked and the
// returned values are packed as the method's outputs.
func (s *Server) CallABI(to common.Address, contract abi.ABI, method string, handler func(args []any) ([]any, error)) {
	m, ok := contract.Methods[method]
	if !ok {
		s.t.Fatalf("chaintest: unknown abi method %s", method)
	}
	s.Call(to, m.ID, func(_ common.Address, data []byte) ([]byte, error) {
		args, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		outs, err := handler(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(outs...)
	})
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests used the method.
func (s *Server) Count(method string) int {
	n := 0
	for _, req := range s.Requests() {
		if req.Method == method {
			n++
		}
	}
	return n
}

type callArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (s *Server) handleCall(params []json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, &Error{Code: -32602, Message: "missing call params"}
	}
	var args callArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, &Error{Code: -32602, Message: err.Error()}
	}
	data := args.Input
	if len(data) == 0 {
		data = args.Data
	}
	if args.To == nil || len(data) < 4 {
		return nil, &Error{Code: -32602, Message: "call without target or selector"}
	}
	s.mu.Lock()
	handler, ok := s.calls[callKey(*args.To, data[:4])]
	s.mu.Unlock()
	if !ok {
		return nil, Revert("no handler")
	}
	out, err := handler(args.From, data)
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(out), nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trimmed := strings.TrimSpace(string(body))
	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(trimmed, "[") {
		var batch []Request
		if err := json.Unmarshal(body, &batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		responses := make([]json.RawMessage, 0, len(batch))
		for _, req := range batch {
			responses = append(responses, s.dispatch(req))
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, _ = w.Write(s.dispatch(req))
}

func (s *Server) dispatch(req Request) json.RawMessage {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	handler, ok := s.methods[req.Method]
	s.mu.Unlock()
	id := rawIDOrDefault(req.ID)
	if !ok {
		return errorResponse(id, &Error{Code: -32601, Message: "method not found: " + req.Method})
	}
	result, err := handler(req.Params)
	if err != nil {
		rpcErr, ok := err.(*Error)
		if !ok {
			rpcErr = &Error{Code: -32000, Message: err.Error()}
		}
		return errorResponse(id, rpcErr)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, &Error{Code: -32603, Message: err.Error()})
	}
	return json.RawMessage(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, id, encoded))
}

func errorResponse(id string, e *Error) json.RawMessage {
	payload := map[string]any{"code": e.Code, "message": e.Message}
	if e.Data != "" {
		payload["data"] = e.Data
	}
	encoded, _ := json.Marshal(payload)
	return json.RawMessage(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":%s}`, id, encoded))
}

func rawIDOrDefault(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}

func callKey(to common.Address, selector []byte) string {
	return strings.ToLower(to.Hex()) + ":" + hexutil.Encode(selector[:4])
}

// Hex encodes an integer as a JSON-RPC quantity.
func Hex(v int64) string {
	return hexutil.EncodeBig(big.NewInt(v))
}

// Receipt answers eth_getTransactionReceipt with a mined receipt for the
// requested hash. status is 1 for success, 0 for a revert.
func Receipt(status uint64, block int64) MethodHandler {
	return func(params []json.RawMessage) (any, error) {
		var hash common.Hash
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &hash)
		}
		return map[string]any{
			"type":              "0x0",
			"status":            hexutil.EncodeUint64(status),
			"cumulativeGasUsed": "0x5208",
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x3b9aca00",
			"logsBloom":         hexutil.Encode(make([]byte, 256)),
			"logs":              []any{},
			"transactionHash":   hash.Hex(),
			"transactionIndex":  "0x0",
			"blockHash":         common.BigToHash(big.NewInt(block)).Hex(),
			"blockNumber":       Hex(block),
			"contractAddress":   nil,
		}, nil
	}
}
