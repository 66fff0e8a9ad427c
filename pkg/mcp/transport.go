package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// maxMessage bounds one JSON-RPC line.
const maxMessage = 4 << 20

// ErrParse wraps a message that is not valid JSON-RPC. Reading can
// continue after it.
var ErrParse = errors.New("failed to parse message")

// Transport reads newline-delimited JSON-RPC from a reader and writes
// responses to a writer.
type Transport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	log     *zap.Logger
	mu      sync.Mutex
}

// NewTransport creates a new stdio transport.
func NewTransport(reader io.Reader, writer io.Writer, log *zap.Logger) *Transport {
	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 64*1024), maxMessage)
	return &Transport{
		scanner: sc,
		writer:  writer,
		log:     log,
	}
}

// ReadMessage reads the next JSON-RPC message. It returns io.EOF when
// the input is closed.
func (t *Transport) ReadMessage() (*Request, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.log.Debug("received message", zap.ByteString("raw", line))

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return &req, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return nil, io.EOF
}

func (t *Transport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Debug("sending message", zap.ByteString("raw", data))
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// SendResult sends a successful response.
func (t *Transport) SendResult(id, result any) error {
	return t.write(&Response{JSONRPC: "2.0", ID: id, Result: result})
}

// SendError sends an error response.
func (t *Transport) SendError(id any, code int, message string, data any) error {
	return t.write(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

// SendNotification sends a message that expects no reply.
func (t *Transport) SendNotification(method string, params any) error {
	return t.write(&notification{JSONRPC: "2.0", Method: method, Params: params})
}
