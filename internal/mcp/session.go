// Package mcp drives a single tool call against a stdio MCP server.
//
// The server is an external binary spawned per call. The wire protocol is
// JSON-RPC 2.0, one message per line, with no other framing: an `initialize`
// handshake followed by exactly one `tools/call`. A Session is single-flight
// and single-use; the child process is always torn down before CallTool
// returns, whatever the outcome.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/linebuf"
)

const protocolVersion = "2024-11-05"

// Fixed correlation ids. Only one request is ever outstanding, so the ids
// never need to be generated.
const (
	initializeID = 1
	toolCallID   = 2
)

const defaultTimeout = 30 * time.Second

// Fault kinds. Callers match with errors.Is.
var (
	ErrTimeout     = errors.New("mcp: deadline exceeded before tool response")
	ErrProcessExit = errors.New("mcp: tool process exited before responding")
	ErrProtocol    = errors.New("mcp: tool returned an error")
	ErrSessionUsed = errors.New("mcp: session already used")
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// callToolResult is the MCP CallToolResult shape; the payload we care about
// lives at content[0].text.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// Session owns one child MCP process for the duration of one tool call.
type Session struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger

	// lineLimit overrides the stdout line ceiling; 0 uses linebuf's default.
	lineLimit int

	mu   sync.Mutex
	used bool
}

func NewSession(command string, args []string, timeout time.Duration, logger *slog.Logger) *Session {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Session{
		command: command,
		args:    args,
		timeout: timeout,
		logger:  logger,
	}
}

// CallTool spawns the tool binary, performs the initialize handshake, issues
// one tools/call and returns the text payload of the correlated result.
//
// Lines on stdout that are not valid JSON, or that are valid but match
// neither the handshake ack nor the call's correlation id, are ignored. A
// result that is missing the expected content shape resolves to an empty
// payload rather than an error. The child is killed and reaped on every
// return path.
func (s *Session) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return "", ErrSessionUsed
	}
	s.used = true
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.Command(s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", s.command, err)
	}

	var waitOnce sync.Once
	var waitErr error
	wait := func() error {
		waitOnce.Do(func() { waitErr = cmd.Wait() })
		return waitErr
	}

	// Messages decoded off stdout. The channel closes when the stream does.
	msgCh := make(chan rpcResponse, 8)
	go s.readLoop(stdout, msgCh)
	go s.drainStderr(stderr)

	// Teardown runs on every path: kill, drain the reader so it is not
	// blocked sending, then reap.
	defer func() {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		for range msgCh {
		}
		_ = wait()
	}()

	if err := writeRequest(stdin, rpcRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{},
		},
		ID: initializeID,
	}); err != nil {
		return "", fmt.Errorf("write initialize: %w", err)
	}

	handshaken := false
	for {
		select {
		case <-cctx.Done():
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
			}
			return "", cctx.Err()

		case msg, ok := <-msgCh:
			if !ok {
				// stdout closed before a terminal message arrived. The
				// child may still be running, so kill it before reaping;
				// otherwise wait() blocks past the deadline and leaks
				// the process.
				_ = cmd.Process.Kill()
				err := wait()
				if err != nil {
					return "", fmt.Errorf("%w: %v", ErrProcessExit, err)
				}
				return "", ErrProcessExit
			}

			if !handshaken {
				if isHandshakeAck(msg) {
					handshaken = true
					if err := writeRequest(stdin, rpcRequest{
						JSONRPC: "2.0",
						Method:  "tools/call",
						Params: map[string]any{
							"name":      tool,
							"arguments": args,
						},
						ID: toolCallID,
					}); err != nil {
						return "", fmt.Errorf("write tools/call: %w", err)
					}
				}
				continue
			}

			if msg.ID != toolCallID {
				continue
			}
			if msg.Error != nil {
				return "", fmt.Errorf("%w: %s", ErrProtocol, msg.Error.Message)
			}
			if msg.Result == nil {
				continue
			}
			return extractPayload(s.logger, tool, msg.Result), nil
		}
	}
}

// readLoop feeds raw stdout chunks through the line buffer and forwards every
// line that parses as a JSON-RPC response. Anything else on the stream is
// discarded.
func (s *Session) readLoop(stdout io.Reader, msgCh chan<- rpcResponse) {
	defer close(msgCh)
	lr := linebuf.NewWithLimit(s.lineLimit)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			lines, lerr := lr.Feed(buf[:n])
			for _, line := range lines {
				var msg rpcResponse
				if json.Unmarshal([]byte(line), &msg) == nil {
					msgCh <- msg
				}
			}
			if lerr != nil {
				s.logger.Warn("tool output line exceeds limit", "command", s.command)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) drainStderr(stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			s.logger.Debug("tool stderr", "command", s.command, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func writeRequest(w io.Writer, req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// isHandshakeAck recognizes the initialize response by the presence of
// result.protocolVersion.
func isHandshakeAck(msg rpcResponse) bool {
	if msg.Result == nil {
		return false
	}
	var res struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		return false
	}
	return res.ProtocolVersion != ""
}

// extractPayload pulls content[0].text out of a tools/call result. A result
// that is missing the expected shape is downgraded to an empty payload.
func extractPayload(logger *slog.Logger, tool string, result json.RawMessage) string {
	var res callToolResult
	if err := json.Unmarshal(result, &res); err != nil {
		logger.Warn("malformed tool result", "tool", tool, "error", err)
		return ""
	}
	if len(res.Content) == 0 {
		logger.Warn("tool result has no content", "tool", tool)
		return ""
	}
	return res.Content[0].Text
}
