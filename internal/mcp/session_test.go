package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shSession(t *testing.T, script string, timeout time.Duration) *Session {
	t.Helper()
	return NewSession("/bin/sh", []string{"-c", script}, timeout, discardLogger())
}

func TestCallTool_Success(t *testing.T) {
	// The fake server acks the handshake, then emits a non-JSON line and a
	// response with the wrong correlation id before the real result. Both
	// must be ignored.
	script := `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05"}}'
read line
echo 'starting up, please wait'
echo '{"jsonrpc":"2.0","id":99,"result":{"content":[{"type":"text","text":"wrong"}]}}'
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"UserID,Text\nU1,hello"}]}}'
`
	s := shSession(t, script, 5*time.Second)

	payload, err := s.CallTool(context.Background(), "conversations_history", map[string]any{
		"channel_id": "C1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != "UserID,Text\nU1,hello" {
		t.Errorf("unexpected payload: %q", payload)
	}
}

func TestCallTool_Timeout(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "alive")

	// Never acks the handshake. If the child survived the timeout it would
	// create the marker file.
	script := "sleep 0.5; touch " + marker
	s := shSession(t, script, 100*time.Millisecond)

	start := time.Now()
	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call did not return promptly on timeout: %s", elapsed)
	}

	time.Sleep(time.Second)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("child process outlived the session teardown")
	}
}

func TestCallTool_StdoutClosedButChildAlive(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "alive")

	// The child closes its output streams but keeps running. The session
	// must treat the closed stream as a process-exit fault and kill the
	// child rather than block on it.
	script := "exec 1>&- 2>&-; sleep 0.5; touch " + marker
	s := shSession(t, script, 5*time.Second)

	start := time.Now()
	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrProcessExit) {
		t.Fatalf("expected ErrProcessExit, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call did not return promptly after stdout closed: %s", elapsed)
	}

	time.Sleep(time.Second)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("child process outlived the session teardown")
	}
}

func TestCallTool_OverlongLineKillsChild(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "alive")

	// The child floods stdout with an unterminated line past the ceiling,
	// then lingers. The stream fault must fail the call and tear the
	// child down.
	script := "read line; head -c 256 /dev/zero | tr '\\0' x; sleep 0.5; touch " + marker
	s := shSession(t, script, 5*time.Second)
	s.lineLimit = 64

	start := time.Now()
	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrProcessExit) {
		t.Fatalf("expected ErrProcessExit, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call did not return promptly on stream fault: %s", elapsed)
	}

	time.Sleep(time.Second)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("child process outlived the session teardown")
	}
}

func TestCallTool_ProcessExit(t *testing.T) {
	s := shSession(t, "exit 3", 5*time.Second)

	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrProcessExit) {
		t.Fatalf("expected ErrProcessExit, got %v", err)
	}
}

func TestCallTool_ProtocolError(t *testing.T) {
	script := `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05"}}'
read line
echo '{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"channel not found"}}'
`
	s := shSession(t, script, 5*time.Second)

	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestCallTool_MalformedResultIsEmptyPayload(t *testing.T) {
	script := `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05"}}'
read line
echo '{"jsonrpc":"2.0","id":2,"result":{}}'
`
	s := shSession(t, script, 5*time.Second)

	payload, err := s.CallTool(context.Background(), "conversations_history", nil)
	if err != nil {
		t.Fatalf("expected malformed result downgraded to empty payload, got %v", err)
	}
	if payload != "" {
		t.Errorf("expected empty payload, got %q", payload)
	}
}

func TestCallTool_SingleUse(t *testing.T) {
	script := `
read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05"}}'
read line
echo '{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"ok"}]}}'
`
	s := shSession(t, script, 5*time.Second)

	if _, err := s.CallTool(context.Background(), "conversations_history", nil); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	_, err := s.CallTool(context.Background(), "conversations_history", nil)
	if !errors.Is(err, ErrSessionUsed) {
		t.Fatalf("expected ErrSessionUsed on reuse, got %v", err)
	}
}

func TestCallTool_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	s := shSession(t, "sleep 5", 30*time.Second)
	_, err := s.CallTool(ctx, "conversations_history", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
